// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (streamer.go, subscription.go, announcement.go, action.go, ...) hold the shared
// types and the ports the reconciliation core talks to. No implementation code - just contracts and the
// small pure helpers that belong to the types themselves.
package domain
