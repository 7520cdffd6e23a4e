// Package app provides the application service layer.
//
// Drives the periodic work (reconciliation passes, team sync) and exposes the administrative use cases:
// identity purge, on-demand passes and team syncs, dead letter inspection. Depends on domain interfaces
// and the core packages, not on concrete adapters.
package app
