// Package crypto seals secrets at rest. Discord webhook tokens are stored with AESGCM when
// TOKEN_ENCRYPTION_KEY is set and as plaintext through NoopService otherwise.
package crypto
