// Package vault stores short-lived, single-use secrets keyed by purpose and
// subject: password reset tokens, email and phone verification codes and
// pending two-factor challenges.
//
// # Design
//
// Only the SHA-256 of a secret is persisted. Issuing for a (purpose, key)
// pair overwrites any earlier record. Consuming resolves to one of four
// outcomes:
//   - no record: [ErrNotFound]
//   - record past ExpiresAt: [ErrExpired], record removed
//   - hash mismatch: [ErrMismatch], record left untouched
//   - match: record removed and returned
//
// Redis records keep a grace TTL past ExpiresAt so an expired secret is
// reported as expired rather than missing.
//
// # What this package must NOT do
//
//   - Generate secrets or deliver them.
//   - Log or expose plaintext secrets.
package vault
