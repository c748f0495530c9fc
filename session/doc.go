// Package session provides the session registry: opaque-token sessions with an
// inactivity timeout, per-identity timeout policies and in-memory and
// Redis-backed storage.
//
// # Validity
//
// A session is valid while now - LastActive is below its timeout. Activity
// always refreshes LastSeen and refreshes LastActive only when the owning
// identity's policy extends on activity.
//
// # Binary encoding
//
// Redis records use a compact versioned binary format (see [Encode]). The
// session id is the key suffix and is not part of the payload.
//
// # What this package must NOT do
//
//   - Import authcore or any store package (no upward imports).
//   - Make credential decisions.
//   - Store the plaintext session token; only its SHA-256 is kept.
package session
