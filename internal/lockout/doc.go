// Package lockout tracks consecutive failed password checks per identity and
// derives the two-tier backoff state from them.
//
// # Policy
//
// After each failure the counter n is incremented and the lock timestamp is
// recomputed:
//   - n in [SoftFrom, HardThreshold): advisory delay now + BaseDelay*2^(n-SoftFrom)
//   - n >= HardThreshold: hard lockout now + LockoutDuration
//
// A timestamp in the past reads as unlocked; nothing ever has to clear it.
// A successful authentication deletes the state. Stores drop a state
// Policy.Retention after its last failure, so keys that never succeed do not
// accumulate.
//
// # What this package must NOT do
//
//   - Decide whether a soft delay blocks a request; callers consult [State.Hard].
//   - Touch credential storage.
package lockout
