// Package authcore is an authentication security core: registration,
// password login with brute-force defenses, TOTP two-factor, opaque
// sessions, reset and verification tokens, and scoped API keys.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and the request and result value types. Rate windows, lockout counters
// and the token vault live under internal/ and are never exported. The
// [session], [store] and [password] packages are public so hosts can plug
// in their own backends.
//
// # What this package must NOT do
//
//   - Route HTTP, shape DTOs or deliver notifications. Hosts supply a
//     [Notifier] and put the client address on the context with
//     [WithClientIP].
//   - Log or audit secrets. Passwords, codes, tokens and keys never reach
//     the logger or an [AuditSink].
//   - Hold a storage lock while hashing a password.
//
// # Failure contract
//
// Every error matches one sentinel from errors.go and maps to one
// [ErrorKind] through [KindOf]. Login failures are padded to
// Security.MinFailureDuration and never reveal whether the email exists.
package authcore
