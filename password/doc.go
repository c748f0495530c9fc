// Package password implements password hashing, verification and the
// strength policy.
//
// # Output format
//
// [Argon2] hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Bcrypt] hashes use the standard $2a$ modular crypt format. Both hashers
// report weaker stored parameters through NeedsUpgrade so callers can re-hash
// on the next successful login.
//
// # Architecture boundaries
//
// Hashers own hashing and verification only. [CheckStrength] owns the
// composition rules; reuse checks are enforced by the engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
