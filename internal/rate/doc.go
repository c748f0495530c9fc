// Package rate implements sliding-window attempt counters for the global,
// per-address, and per-route scopes.
//
// # Window semantics
//
// Each key holds the ordered timestamps of accepted attempts. Entries older
// than the scope window are pruned lazily on read; there are no timers. Key
// layout:
//   - g                  global traffic
//   - ip:<addr>          per client address
//   - rt:<route>:<addr>  per route and client address
//
// Two stores are provided: [MemoryStore] (per-key locks) and [RedisStore]
// (one sorted set per key, scored by microsecond timestamp).
//
// # What this package must NOT do
//
//   - Decide what an attempt is; callers choose when to call [Limiter.Allow].
//   - Be imported outside the authcore module.
package rate
