// Package permission provides a 64-bit permission mask and a registry that
// maps permission names to bit positions.
//
// Bit positions are assigned in registration order by [Registry.Register] and
// are stable for the lifetime of the registry. Persisted masks therefore
// depend on registration order; callers register a closed, fixed list.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import authcore or session.
//   - Grant implied permissions. Every bit stands alone.
package permission
