// Package store defines the durable data model of authcore and the
// repository interfaces that backends implement.
//
// Two drivers ship with the module: memstore (process memory, used by tests
// and the demo) and sqlstore (sqlx over sqlite or postgres). Both are
// checked against the same conformance suite in storetest.
//
// Email lookups are exact-match. Identities are never deleted; deactivation
// flips [Identity.Active].
package store
