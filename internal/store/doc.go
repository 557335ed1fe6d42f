// Package store provides persistence for namespaces, settings and gateway state.
//
// # Architecture
//
// Repository is the single persistence interface used by the service layer.
// Two implementations exist:
//
//   - SQLiteStore: write-through SQLite database (modernc.org/sqlite)
//   - MemoryStore: maps guarded by a mutex, checkpointed to a CBOR snapshot
//
// # Data Models
//
//   - Namespace: a tenant with managers, auditors, users and delegators
//   - Setting: the live record for a SettingPathKey (version ignored)
//   - SettingArchived: payloads superseded by an update, keyed at their version
//   - State: global managers, auditors, signing key name and API allow-list
//   - AuditEntry: append-only record of mutations
//
// Access-control predicates (CanRead, CanWriteSetting, HasKEKPermission, ...)
// are methods on Namespace so the rules live next to the data they inspect.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and enforced foreign keys:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Settings reference their namespace with ON DELETE RESTRICT, so deleting a
// namespace that still owns settings fails with ErrNotEmpty.
//
// # Error Handling
//
//   - ErrNotFound: entity doesn't exist
//   - ErrAlreadyExists: key already taken
//   - ErrNotEmpty: namespace still owns settings
//
// Other errors are wrapped with context using fmt.Errorf and %w.
package store
