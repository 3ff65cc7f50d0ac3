// Package stores provides the persistence backends for the state engine.
//
// Two implementations of state.Backend are available:
//
//   - SQLiteStore: a single-file SQLite database (modernc.org/sqlite) in WAL
//     mode with schema migrations managed by golang-migrate. Every
//     multi-statement operation runs in one IMMEDIATE transaction.
//   - BadgerStore: an embedded Badger key-value store for hosts that prefer a
//     directory-based LSM store. Operations run in Badger ACID transactions.
//
// Both persist resources, checkpoints and the audit trail with the same JSON
// row format, so a checkpoint snapshot reads the same whichever backend
// wrote it.
//
// OpenSQLite and OpenBadger make one self-healing attempt when the store at
// the configured path is unusable: the damaged file or directory is left in
// place for inspection, a fresh store is created at <path>.recovered-<unix>,
// and the original failure is returned by RecoveryWarning.
package stores
