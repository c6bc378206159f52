// Package stores persists msrv run history in SQLite.
//
// Three tables are kept: runs, the ledger entries each run recorded, and the lifecycle events
// it emitted. Ledger entries carry the fingerprint of their run so that a later run with the
// same project, command and target can resume from them (see LoadEntries). Schema changes
// are applied with golang-migrate from the embedded migrations directory.
package stores
