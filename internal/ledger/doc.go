// Package ledger persists migration progress in SQLite: the stage reached by
// every repository, the per-item records that make metadata import
// idempotent, the user, group and mirror mappings, and an audit trail of
// command runs. It is the single source of truth for resuming an
// interrupted migration.
package ledger
