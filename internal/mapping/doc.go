// Package mapping translates GitLab entities into their Forgejo equivalents.
//
// The translation functions are pure: they never perform network I/O and
// report unresolved references as MappingError values instead of failing.
// UserResolver is the one stateful piece; it consults the ledger and both
// forges to turn a source account into a target login.
package mapping
