// Package records persists installation records: which workloads are
// installed for which feature band in one install context.
//
// FileStore keeps marker files next to the installed content; SQLiteStore
// keeps the same set in a modernc.org/sqlite database.
package records
