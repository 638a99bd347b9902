// Package repositories provides the SQLite persistence layer for the journal and quota accounting.
//
// Repositories own their SQL and expose small typed operations. Multi-row changes that must
// stay consistent (a task status change and its batch counters) run inside one transaction.
package repositories
