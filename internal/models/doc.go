// Package models defines the domain entities for the ytq playlist manager.
//
// The package contains three groups of types:
//
// 1. Credential and quota accounting
//   - [Project] : An API credential with its quota group and priority
//   - [QuotaRecord] : Units consumed by one project on one provider day
//   - [ContextSwitch] : Audit record written when a batch moves to a sibling credential
//
// 2. Journal entities persisted by the repositories package
//   - [Batch] : A journaled multi-task operation with aggregate counters
//   - [Task] : One independent, idempotent unit of work inside a batch
//
// 3. Playlist state exchanged with the read and write paths
//   - [PlaylistSnapshot] : Metadata plus the ordered items of a playlist
//   - [Item] : A playlist entry keyed by its video ID
//
// Task status changes are restricted to the table in [CanTransition].
// The Repository[T] interface defines standard CRUD operations for database access.
package models
