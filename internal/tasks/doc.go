// Package tasks runs batch playlist operations under a daily quota.
//
// # Commands
//
// A batch command and its source descriptor are decomposed into tasks by [Decompose]:
//
//  1. copy : a playlist ID, or a file of "id[|new title]" lines
//     - Reads the source through the zero-quota extractor
//     - Creates the target playlist and journals its ID before filling it
//  2. sync : "source|target", or a file of such lines
//     - Makes the target's items and order match the source, keeping its metadata
//  3. apply : a TOML desired-state document ([LoadDesiredState])
//     - Makes each listed playlist match its entry, creating entries without an id
//
// # Execution
//
// [Engine.Run] journals a new batch and executes it; [Engine.Resume] re-enters a paused or
// interrupted one. Tasks run strictly one after another. For each task the engine selects a
// credential (holding a lease on it), reads state, computes a diff and writes it through the
// retry policy. Every call that reaches the provider is billed to the quota tracker.
//
// When a write reports QUOTA_EXCEEDED the engine asks the selector for a sibling in the same
// quota group and re-runs the task there. The diff is recomputed from fresh state, so work
// already done is not repeated. With no sibling left the task fails and the batch pauses.
// Other failures go to the batch handler, which skips the task or stops the run.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data.
// Updates use select with default to prevent blocking.
//
// # Dry runs
//
// [Engine.Preview] computes the write set and quota cost of each task on a small worker pool
// without touching the journal or the quota-costed API.
package tasks
