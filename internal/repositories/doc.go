// Package repositories implements SQLite persistence for the import server's entities.
//
// Key Implementations:
//   - [JobRepository] : import job log with status queries and pruning of finished jobs
//
// Sequence numbers provide stable, human-readable ordering (e.g., job #42) independent of session ids and creation
// timestamps. The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
