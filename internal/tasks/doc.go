// Package tasks runs import jobs on the server side with real-time progress reporting.
//
// # Core Operation
//
// [ImportEngine.Run] takes a parsed reading list and the user's credentials:
//
//  1. Logs in through the [Follower]
//  2. Follows each title in list order, pacing requests with a rate limiter
//  3. Returns an [ImportResult] with per-title failures
//
// # Progress Reporting
//
// Every step is reported as a [ProgressUpdate] on the caller's channel. Sends block until the update is
// taken or the context ends, since each update becomes one event on the client's progress stream.
//
// A failing title does not stop the run; a failed login does.
package tasks
