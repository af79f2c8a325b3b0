// Package tracker follows one import session from submission to its terminal event.
//
// # Components
//
//   - [Controller] owns the session lifecycle: [Controller.Start], [Controller.Cancel] and [Controller.Teardown].
//   - [ProgressTracker] reads the per-session progress stream and signals completion or failure.
//   - [QueueTracker] reads the shared queue broadcast and falls back to polling the per-session queue
//     endpoint when the broadcast cannot be used.
//
// # Execution model
//
// Every channel callback, every poll result and every public Controller operation runs on a single
// [transport.Loop]. State changes are therefore atomic per callback and no locks are held by the
// trackers themselves. Network calls happen off the loop and post their results back with
// [transport.Loop.Do].
//
// A [Sink] receives everything meant for the user. Sink methods are called on the loop; they must
// return promptly and must not call back into the Controller.
package tracker
