// Package ui implements the interactive watch view using bubbletea's Elm architecture.
//
// The view starts one import through a [Session] (normally a [tracker.Controller]) and shows:
//   - the session status with a spinner while it is live
//   - a progress bar fed by progress events carrying a percent
//   - the queue position while the session waits for the server's worker
//   - the latest notice, colored by level
//   - a scrollable list of every progress event
//
// The controller reports to a [Bridge], its [tracker.Sink]. Bridge callbacks run on the controller's
// loop and only queue messages, keeping just the latest queue snapshot; the model drains them one
// [tea.Cmd] at a time. Update never calls the controller itself: session state arrives in messages
// built inside commands.
//
// Keys: c cancels the active session, s starts again once the previous session ended, q quits after
// tearing the session down.
package ui
