// Package transport provides the two push/pull primitives the trackers are built on.
//
// # Loop
//
// [Loop] is the single logical thread every callback runs on. Channels and timers bound to the same Loop never
// run their callbacks concurrently, so a consumer can mutate its state from a callback without further locking.
// Network I/O never happens while the Loop is held.
//
// # Channels
//
// [Channel] is a unidirectional push connection with open/message/error callbacks and an idempotent Close.
// [EventStream] implements it over the Server-Sent Events wire format. Only unnamed events and events named
// "message" reach OnMessage, matching a browser EventSource. The stream does not reconnect: the first transport
// failure (dial error, non-2xx status, wrong content type, end of body) is reported once through OnError and the
// stream goes quiet.
//
// # Poll timers
//
// [PollTimer] calls a function on a fixed interval from its own goroutine. The tick source is injectable
// ([WithTicker]) so tests can drive ticks by hand.
//
// # Close semantics
//
// Close and Stop are safe to call more than once, from any goroutine, including from inside a callback running
// on the Loop. They never wait for the background goroutine. Every delivery re-checks the closed flag while
// holding the Loop, so once Close has returned on the Loop no further callback fires.
package transport
