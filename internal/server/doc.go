// Package server provides the development import server: HTTP routing, middleware and the five
// endpoints the client synchronizes against.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] runs in the order it was added: [BasicRouter.Apply] wraps from the last one inward, so the
// first middleware sees the request first. The import API uses [Recover], then [Logging], and wraps the
// submission route alone in [RateLimit].
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with per-path method sets.
//
// # Endpoints
//
//	POST /api/follow           multipart credentials + manga_list file, returns {"session_id"}
//	GET  /api/progress         event stream of {"type","msg","percent"} for one session
//	GET  /api/queue/subscribe  event stream of {"queue_order","queued"} for everyone
//	GET  /api/queue            {"position","queued"} for one session
//	POST /api/cancel           drops or stops one session
//
// # Job Queue
//
// Accepted imports wait in a [JobQueue] and run one at a time on the worker started by [API.Run].
// Each run drives a [tasks.ImportEngine]; its updates become progress events kept in the session's
// log, so a progress stream opened after the run began still sees every event. The stream ends after
// the first complete or error event.
//
// A full queue answers 429. Sessions older than the session TTL are reaped on a ticker.
//
// # Job Log
//
// When given a [repositories.JobRepository], every accepted import is recorded and updated as it moves
// through queued, running and a final status. `mdx jobs` reads the log back.
package server
