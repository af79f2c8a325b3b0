// Package services implements the HTTP side of the import server's API.
//
// # Endpoints
//
// [ImportService] wraps the five endpoints a client needs to follow one import:
//
//	POST /api/follow                   multipart credentials + manga list, returns {"session_id": ...}
//	GET  /api/progress?session_id=ID   event stream of progress/complete/error events
//	GET  /api/queue/subscribe          event stream of {"queue_order": [...], "queued": N}
//	GET  /api/queue?session_id=ID      {"position": N, "queued": N}
//	POST /api/cancel?session_id=ID     2xx when the cancellation was accepted
//
// The two streaming endpoints are not fetched here; [ImportService.ProgressURL] and
// [ImportService.QueueSubscribeURL] build their URLs for the transport package. Session ids are always
// percent-encoded into query strings.
//
// # Error Handling
//
// Services use typed errors from the shared package:
//   - [shared.ErrAPIRequest] : the request could not be sent or the server answered non-2xx
//   - [shared.ErrDecode] : the server answered 2xx with a body that is not the expected JSON
//   - [shared.ErrMissingArgument] : a 2xx submission carried no session id
package services
