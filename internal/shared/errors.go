package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Session lifecycle errors
	ErrValidation     = fmt.Errorf("validation failed")
	ErrSubmission     = fmt.Errorf("submission failed")
	ErrSessionActive  = fmt.Errorf("a session is already active")
	ErrNoSession      = fmt.Errorf("no active session")
	ErrCancelRequest  = fmt.Errorf("cancel request failed")
	ErrServerReported = fmt.Errorf("server reported an error")

	// Transport errors
	ErrTransport      = fmt.Errorf("transport error")
	ErrDecode         = fmt.Errorf("malformed payload")
	ErrUnsupported    = fmt.Errorf("transport unsupported")
	ErrStreamEnded    = fmt.Errorf("stream ended")
	ErrBadContentType = fmt.Errorf("unexpected content type")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrQueueFull          = fmt.Errorf("queue full")
	ErrJobNotFound        = fmt.Errorf("job not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
