package tracker

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/services"
)

// Status is the lifecycle stage of a [Session].
type Status int

const (
	Idle Status = iota
	Starting
	Active
	Complete
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return ""
	}
}

// Live reports whether a session occupies the controller (Starting or Active).
func (s Status) Live() bool {
	return s == Starting || s == Active
}

// Session is the server-assigned identifier of one import and where it is in its lifecycle.
type Session struct {
	ID     string
	Status Status
}

// EventKind classifies a [ProgressEvent].
type EventKind int

const (
	KindUnknown EventKind = iota
	KindProgress
	KindComplete
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ProgressEvent is one line of job progress for display.
type ProgressEvent struct {
	Kind    EventKind
	Message string
	Percent *int // 0-100, nil when the server sent none
}

// QueueSnapshot is this session's place in the server queue. Position 0 means unknown or not queued.
type QueueSnapshot struct {
	Position int
	Queued   int
}

// TransportState is the connection stage of a tracker. Closed is terminal.
type TransportState int

const (
	Attempting TransportState = iota
	Connected
	Degraded
	Closed
)

func (t TransportState) String() string {
	switch t {
	case Attempting:
		return "attempting"
	case Connected:
		return "active"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	default:
		return ""
	}
}

// Controls is the enablement of the user's start and cancel actions.
type Controls struct {
	SubmitEnabled bool
	CancelEnabled bool
	QueueVisible  bool
}

// Sink renders session output. All methods are called on the controller's loop.
type Sink interface {
	Progress(ev ProgressEvent)
	Queue(snap QueueSnapshot)
	Notice(level log.Level, msg string)
	Controls(c Controls)
}

// Backend is the import server as seen by the controller. [services.ImportService] implements it.
type Backend interface {
	Submit(ctx context.Context, creds services.Credentials, upload services.Upload) (*services.SubmitResponse, error)
	Cancel(ctx context.Context, sessionID string) error
	QueueStatus(ctx context.Context, sessionID string) (*services.QueueStatus, error)
	ProgressURL(sessionID string) string
	QueueSubscribeURL() string
}

// QueueStatuser is the polling half of [Backend].
type QueueStatuser interface {
	QueueStatus(ctx context.Context, sessionID string) (*services.QueueStatus, error)
}

type nopSink struct{}

func (nopSink) Progress(ProgressEvent)   {}
func (nopSink) Queue(QueueSnapshot)      {}
func (nopSink) Notice(log.Level, string) {}
func (nopSink) Controls(Controls)        {}
