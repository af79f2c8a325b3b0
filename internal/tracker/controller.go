package tracker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/services"
	"github.com/desertthunder/mdximport/internal/shared"
	"github.com/desertthunder/mdximport/internal/transport"
)

// Options configures a [Controller]. Backend is required; everything else has a default.
type Options struct {
	Backend      Backend
	Dialer       transport.Dialer     // defaults to an SSE dialer on [http.DefaultClient]
	Sink         Sink                 // defaults to discarding output
	Logger       *log.Logger          // defaults to discarding logs
	PollInterval time.Duration        // defaults to [transport.DefaultPollInterval]
	Ticker       transport.TickerFunc // defaults to [transport.RealTicker]
	Loop         *transport.Loop      // defaults to a private loop
}

// Controller owns at most one live import session and the trackers following it.
type Controller struct {
	loop     *transport.Loop
	backend  Backend
	dial     transport.Dialer
	sink     Sink
	logger   *log.Logger
	interval time.Duration
	ticker   transport.TickerFunc

	session    Session
	attempt    int
	cancelling string // session whose cancel request is in flight
	err        error
	progress   *ProgressTracker
	queue      *QueueTracker
	stop       context.CancelFunc
	done       chan struct{}
}

// NewController creates a controller with no session.
func NewController(opts Options) (*Controller, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("%w: backend", shared.ErrMissingArgument)
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.NewSSEDialer(nil)
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = transport.DefaultPollInterval
	}
	if opts.Ticker == nil {
		opts.Ticker = transport.RealTicker
	}
	if opts.Loop == nil {
		opts.Loop = &transport.Loop{}
	}

	done := make(chan struct{})
	close(done)

	return &Controller{
		loop:     opts.Loop,
		backend:  opts.Backend,
		dial:     opts.Dialer,
		sink:     opts.Sink,
		logger:   opts.Logger,
		interval: opts.PollInterval,
		ticker:   opts.Ticker,
		done:     done,
	}, nil
}

// Start validates input, submits the import and begins tracking it.
//
// Missing fields fail with [shared.ErrValidation] before any request is made. A live session fails
// with [shared.ErrSessionActive]. Any submission problem returns [shared.ErrSubmission] and leaves
// the controller Idle with the start control re-enabled.
func (c *Controller) Start(ctx context.Context, creds services.Credentials, upload services.Upload) (string, error) {
	missing := creds.Missing()
	if !upload.Present() {
		missing = append(missing, services.UploadField)
	}
	if len(missing) > 0 {
		c.loop.Do(func() {
			c.sink.Notice(log.ErrorLevel, "Please provide username, password, client_id, client_secret and a CSV/XML file.")
		})
		return "", fmt.Errorf("%w: missing %s", shared.ErrValidation, strings.Join(missing, ", "))
	}

	var live Session
	var attempt int
	c.loop.Do(func() {
		if c.session.Status.Live() {
			live = c.session
			return
		}
		c.attempt++
		attempt = c.attempt
		c.session = Session{Status: Starting}
		c.err = nil
		c.sink.Controls(Controls{})
		c.sink.Notice(log.InfoLevel, "Starting import...")
	})
	if live.Status.Live() {
		return "", fmt.Errorf("%w: %s (%s)", shared.ErrSessionActive, live.ID, live.Status)
	}

	resp, err := c.backend.Submit(ctx, creds, upload)

	var id string
	var abandoned bool
	c.loop.Do(func() {
		if c.session.Status != Starting || c.attempt != attempt {
			abandoned = true
			return
		}
		if err != nil {
			c.logger.Error("submission failed", "err", err)
			c.session = Session{Status: Idle}
			c.sink.Notice(log.ErrorLevel, "Error starting import: "+err.Error())
			c.sink.Controls(Controls{SubmitEnabled: true})
			return
		}
		id = resp.SessionID
		c.activateLocked(id)
	})

	switch {
	case err != nil:
		return "", fmt.Errorf("%w: %w", shared.ErrSubmission, err)
	case abandoned:
		logger := shared.WithLogger(c.logger, "session", resp.SessionID)
		logger.Warn("session torn down during submission, cancelling")
		go func() {
			if err := c.backend.Cancel(context.WithoutCancel(ctx), resp.SessionID); err != nil {
				logger.Warn("cancel of abandoned session failed", "err", err)
			}
		}()
		return "", fmt.Errorf("%w: torn down before the server answered", shared.ErrSubmission)
	}
	return id, nil
}

func (c *Controller) activateLocked(id string) {
	c.session = Session{ID: id, Status: Active}
	c.done = make(chan struct{})

	ctx, stop := context.WithCancel(context.Background())
	c.stop = stop

	logger := shared.WithLogger(c.logger, "session", id)
	logger.Info("import enqueued")

	c.sink.Notice(log.InfoLevel, fmt.Sprintf("Import enqueued (session %s)", id))
	c.sink.Controls(Controls{CancelEnabled: true, QueueVisible: true})

	c.progress = newProgressTracker(c.loop, c.dial, c.backend.ProgressURL(id), c.sink,
		shared.WithLogger(logger, "tracker", "progress"), c.teardownLocked)
	c.queue = newQueueTracker(c.loop, c.dial, c.sink, shared.WithLogger(logger, "tracker", "queue"), queueTrackerOpts{
		url:       c.backend.QueueSubscribeURL(),
		sessionID: id,
		backend:   c.backend,
		interval:  c.interval,
		ticker:    c.ticker,
	})

	c.progress.open(ctx)
	if c.session.Status == Active {
		c.queue.open(ctx)
	}
}

// Cancel asks the server to drop the active session, reports the outcome and tears down.
//
// Without an Active session it does nothing. A failed request returns [shared.ErrCancelRequest]; local
// teardown happens either way unless the session already ended while the request was in flight.
// A server error that arrives while the request is in flight ends the session as Cancelled; a
// completion still ends it as Complete.
func (c *Controller) Cancel(ctx context.Context) error {
	var id string
	c.loop.Do(func() {
		if c.session.Status == Active {
			id = c.session.ID
			c.cancelling = id
		}
	})
	if id == "" {
		return nil
	}

	err := c.backend.Cancel(ctx, id)

	c.loop.Do(func() {
		if c.cancelling == id {
			c.cancelling = ""
		}
		if err != nil {
			c.logger.Warn("cancel request failed", "session", id, "err", err)
			c.sink.Notice(log.ErrorLevel, "Cancel request failed")
		} else {
			c.sink.Notice(log.InfoLevel, "Cancelled")
		}
		if c.session.ID == id && c.session.Status == Active {
			c.teardownLocked(Cancelled)
		}
	})

	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrCancelRequest, err)
	}
	return nil
}

// Teardown closes both trackers and returns the controller to Idle. Calling it with no live
// session does nothing.
func (c *Controller) Teardown() {
	c.loop.Do(func() { c.teardownLocked(Idle) })
}

func (c *Controller) teardownLocked(final Status) {
	if !c.session.Status.Live() {
		return
	}
	wasActive := c.session.Status == Active
	if final == Failed && c.cancelling != "" && c.cancelling == c.session.ID {
		c.logger.Debug("server error while cancelling", "session", c.session.ID)
		final = Cancelled
	}

	if c.progress != nil {
		c.progress.Close()
	}
	if c.queue != nil {
		c.queue.Close()
	}
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}

	if final == Failed {
		c.err = fmt.Errorf("%w: session %s", shared.ErrServerReported, c.session.ID)
	}
	c.session.Status = final
	c.logger.Debug("session ended", "session", c.session.ID, "status", final)
	c.sink.Controls(Controls{SubmitEnabled: true})

	if wasActive {
		close(c.done)
	}
}

// Session returns the current or most recent session.
func (c *Controller) Session() Session {
	var s Session
	c.loop.Do(func() { s = c.session })
	return s
}

// Done is closed when the active session ends. With no active session it is already closed.
func (c *Controller) Done() <-chan struct{} {
	var done chan struct{}
	c.loop.Do(func() { done = c.done })
	return done
}

// Err reports why the most recent session ended: nil unless the server reported a failure, in which
// case it wraps [shared.ErrServerReported].
func (c *Controller) Err() error {
	var err error
	c.loop.Do(func() { err = c.err })
	return err
}

// States returns the transport states of the progress and queue trackers. Both are Closed when
// no session has been tracked.
func (c *Controller) States() (progress, queue TransportState) {
	progress, queue = Closed, Closed
	c.loop.Do(func() {
		if c.progress != nil {
			progress = c.progress.State()
		}
		if c.queue != nil {
			queue = c.queue.State()
		}
	})
	return progress, queue
}

// Snapshot returns the last queue snapshot published for the current session.
func (c *Controller) Snapshot() QueueSnapshot {
	var snap QueueSnapshot
	c.loop.Do(func() {
		if c.queue != nil {
			snap = c.queue.Snapshot()
		}
	})
	return snap
}
