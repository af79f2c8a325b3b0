package transport

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is used when a [PollTimer] is built with a non-positive interval.
const DefaultPollInterval = 3 * time.Second

// TickerFunc builds the tick source for a [PollTimer] and returns its stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// RealTicker is the [TickerFunc] backed by [time.NewTicker].
func RealTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// PollTimer calls fn every interval on its own goroutine until stopped.
//
// Calls never overlap; a tick that arrives while fn is still running is dropped.
type PollTimer struct {
	interval  time.Duration
	fn        func(ctx context.Context)
	immediate bool
	newTicker TickerFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool
	done    chan struct{}
}

// PollOption configures a [PollTimer].
type PollOption func(*PollTimer)

// WithImmediate makes the timer call fn once as soon as it starts, before the first tick.
func WithImmediate() PollOption {
	return func(t *PollTimer) { t.immediate = true }
}

// WithTicker replaces the tick source.
func WithTicker(fn TickerFunc) PollOption {
	return func(t *PollTimer) {
		if fn != nil {
			t.newTicker = fn
		}
	}
}

// NewPollTimer returns an unstarted timer.
func NewPollTimer(interval time.Duration, fn func(ctx context.Context), opts ...PollOption) *PollTimer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	t := &PollTimer{
		interval:  interval,
		fn:        fn,
		newTicker: RealTicker,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Interval returns the fixed period between calls.
func (t *PollTimer) Interval() time.Duration { return t.interval }

// Start launches the timer goroutine. Calling it twice, or after Stop, does nothing.
func (t *PollTimer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started || t.stopped {
		return
	}
	t.started = true

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.run(ctx)
}

// Stop cancels the timer. The context passed to an in-flight fn is cancelled too.
func (t *PollTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true

	if t.cancel != nil {
		t.cancel()
	} else {
		close(t.done)
	}
}

// Stopped reports whether Stop has been called.
func (t *PollTimer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Done is closed once the timer goroutine has exited, or immediately on Stop if it never started.
func (t *PollTimer) Done() <-chan struct{} {
	return t.done
}

func (t *PollTimer) run(ctx context.Context) {
	defer close(t.done)

	tick, stop := t.newTicker(t.interval)
	defer stop()

	if t.immediate {
		t.fire(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			t.fire(ctx)
		}
	}
}

func (t *PollTimer) fire(ctx context.Context) {
	if ctx.Err() != nil || t.Stopped() {
		return
	}
	t.fn(ctx)
}
