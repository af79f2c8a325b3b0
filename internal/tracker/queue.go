package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/shared"
	"github.com/desertthunder/mdximport/internal/transport"
)

// QueueTracker keeps a [QueueSnapshot] current for one session.
//
// It prefers the shared broadcast stream and degrades to polling the per-session queue endpoint
// the first time the stream cannot be built or fails. Degraded is never left except by Close.
type QueueTracker struct {
	loop      *transport.Loop
	dial      transport.Dialer
	url       string
	sessionID string
	backend   QueueStatuser
	interval  time.Duration
	ticker    transport.TickerFunc
	sink      Sink
	logger    *log.Logger

	ctx      context.Context
	ch       transport.Channel
	timer    *transport.PollTimer
	state    TransportState
	snapshot QueueSnapshot
}

type queueTrackerOpts struct {
	url       string
	sessionID string
	backend   QueueStatuser
	interval  time.Duration
	ticker    transport.TickerFunc
}

func newQueueTracker(loop *transport.Loop, dial transport.Dialer, sink Sink, logger *log.Logger, o queueTrackerOpts) *QueueTracker {
	return &QueueTracker{
		loop:      loop,
		dial:      dial,
		url:       o.url,
		sessionID: o.sessionID,
		backend:   o.backend,
		interval:  o.interval,
		ticker:    o.ticker,
		sink:      sink,
		logger:    logger,
		state:     Attempting,
	}
}

// State returns the tracker's transport state. Call it on the loop.
func (q *QueueTracker) State() TransportState { return q.state }

// Snapshot returns the last published snapshot. Call it on the loop.
func (q *QueueTracker) Snapshot() QueueSnapshot { return q.snapshot }

func (q *QueueTracker) open(ctx context.Context) {
	q.ctx = ctx

	ch, err := q.dial(q.loop, q.url)
	if err != nil {
		q.logger.Warn("queue broadcast unavailable", "url", q.url, "err", err)
		q.degrade()
		return
	}

	ch.OnOpen(func() { q.logger.Debug("queue broadcast connected") })
	ch.OnMessage(q.handleMessage)
	ch.OnError(q.handleError)
	q.ch = ch
	ch.Open(ctx)
}

func (q *QueueTracker) handleMessage(m transport.Message) {
	if q.state == Degraded || q.state == Closed {
		return
	}

	snap, err := DecodeQueueBroadcast(m.Data, q.sessionID)
	if err != nil {
		q.logger.Warn("invalid queue broadcast", "err", err)
		return
	}
	q.state = Connected
	q.publish(snap)
}

func (q *QueueTracker) handleError(err error) {
	if q.state == Degraded || q.state == Closed {
		return
	}
	q.logger.Warn("queue broadcast failed, polling instead", "err", err)
	q.degrade()
}

// degrade swaps the broadcast channel for a poll timer. Only the first call has any effect.
func (q *QueueTracker) degrade() {
	if q.state == Degraded || q.state == Closed {
		return
	}
	if q.ch != nil {
		q.ch.Close()
	}
	q.state = Degraded

	ctx := q.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	q.timer = transport.NewPollTimer(q.interval, q.poll, transport.WithImmediate(), transport.WithTicker(q.ticker))
	q.timer.Start(ctx)
}

// poll runs on the timer goroutine.
func (q *QueueTracker) poll(ctx context.Context) {
	status, err := q.backend.QueueStatus(ctx, q.sessionID)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Warn("queue poll failed", "err", err)
		}
		return
	}

	q.loop.Do(func() {
		if q.state != Degraded {
			return
		}
		q.publish(QueueSnapshot{Position: max(status.Position, 0), Queued: max(status.Queued, 0)})
	})
}

func (q *QueueTracker) publish(snap QueueSnapshot) {
	q.snapshot = snap
	q.sink.Queue(snap)
}

// Close stops the channel and the timer, whichever exist. It is safe to call more than once.
func (q *QueueTracker) Close() {
	if q.state == Closed {
		return
	}
	q.state = Closed
	if q.ch != nil {
		q.ch.Close()
	}
	if q.timer != nil {
		q.timer.Stop()
	}
}

type queueBroadcast struct {
	QueueOrder []string `json:"queue_order"`
	Queued     *int     `json:"queued"`
	Position   *int     `json:"position"`
}

// DecodeQueueBroadcast computes sessionID's snapshot from one broadcast payload.
//
// Position is the 1-based index of sessionID in queue_order, or 0 when absent. The total is the
// declared queued count when positive, else the length of queue_order. Payloads that carry a
// position but no queue_order are taken as-is.
func DecodeQueueBroadcast(data, sessionID string) (QueueSnapshot, error) {
	var payload queueBroadcast
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return QueueSnapshot{}, fmt.Errorf("%w: %v", shared.ErrDecode, err)
	}

	queued := 0
	if payload.Queued != nil {
		queued = max(*payload.Queued, 0)
	}

	if payload.QueueOrder == nil {
		if payload.Position == nil {
			return QueueSnapshot{}, fmt.Errorf("%w: no queue_order or position", shared.ErrDecode)
		}
		return QueueSnapshot{Position: max(*payload.Position, 0), Queued: queued}, nil
	}

	if queued == 0 {
		queued = len(payload.QueueOrder)
	}
	return QueueSnapshot{
		Position: slices.Index(payload.QueueOrder, sessionID) + 1,
		Queued:   queued,
	}, nil
}
