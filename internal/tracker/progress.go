package tracker

import (
	"context"
	"encoding/json"
	"math"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/transport"
)

const disconnectedNotice = "Progress stream disconnected."

// ProgressTracker reads one session's progress stream.
//
// A transport error is reported once and leaves the tracker Closed; there is no reconnect.
type ProgressTracker struct {
	loop       *transport.Loop
	dial       transport.Dialer
	url        string
	sink       Sink
	logger     *log.Logger
	onTerminal func(Status)

	ch    transport.Channel
	state TransportState
}

func newProgressTracker(loop *transport.Loop, dial transport.Dialer, url string, sink Sink, logger *log.Logger, onTerminal func(Status)) *ProgressTracker {
	return &ProgressTracker{
		loop:       loop,
		dial:       dial,
		url:        url,
		sink:       sink,
		logger:     logger,
		onTerminal: onTerminal,
		state:      Attempting,
	}
}

// State returns the tracker's transport state. Call it on the loop.
func (p *ProgressTracker) State() TransportState { return p.state }

func (p *ProgressTracker) open(ctx context.Context) {
	ch, err := p.dial(p.loop, p.url)
	if err != nil {
		p.logger.Warn("progress stream unavailable", "url", p.url, "err", err)
		p.sink.Notice(log.InfoLevel, disconnectedNotice)
		p.Close()
		return
	}

	ch.OnOpen(p.handleOpen)
	ch.OnMessage(p.handleMessage)
	ch.OnError(p.handleError)
	p.ch = ch
	ch.Open(ctx)
}

func (p *ProgressTracker) handleOpen() {
	if p.state == Closed {
		return
	}
	p.state = Connected
	p.sink.Progress(ProgressEvent{Kind: KindUnknown, Message: "connected"})
}

func (p *ProgressTracker) handleMessage(m transport.Message) {
	if p.state == Closed {
		return
	}
	p.state = Connected

	ev := DecodeProgress(m.Data)
	p.sink.Progress(ev)

	switch ev.Kind {
	case KindComplete:
		p.onTerminal(Complete)
	case KindError:
		p.logger.Warn("server reported failure", "msg", ev.Message)
		p.onTerminal(Failed)
	}
}

func (p *ProgressTracker) handleError(err error) {
	if p.state == Closed {
		return
	}
	p.logger.Warn("progress stream error", "err", err)
	p.sink.Notice(log.InfoLevel, disconnectedNotice)
	p.Close()
}

// Close stops the stream. It is safe to call more than once.
func (p *ProgressTracker) Close() {
	if p.state == Closed {
		return
	}
	p.state = Closed
	if p.ch != nil {
		p.ch.Close()
	}
}

type progressPayload struct {
	Type    string   `json:"type"`
	Msg     *string  `json:"msg"`
	Message *string  `json:"message"`
	Percent *float64 `json:"percent"`
}

func (p progressPayload) text() (string, bool) {
	if p.Msg != nil && *p.Msg != "" {
		return *p.Msg, true
	}
	if p.Message != nil && *p.Message != "" {
		return *p.Message, true
	}
	return "", false
}

// DecodeProgress classifies one progress payload.
//
// Undecodable payloads and unrecognized types become [KindUnknown] events carrying the raw data.
func DecodeProgress(data string) ProgressEvent {
	var payload progressPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return ProgressEvent{Kind: KindUnknown, Message: data}
	}

	text, ok := payload.text()
	switch payload.Type {
	case "progress":
		if !ok {
			text = "progress"
		}
		return ProgressEvent{Kind: KindProgress, Message: text, Percent: clampPercent(payload.Percent)}
	case "complete":
		if !ok {
			text = "Import complete"
		}
		return ProgressEvent{Kind: KindComplete, Message: text, Percent: clampPercent(payload.Percent)}
	case "error":
		if !ok {
			text = "unknown"
		}
		return ProgressEvent{Kind: KindError, Message: text}
	default:
		return ProgressEvent{Kind: KindUnknown, Message: data}
	}
}

func clampPercent(v *float64) *int {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	n := int(math.Round(math.Max(0, math.Min(100, *v))))
	return &n
}
