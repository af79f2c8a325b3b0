package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/services"
	"github.com/desertthunder/mdximport/internal/shared"
	tu "github.com/desertthunder/mdximport/internal/testing"
	"github.com/desertthunder/mdximport/internal/transport"
)

const (
	testProgressURL = "http://import.test/api/progress?session_id="
	testQueueURL    = "http://import.test/api/queue/subscribe"
	waitTimeout     = 2 * time.Second
)

// fakeChannel is a [transport.Channel] driven by the test.
type fakeChannel struct {
	loop *transport.Loop
	url  string

	onOpen    func()
	onMessage func(transport.Message)
	onError   func(error)

	opened atomic.Bool
	closed atomic.Int32
}

func (f *fakeChannel) OnOpen(fn func())                     { f.onOpen = fn }
func (f *fakeChannel) OnMessage(fn func(transport.Message)) { f.onMessage = fn }
func (f *fakeChannel) OnError(fn func(error))               { f.onError = fn }
func (f *fakeChannel) Open(context.Context)                 { f.opened.Store(true) }
func (f *fakeChannel) Close()                               { f.closed.Add(1) }

func (f *fakeChannel) isClosed() bool { return f.closed.Load() > 0 }

func (f *fakeChannel) open() {
	f.loop.Do(func() {
		if !f.isClosed() && f.onOpen != nil {
			f.onOpen()
		}
	})
}

func (f *fakeChannel) message(data string) {
	f.loop.Do(func() {
		if !f.isClosed() && f.onMessage != nil {
			f.onMessage(transport.Message{Event: "message", Data: data})
		}
	})
}

func (f *fakeChannel) fail(err error) {
	f.loop.Do(func() {
		if !f.isClosed() && f.onError != nil {
			f.onError(err)
		}
	})
}

// forceMessage delivers even after Close, like an event already queued when Close took effect.
func (f *fakeChannel) forceMessage(data string) {
	f.loop.Do(func() { f.onMessage(transport.Message{Event: "message", Data: data}) })
}

func (f *fakeChannel) forceError(err error) {
	f.loop.Do(func() { f.onError(err) })
}

// fakeDialer hands out fakeChannels and can refuse chosen URLs.
type fakeDialer struct {
	mu       sync.Mutex
	channels map[string][]*fakeChannel
	refuse   map[string]bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{channels: map[string][]*fakeChannel{}, refuse: map[string]bool{}}
}

func (d *fakeDialer) Dial(loop *transport.Loop, rawURL string) (transport.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse[rawURL] {
		return nil, shared.ErrUnsupported
	}
	ch := &fakeChannel{loop: loop, url: rawURL}
	d.channels[rawURL] = append(d.channels[rawURL], ch)
	return ch, nil
}

func (d *fakeDialer) last(rawURL string) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	chs := d.channels[rawURL]
	if len(chs) == 0 {
		return nil
	}
	return chs[len(chs)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, chs := range d.channels {
		n += len(chs)
	}
	return n
}

// fakeBackend records calls and answers from canned values.
type fakeBackend struct {
	mu          sync.Mutex
	submitResp  *services.SubmitResponse
	submitErr   error
	submitGate  chan struct{}
	cancelErr   error
	cancelGate  chan struct{} // when set, Cancel signals cancelSeen and waits for it
	cancelSeen  chan struct{}
	queueStatus *services.QueueStatus
	queueErr    error

	submits atomic.Int32
	cancels atomic.Int32
	polls   atomic.Int32
}

func (b *fakeBackend) Submit(ctx context.Context, _ services.Credentials, _ services.Upload) (*services.SubmitResponse, error) {
	b.submits.Add(1)
	if b.submitGate != nil {
		<-b.submitGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitResp, b.submitErr
}

func (b *fakeBackend) Cancel(ctx context.Context, _ string) error {
	b.cancels.Add(1)
	if b.cancelGate != nil {
		close(b.cancelSeen)
		<-b.cancelGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelErr
}

func (b *fakeBackend) QueueStatus(ctx context.Context, _ string) (*services.QueueStatus, error) {
	b.polls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queueErr != nil {
		return nil, b.queueErr
	}
	if b.queueStatus == nil {
		return nil, errors.New("no queue status")
	}
	status := *b.queueStatus
	return &status, nil
}

func (b *fakeBackend) setQueue(status *services.QueueStatus, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueStatus, b.queueErr = status, err
}

func (b *fakeBackend) ProgressURL(id string) string { return testProgressURL + id }
func (b *fakeBackend) QueueSubscribeURL() string    { return testQueueURL }

type notice struct {
	level log.Level
	msg   string
}

// recordingSink keeps everything it was given.
type recordingSink struct {
	mu       sync.Mutex
	events   []ProgressEvent
	queue    []QueueSnapshot
	notices  []notice
	controls []Controls
}

func (s *recordingSink) Progress(ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Queue(snap QueueSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, snap)
}

func (s *recordingSink) Notice(level log.Level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, notice{level, msg})
}

func (s *recordingSink) Controls(c Controls) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, c)
}

func (s *recordingSink) Events() []ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProgressEvent(nil), s.events...)
}

func (s *recordingSink) Snapshots() []QueueSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QueueSnapshot(nil), s.queue...)
}

func (s *recordingSink) Notices() []notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notice(nil), s.notices...)
}

func (s *recordingSink) ControlHistory() []Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Controls(nil), s.controls...)
}

// restores counts the control updates that re-enable start, one per teardown.
func (s *recordingSink) restores() int {
	n := 0
	for _, c := range s.ControlHistory() {
		if c == (Controls{SubmitEnabled: true}) {
			n++
		}
	}
	return n
}

func (s *recordingSink) hasNotice(msg string) bool {
	for _, n := range s.Notices() {
		if n.msg == msg {
			return true
		}
	}
	return false
}

// manualTicker is a [transport.TickerFunc] whose ticks are sent by the test.
type manualTicker struct {
	created atomic.Int32
	ch      chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) Func(time.Duration) (<-chan time.Time, func()) {
	m.created.Add(1)
	return m.ch, func() {}
}

// tick blocks until the timer goroutine takes the tick.
func (m *manualTicker) tick() {
	select {
	case m.ch <- time.Now():
	case <-time.After(waitTimeout):
		panic("manual tick not received")
	}
}

type harness struct {
	ctrl    *Controller
	loop    *transport.Loop
	dialer  *fakeDialer
	backend *fakeBackend
	sink    *recordingSink
	ticker  *manualTicker
	logs    *tu.SyncBuffer
}

func newHarness() *harness {
	h := &harness{
		loop:    &transport.Loop{},
		dialer:  newFakeDialer(),
		backend: &fakeBackend{submitResp: &services.SubmitResponse{SessionID: "sess-b"}},
		sink:    &recordingSink{},
		ticker:  newManualTicker(),
		logs:    &tu.SyncBuffer{},
	}
	ctrl, err := NewController(Options{
		Backend:      h.backend,
		Dialer:       h.dialer.Dial,
		Sink:         h.sink,
		Logger:       shared.NewLogger(h.logs),
		PollInterval: time.Second,
		Ticker:       h.ticker.Func,
		Loop:         h.loop,
	})
	if err != nil {
		panic(err)
	}
	h.ctrl = ctrl
	return h
}

func validCreds() services.Credentials {
	return services.Credentials{Username: "reader", Password: "pw", ClientID: "cid", ClientSecret: "secret"}
}

func validUpload() services.Upload {
	return services.Upload{Name: "list.csv", Data: []byte("title\nBerserk\n")}
}

func (h *harness) start() (string, error) {
	return h.ctrl.Start(context.Background(), validCreds(), validUpload())
}

func (h *harness) progressChannel(id string) *fakeChannel {
	return h.dialer.last(testProgressURL + id)
}

func (h *harness) queueChannel() *fakeChannel {
	return h.dialer.last(testQueueURL)
}
