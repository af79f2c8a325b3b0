package server

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/mdximport/internal/models"
	"github.com/desertthunder/mdximport/internal/services"
)

// Progress event types as they appear on the wire.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// ProgressEvent is one message on a session's progress stream.
type ProgressEvent struct {
	Type    string `json:"type"`
	Msg     string `json:"msg,omitempty"`
	Percent *int   `json:"percent,omitempty"`
}

func (e ProgressEvent) terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// eventLog keeps every event of a session so a stream opened late still sees the whole run. Appends
// after a terminal event are dropped.
type eventLog struct {
	mu      sync.Mutex
	events  []ProgressEvent
	changed chan struct{}
	closed  bool
}

func newEventLog() *eventLog {
	return &eventLog{changed: make(chan struct{})}
}

func (l *eventLog) append(ev ProgressEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.events = append(l.events, ev)
	l.closed = ev.terminal()

	close(l.changed)
	l.changed = make(chan struct{})
	return true
}

// end closes the log without a terminal event. Streams drain what is there and stop.
func (l *eventLog) end() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.changed)
	l.changed = make(chan struct{})
}

// since returns the events from index i on, a channel closed at the next change, and whether the
// log takes no more events.
func (l *eventLog) since(i int) ([]ProgressEvent, <-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.events) {
		return nil, l.changed, l.closed
	}
	return append([]ProgressEvent(nil), l.events[i:]...), l.changed, l.closed
}

// Session is one accepted import waiting for or holding the worker.
type Session struct {
	ID        string
	Creds     services.Credentials
	List      *models.MangaList
	Job       *models.Job
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	log    *eventLog
}

// Emit appends an event to the session's progress stream.
func (s *Session) Emit(ev ProgressEvent) bool {
	return s.log.append(ev)
}

// End closes the session's progress stream without reporting an outcome.
func (s *Session) End() {
	s.log.end()
}

// Cancelled reports whether the session was cancelled or reaped.
func (s *Session) Cancelled() bool {
	return s.ctx.Err() != nil
}

// SessionManager tracks sessions by id.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Create registers a new session for the upload.
func (sm *SessionManager) Create(id string, creds services.Credentials, list *models.MangaList) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		Creds:     creds,
		List:      list,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		log:       newEventLog(),
	}

	sm.mu.Lock()
	sm.sessions[id] = s
	sm.mu.Unlock()
	return s
}

func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// Remove cancels and forgets a session.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if ok {
		s.cancel()
	}
}

// CleanupStale forgets sessions older than maxAge and returns them. Cancelling them is up to the caller.
func (sm *SessionManager) CleanupStale(maxAge time.Duration) []*Session {
	now := time.Now()
	return sm.removeWhere(func(s *Session) bool { return now.Sub(s.CreatedAt) > maxAge })
}

// RemoveAll forgets every session and returns them.
func (sm *SessionManager) RemoveAll() []*Session {
	return sm.removeWhere(func(*Session) bool { return true })
}

func (sm *SessionManager) removeWhere(match func(*Session) bool) []*Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var removed []*Session
	for id, s := range sm.sessions {
		if match(s) {
			delete(sm.sessions, id)
			removed = append(removed, s)
		}
	}
	return removed
}

func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
