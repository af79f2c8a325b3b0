package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/tracker"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg      = Msg{}
	_ tracker.Sink = (*Bridge)(nil)
)

const (
	MsgProgress MsgKind = iota
	MsgQueue
	MsgNotice
	MsgControls
	MsgStarted
	MsgCancelled
	MsgSessionDone
)

type notice struct {
	level log.Level
	text  string
}

func progressMsg(ev tracker.ProgressEvent) Msg { return Msg{kind: MsgProgress, data: ev} }
func queueMsg(snap tracker.QueueSnapshot) Msg  { return Msg{kind: MsgQueue, data: snap} }
func controlsMsg(c tracker.Controls) Msg       { return Msg{kind: MsgControls, data: c} }

func noticeMsg(level log.Level, text string) Msg {
	return Msg{kind: MsgNotice, data: notice{level, text}}
}

type outcome struct {
	session tracker.Session
	err     error
}

// startedMsg is the constructor for [MsgStarted]
func startedMsg(s tracker.Session, err error) Msg {
	return Msg{kind: MsgStarted, data: outcome{s, err}}
}

// cancelledMsg is the constructor for [MsgCancelled]
func cancelledMsg(s tracker.Session, err error) Msg {
	return Msg{kind: MsgCancelled, data: outcome{s, err}}
}

// sessionDoneMsg is the constructor for [MsgSessionDone]
func sessionDoneMsg(s tracker.Session, err error) Msg {
	return Msg{kind: MsgSessionDone, data: outcome{s, err}}
}

// Bridge is the [tracker.Sink] feeding the watch view. Controller callbacks queue messages on a
// buffered channel that the model drains one [tea.Cmd] at a time.
//
// Queue snapshots never wait: only the latest one is kept until the model takes it.
type Bridge struct {
	msgs chan Msg
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	snap   tracker.QueueSnapshot
	queued chan struct{}
}

func NewBridge(size int) *Bridge {
	if size < 1 {
		size = 256
	}
	return &Bridge{
		msgs:   make(chan Msg, size),
		done:   make(chan struct{}),
		queued: make(chan struct{}, 1),
	}
}

func (b *Bridge) Progress(ev tracker.ProgressEvent)  { b.send(progressMsg(ev)) }
func (b *Bridge) Notice(level log.Level, msg string) { b.send(noticeMsg(level, msg)) }
func (b *Bridge) Controls(c tracker.Controls)        { b.send(controlsMsg(c)) }

// Queue replaces the pending snapshot.
func (b *Bridge) Queue(snap tracker.QueueSnapshot) {
	b.mu.Lock()
	b.snap = snap
	b.mu.Unlock()

	select {
	case b.queued <- struct{}{}:
	default:
	}
}

func (b *Bridge) latest() tracker.QueueSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// Close releases senders once the view is gone. Messages sent afterwards are dropped.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
}

// Wait returns a command delivering the next queued message.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-b.msgs:
			return m
		case <-b.queued:
			return queueMsg(b.latest())
		case <-b.done:
			return nil
		}
	}
}

func (b *Bridge) send(m Msg) {
	select {
	case b.msgs <- m:
	case <-b.done:
	}
}
