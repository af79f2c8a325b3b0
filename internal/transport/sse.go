package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/desertthunder/mdximport/internal/shared"
)

const (
	eventStreamMediaType = "text/event-stream"
	maxEventLine         = 1 << 20
)

// EventStream is a [Channel] reading a Server-Sent Events response body.
type EventStream struct {
	url    string
	client *http.Client
	loop   *Loop

	onOpen    func()
	onMessage func(Message)
	onError   func(error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  atomic.Bool
}

// NewEventStream validates rawURL and returns an unopened stream bound to loop.
//
// A nil loop gets a private [Loop]; a nil client uses [http.DefaultClient].
func NewEventStream(client *http.Client, loop *Loop, rawURL string) (*EventStream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUnsupported, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", shared.ErrUnsupported, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", shared.ErrUnsupported, rawURL)
	}

	if client == nil {
		client = http.DefaultClient
	}
	if loop == nil {
		loop = &Loop{}
	}

	return &EventStream{url: u.String(), client: client, loop: loop}, nil
}

func (s *EventStream) OnOpen(fn func())           { s.onOpen = fn }
func (s *EventStream) OnMessage(fn func(Message)) { s.onMessage = fn }
func (s *EventStream) OnError(fn func(error))     { s.onError = fn }

// URL returns the endpoint the stream reads from.
func (s *EventStream) URL() string { return s.url }

// Open issues the GET request on a background goroutine.
func (s *EventStream) Open(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed.Load() {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
}

// Close cancels the request and silences all callbacks.
func (s *EventStream) Close() {
	if s.closed.Swap(true) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Closed reports whether Close has been called.
func (s *EventStream) Closed() bool {
	return s.closed.Load()
}

func (s *EventStream) run(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		s.fail(ctx, fmt.Errorf("%w: %v", shared.ErrTransport, err))
		return
	}
	req.Header.Set("Accept", eventStreamMediaType)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		s.fail(ctx, fmt.Errorf("%w: %v", shared.ErrTransport, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.fail(ctx, fmt.Errorf("%w: status %d", shared.ErrTransport, resp.StatusCode))
		return
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != eventStreamMediaType {
		s.fail(ctx, fmt.Errorf("%w: %w %q", shared.ErrTransport, shared.ErrBadContentType, mediaType))
		return
	}

	s.deliver(func() {
		if s.onOpen != nil {
			s.onOpen()
		}
	})

	err = ReadEvents(resp.Body, func(m Message) {
		s.deliver(func() {
			if s.onMessage != nil {
				s.onMessage(m)
			}
		})
	})
	if err == nil {
		err = shared.ErrStreamEnded
	}
	s.fail(ctx, fmt.Errorf("%w: %w", shared.ErrTransport, err))
}

// fail reports err once, unless the stream was closed on purpose.
func (s *EventStream) fail(ctx context.Context, err error) {
	if ctx.Err() != nil || s.closed.Load() {
		return
	}
	s.deliver(func() {
		if s.onError != nil {
			s.onError(err)
		}
	})
}

func (s *EventStream) deliver(fn func()) {
	s.loop.Do(func() {
		if s.closed.Load() {
			return
		}
		fn()
	})
}

// ReadEvents parses an event stream from r, calling emit for every dispatched message event in order.
//
// It returns nil at a clean end of input. A trailing event without its terminating blank line is dropped.
func ReadEvents(r io.Reader, emit func(Message)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	sc.Split(eventLines())

	var (
		data    strings.Builder
		hasData bool
		event   string
		lastID  string
		first   = true
	)

	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}

		if line == "" {
			if hasData && (event == "" || event == "message") {
				emit(Message{Event: "message", Data: data.String(), LastEventID: lastID})
			}
			data.Reset()
			hasData = false
			event = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			event = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				lastID = value
			}
		}
	}

	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// eventLines splits on CRLF, LF or a lone CR. A CR ends its line at once; an LF right after it is
// skipped on the next call, so a CR-only stream dispatches without waiting for more input.
func eventLines() bufio.SplitFunc {
	var skipLF bool
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if skipLF && len(data) > 0 {
			skipLF = false
			if data[0] == '\n' {
				return 1, nil, nil
			}
		}
		if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
			skipLF = data[i] == '\r'
			return i + 1, data[:i], nil
		}
		if atEOF && len(data) > 0 {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}
