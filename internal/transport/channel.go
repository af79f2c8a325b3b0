package transport

import (
	"context"
	"net/http"
)

// Message is one dispatched event from a push channel.
type Message struct {
	Event       string // event name, "message" when the server sent none
	Data        string // data lines joined with "\n"
	LastEventID string
}

// Channel is a unidirectional push connection to a single endpoint.
//
// Callbacks must be registered before Open and run on the channel's [Loop].
type Channel interface {
	OnOpen(fn func())
	OnMessage(fn func(Message))
	OnError(fn func(error))

	// Open starts the connection in the background. Calling it twice, or after Close, does nothing.
	Open(ctx context.Context)

	// Close stops the connection. No callback fires after Close has returned on the Loop.
	Close()
}

// Dialer constructs a [Channel] bound to loop. Construction errors mean the transport cannot be used at all
// (bad URL, unsupported scheme) and are returned before any network activity.
type Dialer func(loop *Loop, rawURL string) (Channel, error)

// NewSSEDialer returns a [Dialer] producing [EventStream] channels.
//
// client must not carry a [http.Client.Timeout]; streams stay open for the whole session. nil uses
// [http.DefaultClient].
func NewSSEDialer(client *http.Client) Dialer {
	return func(loop *Loop, rawURL string) (Channel, error) {
		s, err := NewEventStream(client, loop, rawURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
