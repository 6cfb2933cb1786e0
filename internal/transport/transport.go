// Package transport provides the message-oriented connections a tunnel runs
// over. Every message carries whole instructions; no implementation here
// splits an instruction across messages.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotOpen is returned by Send before the transport has opened or
	// after it has been closed.
	ErrNotOpen = errors.New("transport: not open")

	// ErrAlreadyOpen is returned by a second call to Open.
	ErrAlreadyOpen = errors.New("transport: already opened")
)

// CloseEvent describes how the remote side or the network ended the
// connection. Code is 0 and Reason is empty when the transport provides none.
type CloseEvent struct {
	Code   int
	Reason string
}

// Events receives transport notifications. Any field may be nil. After Close
// has been called no further events are delivered, except possibly one that
// was already in flight.
type Events struct {
	OnOpen    func()
	OnMessage func(text string)
	OnClose   func(CloseEvent)
	OnError   func(error)
}

// Transport is a bidirectional text message connection owned by a single
// tunnel.
type Transport interface {
	// Open starts connecting and returns without waiting for the
	// connection. The outcome is reported through events.
	Open(ctx context.Context, events Events) error

	// Send writes one text message.
	Send(text string) error

	// Close tears the connection down. It is safe to call more than once.
	Close() error
}
