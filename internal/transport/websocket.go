package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeWriteTimeout bounds how long Close waits to deliver the close frame.
const closeWriteTimeout = time.Second

// WebSocket is a Transport over a gorilla/websocket client connection. Writes
// are serialized by a mutex since gorilla allows only one concurrent writer.
type WebSocket struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	events  Events
	started bool
	closed  bool
	cancel  context.CancelFunc
}

// NewWebSocket returns a WebSocket transport that will dial url with the
// given request header (may be nil) when opened.
func NewWebSocket(url string, header http.Header) *WebSocket {
	return &WebSocket{
		url:    url,
		header: header,
		dialer: websocket.DefaultDialer,
	}
}

// Open dials in a background goroutine, then reads messages until the
// connection ends. ctx bounds the dial only.
func (w *WebSocket) Open(ctx context.Context, events Events) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrNotOpen
	}
	if w.started {
		return ErrAlreadyOpen
	}
	w.started = true
	w.events = events

	dialCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.run(dialCtx)
	return nil
}

// run is the single reader goroutine.
func (w *WebSocket) run(ctx context.Context) {
	conn, _, err := w.dialer.DialContext(ctx, w.url, w.header)
	w.cancel()
	if err != nil {
		w.emit(func(ev Events) {
			if ev.OnError != nil {
				ev.OnError(fmt.Errorf("failed to connect to WS server: %w", err))
			}
		})
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		conn.Close()
		return
	}
	w.conn = conn
	w.mu.Unlock()

	w.emit(func(ev Events) {
		if ev.OnOpen != nil {
			ev.OnOpen()
		}
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.emitReadError(err)
			return
		}

		text := string(data)
		w.emit(func(ev Events) {
			if ev.OnMessage != nil {
				ev.OnMessage(text)
			}
		})
	}
}

// emitReadError reports a close frame (or gorilla's synthesized abnormal
// closure) as OnClose, and anything else as OnError.
func (w *WebSocket) emitReadError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		ev := CloseEvent{Code: closeErr.Code, Reason: closeErr.Text}
		w.emit(func(events Events) {
			if events.OnClose != nil {
				events.OnClose(ev)
			}
		})
		return
	}

	w.emit(func(events Events) {
		if events.OnError != nil {
			events.OnError(fmt.Errorf("WS read error: %w", err))
		}
	})
}

// emit invokes fn with the registered events unless the transport has been
// closed locally. The lock is not held while fn runs so handlers may Send.
func (w *WebSocket) emit(fn func(Events)) {
	w.mu.Lock()
	closed := w.closed
	events := w.events
	w.mu.Unlock()

	if !closed {
		fn(events)
	}
}

// Send writes text as a single text frame.
func (w *WebSocket) Send(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.conn == nil {
		return ErrNotOpen
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("WS write error: %w", err)
	}
	return nil
}

// Close sends a normal-closure frame if connected and closes the socket. A
// dial still in progress is cancelled.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.cancel != nil {
		w.cancel()
	}
	if w.conn == nil {
		return nil
	}

	// Best effort; the peer may already be gone.
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))
	return w.conn.Close()
}
