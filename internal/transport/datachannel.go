package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
	drainTimeout  = 5 * time.Second
)

// errSendStalled is returned when the send buffer does not drain in time.
var errSendStalled = errors.New("transport: DataChannel send buffer did not drain")

// rawChannel is the part of *webrtc.DataChannel used after construction.
type rawChannel interface {
	ReadyState() webrtc.DataChannelState
	BufferedAmount() uint64
	SendText(text string) error
	Close() error
}

// DataChannel is a Transport over a WebRTC DataChannel. DataChannel messages
// are delivered whole, so each one carries complete instructions.
//
// Messages that arrive before Open registers events are dropped; peers are
// expected to stay silent until they have received the auth line.
type DataChannel struct {
	pc *webrtc.PeerConnection
	dc rawChannel

	drainTimeout time.Duration

	ready       chan struct{}
	readyOnce   sync.Once
	drainSignal chan struct{}
	done        chan struct{}

	mu        sync.Mutex
	events    Events
	started   bool
	closed    bool
	opened    bool
	closeOnce sync.Once
	endOnce   sync.Once
}

// NewPeer creates a PeerConnection with a pre-negotiated instruction channel
// and wraps both. Signaling is left to the caller via Peer().
func NewPeer(stunServers []string) (*DataChannel, error) {
	pc, err := newPeerConnection(stunServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	return NewDataChannel(pc, dc), nil
}

// NewDataChannel wraps an existing PeerConnection and DataChannel pair. The
// DataChannel takes ownership of both.
func NewDataChannel(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *DataChannel {
	c := &DataChannel{
		pc:           pc,
		dc:           dc,
		drainTimeout: drainTimeout,
		ready:        make(chan struct{}),
		drainSignal:  make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drainSignal <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(func() {
		c.readyOnce.Do(func() { close(c.ready) })
		c.emitOpen()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		text := string(msg.Data)
		c.emit(func(ev Events) {
			if ev.OnMessage != nil {
				ev.OnMessage(text)
			}
		})
	})

	dc.OnError(func(err error) {
		c.emit(func(ev Events) {
			if ev.OnError != nil {
				ev.OnError(fmt.Errorf("DataChannel error: %w", err))
			}
		})
	})

	// A DataChannel carries no close status, so any close we did not start
	// is abnormal. Local closes are suppressed by emit.
	dc.OnClose(func() {
		c.end(CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: "DataChannel closed by peer"})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			c.end(CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: "peer connection failed"})
		}
	})

	return c
}

// ---------------------------------------------------------------------------
// Signaling accessors
// ---------------------------------------------------------------------------

// Peer returns the underlying PeerConnection for SDP/ICE exchange.
func (c *DataChannel) Peer() *webrtc.PeerConnection {
	return c.pc
}

// Ready returns a channel that is closed once the DataChannel is open.
func (c *DataChannel) Ready() <-chan struct{} {
	return c.ready
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// Open registers events. If the channel is already open, OnOpen fires
// before Open returns.
func (c *DataChannel) Open(_ context.Context, events Events) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotOpen
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.started = true
	c.events = events
	c.mu.Unlock()

	select {
	case <-c.ready:
		c.emitOpen()
	default:
	}
	return nil
}

// Send writes text as a single string message. While the send buffer is
// above the high-water mark it waits, at most drainTimeout, for it to drain.
func (c *DataChannel) Send(text string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}

	if c.dc.BufferedAmount() > uint64(highWaterMark) {
		timer := time.NewTimer(c.drainTimeout)
		defer timer.Stop()
		select {
		case <-c.drainSignal:
		case <-c.done:
			return ErrNotOpen
		case <-timer.C:
			return errSendStalled
		}
	}

	if err := c.dc.SendText(text); err != nil {
		return fmt.Errorf("DataChannel send error: %w", err)
	}
	return nil
}

// Close shuts down the DataChannel and the PeerConnection.
func (c *DataChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		err = c.dc.Close()
		if c.pc != nil {
			err = errors.Join(err, c.pc.Close())
		}
	})
	return err
}

// ---------------------------------------------------------------------------
// Event delivery
// ---------------------------------------------------------------------------

// emitOpen delivers OnOpen at most once, and only after Open.
func (c *DataChannel) emitOpen() {
	c.mu.Lock()
	if c.closed || !c.started || c.opened {
		c.mu.Unlock()
		return
	}
	c.opened = true
	events := c.events
	c.mu.Unlock()

	if events.OnOpen != nil {
		events.OnOpen()
	}
}

// end delivers the single close notification.
func (c *DataChannel) end(ev CloseEvent) {
	c.endOnce.Do(func() {
		c.emit(func(events Events) {
			if events.OnClose != nil {
				events.OnClose(ev)
			}
		})
	})
}

func (c *DataChannel) emit(fn func(Events)) {
	c.mu.Lock()
	closed := c.closed
	events := c.events
	c.mu.Unlock()

	if !closed {
		fn(events)
	}
}
