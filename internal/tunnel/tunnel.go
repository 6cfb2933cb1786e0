// Package tunnel turns a message transport into a sequence of typed
// instructions, supervises its liveness and reports connection state.
package tunnel

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/1ureka/rdtunnel/internal/protocol"
	"github.com/1ureka/rdtunnel/internal/transport"
	"github.com/1ureka/rdtunnel/internal/util"
)

var (
	// ErrAlreadyConnected is returned by a second call to Connect.
	ErrAlreadyConnected = errors.New("tunnel: already connected")

	// ErrClosed is returned by Connect once the tunnel has closed. A new
	// Tunnel is required to reconnect.
	ErrClosed = errors.New("tunnel: closed")
)

// authPrefix starts the raw credential line sent once the transport opens.
const authPrefix = "auth "

// Tunnel is the application-facing side of an instruction tunnel. It owns its
// Transport exclusively for its whole lifetime.
//
// All state changes happen under one mutex, and callbacks are delivered
// serially in the order the changes happened, never while the mutex is held.
// Callbacks may therefore call back into the Tunnel.
type Tunnel struct {
	tr     transport.Transport
	opts   options
	sup    *supervisor
	events dispatcher

	mu            sync.Mutex
	state         State
	uuid          string
	token         string
	started       bool // Connect has handed the transport its events
	transportOpen bool
	established   bool // first instruction seen
	disconnected  bool // Disconnect was called
	lastPing      int64
	stopCtx       func() bool

	onInstruction func(opcode string, args []string)
	onStateChange func(State)
	onUUID        func(uuid string)
	onError       func(protocol.Status)
}

// New creates a Tunnel over tr in the CONNECTING state. Nothing happens on
// the transport until Connect is called.
func New(tr transport.Transport, opts ...Option) (*Tunnel, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	t := &Tunnel{
		tr:    tr,
		opts:  o,
		state: StateConnecting,
	}

	t.sup = newSupervisor(o)
	t.sup.onUnstable = t.unstableExpired
	t.sup.onTimeout = t.receiveExpired
	t.sup.onKeepalive = t.keepaliveDue

	return t, nil
}

// ---------------------------------------------------------------------------
// Event registration
// ---------------------------------------------------------------------------

// OnInstruction registers the handler for every non-internal instruction, in
// arrival order.
func (t *Tunnel) OnInstruction(fn func(opcode string, args []string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onInstruction = fn
}

// OnStateChange registers the handler invoked once per actual transition.
func (t *Tunnel) OnStateChange(fn func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

// OnUUID registers the handler invoked when the peer assigns the session UUID.
func (t *Tunnel) OnUUID(fn func(uuid string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUUID = fn
}

// OnError registers the handler invoked with the status of an abnormal close,
// just before the CLOSED state change.
func (t *Tunnel) OnError(fn func(protocol.Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// State returns the current state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// UUID returns the session UUID, or "" if the peer has not assigned one.
func (t *Tunnel) UUID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uuid
}

// Connected reports whether instructions can currently be sent.
func (t *Tunnel) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectedLocked()
}

func (t *Tunnel) connectedLocked() bool {
	return t.state == StateOpen || t.state == StateUnstable
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Connect opens the transport. Once it reports open, token is sent as the
// raw line "auth <token>" and liveness supervision starts. Connect does not
// wait for the connection; progress and failures arrive through the
// registered handlers. Cancelling ctx disconnects the tunnel.
func (t *Tunnel) Connect(ctx context.Context, token string) error {
	t.mu.Lock()
	switch {
	case t.state == StateClosed:
		t.mu.Unlock()
		return ErrClosed
	case t.started:
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.started = true
	t.token = token
	t.mu.Unlock()

	util.LogDebug("tunnel: opening transport")

	// The transport may report open synchronously, so the lock is not held.
	err := t.tr.Open(ctx, transport.Events{
		OnOpen:    t.handleOpen,
		OnMessage: t.handleMessage,
		OnClose:   t.handleClose,
		OnError:   t.handleError,
	})
	if err != nil {
		t.run(func() {
			t.closeLocked(protocol.NewStatus(protocol.StatusUpstreamNotFound, err.Error()))
		})
		return err
	}

	stop := context.AfterFunc(ctx, t.Disconnect)
	t.mu.Lock()
	if t.state == StateClosed {
		stop()
	} else {
		t.stopCtx = stop
	}
	t.mu.Unlock()

	return nil
}

// Disconnect closes the tunnel gracefully with SUCCESS. No OnError is fired.
// It is a no-op once the tunnel is closed.
func (t *Tunnel) Disconnect() {
	t.run(func() {
		if t.state == StateClosed {
			return
		}
		t.disconnected = true
		t.closeLocked(protocol.NewStatus(protocol.StatusSuccess, ""))
	})
}

// SendInstruction encodes and sends one instruction. It is silently dropped
// unless the tunnel is OPEN or UNSTABLE.
func (t *Tunnel) SendInstruction(opcode string, args ...string) {
	t.run(func() {
		t.sendLocked(opcode, args...)
	})
}

// ---------------------------------------------------------------------------
// Transport events
// ---------------------------------------------------------------------------

func (t *Tunnel) handleOpen() {
	t.run(func() {
		if t.state == StateClosed || t.transportOpen {
			return
		}
		t.transportOpen = true
		util.LogDebug("tunnel: transport open, sending credentials")

		line := authPrefix + t.token
		if err := t.tr.Send(line); err != nil {
			t.failLocked(err)
			return
		}
		util.Stats.AddSent(len(line))
		t.sup.start()
	})
}

func (t *Tunnel) handleMessage(text string) {
	t.run(func() {
		if t.state == StateClosed {
			return
		}
		util.Stats.AddRecv(len(text))

		instructions, err := protocol.Decode(text)
		for _, ins := range instructions {
			t.receiveLocked(ins)
		}
		if err != nil {
			util.LogError("tunnel: %v", err)
			t.closeLocked(protocol.NewStatus(protocol.StatusServerError, err.Error()))
		}
	})
}

func (t *Tunnel) handleClose(ev transport.CloseEvent) {
	t.run(func() {
		t.closeLocked(protocol.StatusFromClose(ev.Code, ev.Reason))
	})
}

func (t *Tunnel) handleError(err error) {
	t.run(func() {
		t.failLocked(err)
	})
}

// ---------------------------------------------------------------------------
// Supervisor callbacks
// ---------------------------------------------------------------------------

func (t *Tunnel) unstableExpired(gen uint64) {
	t.run(func() {
		if !t.sup.current(gen) {
			return
		}
		util.LogDebug("tunnel: nothing received for %v", t.opts.unstableThreshold)
		t.transitionLocked(eventUnstableExpiry)
	})
}

func (t *Tunnel) receiveExpired(gen uint64) {
	t.run(func() {
		if !t.sup.current(gen) {
			return
		}
		t.closeLocked(protocol.NewStatus(protocol.StatusUpstreamTimeout, "Server timeout."))
	})
}

func (t *Tunnel) keepaliveDue() {
	t.run(func() {
		if !t.sup.running() {
			return
		}

		// Timestamps must strictly increase even if the clock does not.
		ts := t.opts.clock.Now().UnixMilli()
		if ts <= t.lastPing {
			ts = t.lastPing + 1
		}
		t.lastPing = ts

		t.sendLocked(protocol.InternalOpcode, protocol.KeepalivePing, strconv.FormatInt(ts, 10))
		t.sup.scheduleKeepalive()
	})
}

// ---------------------------------------------------------------------------
// Internals (t.mu held)
// ---------------------------------------------------------------------------

// run executes fn under the lock, then delivers whatever callbacks it posted.
func (t *Tunnel) run(fn func()) {
	t.mu.Lock()
	fn()
	t.mu.Unlock()
	t.events.flush()
}

// receiveLocked handles one decoded instruction.
func (t *Tunnel) receiveLocked(ins protocol.Instruction) {
	if t.state == StateClosed {
		return
	}
	t.sup.reset()

	if !t.established {
		t.established = true
		if ins.Internal() && len(ins.Args) > 0 {
			t.uuid = ins.Args[0]
			util.LogDebug("tunnel: session UUID %s", t.uuid)
			if fn := t.onUUID; fn != nil {
				uuid := t.uuid
				t.events.post(func() { fn(uuid) })
			}
		}
	}
	t.transitionLocked(eventInstruction)

	if ins.Internal() {
		return
	}
	if fn := t.onInstruction; fn != nil {
		t.events.post(func() {
			// Nothing is delivered once the caller has asked to disconnect.
			t.mu.Lock()
			drop := t.disconnected
			t.mu.Unlock()
			if !drop {
				fn(ins.Opcode, ins.Args)
			}
		})
	}
}

// sendLocked is the outbound gate.
func (t *Tunnel) sendLocked(opcode string, args ...string) {
	if !t.connectedLocked() {
		return
	}

	text := protocol.Encode(opcode, args...)
	if err := t.tr.Send(text); err != nil {
		t.failLocked(err)
		return
	}
	util.Stats.AddSent(len(text))
}

// transitionLocked applies ev and posts a state change if the state moved.
func (t *Tunnel) transitionLocked(ev event) {
	to := next(t.state, ev)
	if to == t.state {
		return
	}
	util.LogDebug("tunnel: %s -> %s", t.state, to)
	t.state = to

	if fn := t.onStateChange; fn != nil {
		t.events.post(func() { fn(to) })
	}
}

// failLocked closes after a transport error, inferring the status the same
// way as a close without code or reason.
func (t *Tunnel) failLocked(err error) {
	status := protocol.StatusFromClose(0, "")
	status.Message = err.Error()
	t.closeLocked(status)
}

// closeLocked is the single close path. Timers and keepalive are cancelled
// before the transport is closed, an abnormal status is reported, and the
// tunnel moves to CLOSED exactly once.
func (t *Tunnel) closeLocked(status protocol.Status) {
	if t.state == StateClosed {
		return
	}

	t.sup.stop()
	if t.stopCtx != nil {
		t.stopCtx()
		t.stopCtx = nil
	}
	if t.started {
		if err := t.tr.Close(); err != nil {
			util.LogDebug("tunnel: closing transport: %v", err)
		}
	}

	if status.IsError() {
		util.LogWarning("tunnel closed abnormally: %v", status)
		if fn := t.onError; fn != nil {
			t.events.post(func() { fn(status) })
		}
	}

	t.transitionLocked(eventClose)
}
