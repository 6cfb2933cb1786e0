package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/1ureka/rdtunnel/internal/protocol"
	"github.com/1ureka/rdtunnel/internal/transport"
	"github.com/1ureka/rdtunnel/internal/tunnel"
)

// session runs a tunnel over the client end of a loopback pair and collects
// what it reports.
type session struct {
	tun      *tunnel.Tunnel
	gateway  *transport.DataChannel
	inbound  chan string // messages the gateway received
	states   chan tunnel.State
	uuids    chan string
	failures chan protocol.Status
}

func newSession(t *testing.T) *session {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping WebRTC negotiation in short mode")
	}

	client, gateway := transport.LoopbackPair(t)
	s := &session{
		gateway:  gateway,
		inbound:  make(chan string, 64),
		states:   make(chan tunnel.State, 8),
		uuids:    make(chan string, 1),
		failures: make(chan protocol.Status, 1),
	}

	err := gateway.Open(context.Background(), transport.Events{
		OnMessage: func(text string) { s.inbound <- text },
	})
	if err != nil {
		t.Fatalf("gateway Open failed: %v", err)
	}

	tun, err := tunnel.New(client)
	if err != nil {
		t.Fatalf("tunnel.New failed: %v", err)
	}
	tun.OnStateChange(func(st tunnel.State) { s.states <- st })
	tun.OnUUID(func(id string) { s.uuids <- id })
	tun.OnError(func(st protocol.Status) { s.failures <- st })
	s.tun = tun

	if err := tun.Connect(context.Background(), "secret"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(tun.Disconnect)
	return s
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

// bringUp authenticates the session and assigns it a UUID.
func (s *session) bringUp(t *testing.T) {
	t.Helper()
	if got := receive(t, s.inbound, "auth line"); got != "auth secret" {
		t.Fatalf("first message = %q, want %q", got, "auth secret")
	}
	if err := s.gateway.Send(protocol.Encode(protocol.InternalOpcode, "uuid-1")); err != nil {
		t.Fatalf("gateway Send failed: %v", err)
	}
	if got := receive(t, s.uuids, "uuid"); got != "uuid-1" {
		t.Fatalf("UUID = %q, want uuid-1", got)
	}
	if got := receive(t, s.states, "open state"); got != tunnel.StateOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}
}

func (s *session) expectFailure(t *testing.T, want protocol.StatusCode) {
	t.Helper()
	if got := receive(t, s.failures, "error"); got.Code != want {
		t.Fatalf("error = %v, want %v", got, want)
	}
	// The gateway is silent after bring-up, so UNSTABLE may come first.
	got := receive(t, s.states, "closed state")
	if got == tunnel.StateUnstable {
		got = receive(t, s.states, "closed state")
	}
	if got != tunnel.StateClosed {
		t.Fatalf("state = %s, want CLOSED", got)
	}
}

// TestTunnelOverDataChannel exchanges instructions through a tunnel riding a
// real DataChannel.
func TestTunnelOverDataChannel(t *testing.T) {
	s := newSession(t)
	s.bringUp(t)

	s.tun.SendInstruction("key", "65", "1")
	deadline := time.After(5 * time.Second)
	for {
		var text string
		select {
		case text = <-s.inbound:
		case <-deadline:
			t.Fatal("instruction never reached the gateway")
		}
		instructions, err := protocol.Decode(text)
		if err != nil {
			t.Fatalf("gateway received malformed %q: %v", text, err)
		}
		if len(instructions) == 1 && instructions[0].Opcode == "key" {
			break
		}
	}
}

// TestTunnelOverDataChannelFramingError verifies that a malformed message
// closes the session with SERVER_ERROR.
func TestTunnelOverDataChannelFramingError(t *testing.T) {
	s := newSession(t)
	s.bringUp(t)

	if err := s.gateway.Send("3.abc"); err != nil {
		t.Fatalf("gateway Send failed: %v", err)
	}
	s.expectFailure(t, protocol.StatusServerError)
}

// TestTunnelOverDataChannelRemoteTeardown verifies that the gateway dropping
// the peer connection is an error, not a clean close.
func TestTunnelOverDataChannelRemoteTeardown(t *testing.T) {
	s := newSession(t)
	s.bringUp(t)

	if err := s.gateway.Peer().Close(); err != nil {
		t.Fatalf("gateway Peer().Close failed: %v", err)
	}
	s.expectFailure(t, protocol.StatusUpstreamNotFound)
}
