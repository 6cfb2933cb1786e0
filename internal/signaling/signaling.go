package signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rdtunnel/internal/transport"
	"github.com/1ureka/rdtunnel/internal/util"
)

// openTimeout bounds the wait for the DataChannel once the signaling
// WebSocket has gone away after a completed exchange.
const openTimeout = 30 * time.Second

// Dial connects to the signaling endpoint at url, answers the gateway's offer
// and returns the DataChannel transport once it is open. The WebSocket is
// only used for negotiation and is closed before Dial returns.
func Dial(ctx context.Context, url string, stunServers []string) (*transport.DataChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	defer conn.Close()
	util.LogDebug("signaling: connected to %s", url)

	return establish(ctx, conn, stunServers, false)
}

// Offer negotiates over an already-accepted signaling WebSocket, sending the
// offer first. It is the gateway-side counterpart of Dial. The caller keeps
// ownership of conn.
func Offer(ctx context.Context, conn *websocket.Conn, stunServers []string) (*transport.DataChannel, error) {
	return establish(ctx, conn, stunServers, true)
}

// establish runs the SDP/ICE exchange and waits for the DataChannel to open.
func establish(ctx context.Context, conn *websocket.Conn, stunServers []string, offerer bool) (*transport.DataChannel, error) {
	dc, err := transport.NewPeer(stunServers)
	if err != nil {
		return nil, err
	}

	s := &sender{pc: dc.Peer(), conn: conn}
	r := &receiver{pc: dc.Peer(), conn: conn, sender: s}

	// Trickle ICE, best effort.
	dc.Peer().OnICECandidate(func(c *webrtc.ICECandidate) {
		if err := s.sendCandidate(c); err != nil {
			util.LogDebug("signaling: failed to send ICE candidate: %v", err)
		}
	})

	// Exits once conn is closed by the caller.
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	if offerer {
		if err := s.sendOffer(); err != nil {
			dc.Close()
			return nil, fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-dc.Ready():
		util.LogInfo("WebRTC DataChannel established")
		return dc, nil

	case err := <-errCh:
		// The remote side may close signaling as soon as its end of the
		// channel opens, before ours does.
		if dc.Peer().RemoteDescription() == nil {
			dc.Close()
			return nil, fmt.Errorf("signaling failed: %w", err)
		}
		util.LogDebug("signaling: closed after negotiation: %v", err)

		timer := time.NewTimer(openTimeout)
		defer timer.Stop()
		select {
		case <-dc.Ready():
			util.LogInfo("WebRTC DataChannel established")
			return dc, nil
		case <-timer.C:
			dc.Close()
			return nil, fmt.Errorf("DataChannel did not open within %v", openTimeout)
		case <-ctx.Done():
			dc.Close()
			return nil, ctx.Err()
		}

	case <-ctx.Done():
		dc.Close()
		return nil, ctx.Err()
	}
}
