package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// receiver applies incoming signaling messages to the PeerConnection.
type receiver struct {
	pc     *webrtc.PeerConnection
	conn   *websocket.Conn
	sender *sender

	// Candidates can overtake the description they belong to; they are held
	// until a remote description is set.
	pending []webrtc.ICECandidateInit
}

// watch reads messages until the WebSocket fails or closes.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read signaling message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.setRemote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return fmt.Errorf("failed to send answer: %w", err)
			}

		case msgTypeAnswer:
			if err := r.setRemote(webrtc.SDPTypeAnswer, msg.SDP); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if r.pc.RemoteDescription() == nil {
				r.pending = append(r.pending, init)
				continue
			}
			if err := r.pc.AddICECandidate(init); err != nil {
				return fmt.Errorf("failed to add ICE candidate: %w", err)
			}
		}
	}
}

// setRemote applies the remote description, then any held candidates.
func (r *receiver) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := r.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to set remote %s: %w", typ, err)
	}

	for _, init := range r.pending {
		if err := r.pc.AddICECandidate(init); err != nil {
			return fmt.Errorf("failed to add ICE candidate: %w", err)
		}
	}
	r.pending = nil
	return nil
}
