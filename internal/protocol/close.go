package protocol

import (
	"strconv"

	"github.com/gorilla/websocket"
)

// closeBadGateway is RFC 6455 registry code 1014, which gorilla does not name.
const closeBadGateway = 1014

// StatusFromCloseCode translates a WebSocket close code into a protocol status
// code. Codes without an entry map to SERVER_ERROR.
func StatusFromCloseCode(code int) StatusCode {
	switch code {
	case websocket.CloseNormalClosure:
		return StatusSuccess

	// The server could not be reached at all.
	case websocket.CloseAbnormalClosure,
		websocket.CloseTLSHandshake:
		return StatusUpstreamNotFound

	// The server was reached but is going away or temporarily unavailable.
	case websocket.CloseGoingAway,
		websocket.CloseServiceRestart,
		websocket.CloseTryAgainLater,
		closeBadGateway:
		return StatusUpstreamUnavailable

	default:
		return StatusServerError
	}
}

// StatusFromClose infers the status of a transport close. A numeric reason is
// an explicit status sent by the peer and wins; otherwise a non-zero close
// code goes through StatusFromCloseCode; with neither, the upstream is assumed
// unreachable.
func StatusFromClose(code int, reason string) Status {
	if reason != "" {
		if explicit, err := strconv.Atoi(reason); err == nil {
			return NewStatus(StatusCode(explicit), reason)
		}
	}

	if code != 0 {
		return NewStatus(StatusFromCloseCode(code), reason)
	}

	return NewStatus(StatusUpstreamNotFound, "connection closed without a close code")
}
