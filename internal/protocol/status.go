package protocol

import "fmt"

// StatusCode is a protocol status code. SUCCESS is the only code that denotes
// a graceful close.
type StatusCode int

const (
	StatusSuccess             StatusCode = 0x0000
	StatusUnsupported         StatusCode = 0x0100
	StatusServerError         StatusCode = 0x0200
	StatusServerBusy          StatusCode = 0x0201
	StatusUpstreamTimeout     StatusCode = 0x0202
	StatusUpstreamError       StatusCode = 0x0203
	StatusResourceNotFound    StatusCode = 0x0204
	StatusResourceConflict    StatusCode = 0x0205
	StatusResourceClosed      StatusCode = 0x0206
	StatusUpstreamNotFound    StatusCode = 0x0207
	StatusUpstreamUnavailable StatusCode = 0x0208
	StatusSessionConflict     StatusCode = 0x0209
	StatusSessionTimeout      StatusCode = 0x020A
	StatusSessionClosed       StatusCode = 0x020B
	StatusClientBadRequest    StatusCode = 0x0300
	StatusClientUnauthorized  StatusCode = 0x0301
	StatusClientForbidden     StatusCode = 0x0303
	StatusClientTimeout       StatusCode = 0x0308
	StatusClientOverrun       StatusCode = 0x030D
	StatusClientBadType       StatusCode = 0x030F
	StatusClientTooMany       StatusCode = 0x031D
)

// String returns the protocol name of the code.
func (c StatusCode) String() string {
	switch c {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusServerError:
		return "SERVER_ERROR"
	case StatusServerBusy:
		return "SERVER_BUSY"
	case StatusUpstreamTimeout:
		return "UPSTREAM_TIMEOUT"
	case StatusUpstreamError:
		return "UPSTREAM_ERROR"
	case StatusResourceNotFound:
		return "RESOURCE_NOT_FOUND"
	case StatusResourceConflict:
		return "RESOURCE_CONFLICT"
	case StatusResourceClosed:
		return "RESOURCE_CLOSED"
	case StatusUpstreamNotFound:
		return "UPSTREAM_NOT_FOUND"
	case StatusUpstreamUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	case StatusSessionConflict:
		return "SESSION_CONFLICT"
	case StatusSessionTimeout:
		return "SESSION_TIMEOUT"
	case StatusSessionClosed:
		return "SESSION_CLOSED"
	case StatusClientBadRequest:
		return "CLIENT_BAD_REQUEST"
	case StatusClientUnauthorized:
		return "CLIENT_UNAUTHORIZED"
	case StatusClientForbidden:
		return "CLIENT_FORBIDDEN"
	case StatusClientTimeout:
		return "CLIENT_TIMEOUT"
	case StatusClientOverrun:
		return "CLIENT_OVERRUN"
	case StatusClientBadType:
		return "CLIENT_BAD_TYPE"
	case StatusClientTooMany:
		return "CLIENT_TOO_MANY"
	default:
		return fmt.Sprintf("STATUS_0x%04X", int(c))
	}
}

// Status is the outcome attached to a tunnel close.
type Status struct {
	Code    StatusCode
	Message string
}

// NewStatus returns a Status with the given code and message.
func NewStatus(code StatusCode, message string) Status {
	return Status{Code: code, Message: message}
}

// IsError reports whether the status denotes an abnormal close.
func (s Status) IsError() bool {
	return s.Code != StatusSuccess
}

// Error implements error so abnormal statuses can be returned and wrapped.
func (s Status) Error() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}
