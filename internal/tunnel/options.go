package tunnel

import (
	"errors"
	"time"

	"github.com/1ureka/rdtunnel/internal/clock"
)

// Defaults for the liveness supervisor.
const (
	DefaultReceiveTimeout    = 15 * time.Second
	DefaultUnstableThreshold = 1500 * time.Millisecond
	DefaultKeepaliveInterval = 500 * time.Millisecond
)

// Option overrides a tunnel parameter.
type Option func(*options)

type options struct {
	receiveTimeout    time.Duration
	unstableThreshold time.Duration
	keepaliveInterval time.Duration
	clock             clock.Clock
}

func defaultOptions() options {
	return options{
		receiveTimeout:    DefaultReceiveTimeout,
		unstableThreshold: DefaultUnstableThreshold,
		keepaliveInterval: DefaultKeepaliveInterval,
		clock:             clock.Real(),
	}
}

// WithReceiveTimeout sets how long the tunnel waits for any instruction
// before closing with UPSTREAM_TIMEOUT.
func WithReceiveTimeout(d time.Duration) Option {
	return func(o *options) { o.receiveTimeout = d }
}

// WithUnstableThreshold sets how long the tunnel waits for any instruction
// before reporting UNSTABLE. It must be shorter than the receive timeout.
func WithUnstableThreshold(d time.Duration) Option {
	return func(o *options) { o.unstableThreshold = d }
}

// WithKeepaliveInterval sets the period of outbound keepalive pings.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(o *options) { o.keepaliveInterval = d }
}

// WithClock replaces the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func (o options) validate() error {
	switch {
	case o.receiveTimeout <= 0:
		return errors.New("tunnel: receive timeout must be positive")
	case o.unstableThreshold <= 0:
		return errors.New("tunnel: unstable threshold must be positive")
	case o.keepaliveInterval <= 0:
		return errors.New("tunnel: keepalive interval must be positive")
	case o.unstableThreshold >= o.receiveTimeout:
		return errors.New("tunnel: unstable threshold must be shorter than the receive timeout")
	case o.clock == nil:
		return errors.New("tunnel: clock must not be nil")
	}
	return nil
}
