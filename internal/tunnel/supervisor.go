package tunnel

import (
	"time"

	"github.com/1ureka/rdtunnel/internal/clock"
)

// supervisor owns the receive-timeout timer, the unstable-threshold timer and
// the keepalive schedule. It is not safe for concurrent use; the tunnel calls
// it with its mutex held.
//
// Deadline callbacks receive the generation they were armed with. A callback
// whose generation is no longer current lost a race with reset or stop and
// must do nothing. Keepalive callbacks check running instead.
type supervisor struct {
	clock             clock.Clock
	receiveTimeout    time.Duration
	unstableThreshold time.Duration
	keepaliveInterval time.Duration

	onUnstable  func(gen uint64)
	onTimeout   func(gen uint64)
	onKeepalive func()

	gen       uint64
	active    bool
	receive   *clock.Timer
	unstable  *clock.Timer
	keepalive *clock.Timer
}

func newSupervisor(o options) *supervisor {
	return &supervisor{
		clock:             o.clock,
		receiveTimeout:    o.receiveTimeout,
		unstableThreshold: o.unstableThreshold,
		keepaliveInterval: o.keepaliveInterval,
	}
}

// start arms both deadlines and the first keepalive.
func (s *supervisor) start() {
	s.active = true
	s.reset()
	s.scheduleKeepalive()
}

// reset restarts both deadlines from now.
func (s *supervisor) reset() {
	if !s.active {
		return
	}
	s.stopDeadlines()
	s.gen++
	gen := s.gen
	s.unstable = s.clock.AfterFunc(s.unstableThreshold, func() { s.onUnstable(gen) })
	s.receive = s.clock.AfterFunc(s.receiveTimeout, func() { s.onTimeout(gen) })
}

// scheduleKeepalive arms the next keepalive tick.
func (s *supervisor) scheduleKeepalive() {
	if !s.active {
		return
	}
	if s.keepalive != nil {
		s.keepalive.Stop()
	}
	s.keepalive = s.clock.AfterFunc(s.keepaliveInterval, s.onKeepalive)
}

// current reports whether a deadline callback armed with gen may still act.
func (s *supervisor) current(gen uint64) bool {
	return s.active && gen == s.gen
}

// running reports whether the supervisor has been started and not stopped.
func (s *supervisor) running() bool {
	return s.active
}

// stop cancels everything. It is final.
func (s *supervisor) stop() {
	s.active = false
	s.gen++
	s.stopDeadlines()
	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive = nil
	}
}

func (s *supervisor) stopDeadlines() {
	if s.unstable != nil {
		s.unstable.Stop()
		s.unstable = nil
	}
	if s.receive != nil {
		s.receive.Stop()
		s.receive = nil
	}
}
