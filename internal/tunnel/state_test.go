package tunnel

import "testing"

func TestTransitions(t *testing.T) {
	testCases := []struct {
		from State
		ev   event
		want State
	}{
		{StateConnecting, eventInstruction, StateOpen},
		{StateConnecting, eventUnstableExpiry, StateUnstable},
		{StateConnecting, eventClose, StateClosed},
		{StateOpen, eventInstruction, StateOpen},
		{StateOpen, eventUnstableExpiry, StateUnstable},
		{StateOpen, eventClose, StateClosed},
		{StateUnstable, eventInstruction, StateOpen},
		{StateUnstable, eventUnstableExpiry, StateUnstable},
		{StateUnstable, eventClose, StateClosed},
		{StateClosed, eventInstruction, StateClosed},
		{StateClosed, eventUnstableExpiry, StateClosed},
		{StateClosed, eventClose, StateClosed},
	}

	for _, tc := range testCases {
		if got := next(tc.from, tc.ev); got != tc.want {
			t.Errorf("next(%s, %d) = %s, want %s", tc.from, tc.ev, got, tc.want)
		}
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateConnecting: "CONNECTING",
		StateOpen:       "OPEN",
		StateUnstable:   "UNSTABLE",
		StateClosed:     "CLOSED",
		State(42):       "UNKNOWN",
	}
	for s, name := range want {
		if got := s.String(); got != name {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, name)
		}
	}
}
