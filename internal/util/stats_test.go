package util

import "testing"

// TestFormatBytes verifies the fixed-width human-readable rendering.
func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tc := range testCases {
		got := formatBytes(tc.in)
		if got != tc.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tc.in, got, tc.want)
		}
		if len(got) != 8 {
			t.Errorf("formatBytes(%v) length = %d, want 8", tc.in, len(got))
		}
	}
}

// TestStatsCounters verifies that each call counts one message and its bytes.
func TestStatsCounters(t *testing.T) {
	s := &stats{}
	s.AddSent(10)
	s.AddSent(5)
	s.AddRecv(7)

	if got := s.MessagesSent.Load(); got != 2 {
		t.Errorf("MessagesSent = %d, want 2", got)
	}
	if got := s.BytesSent.Load(); got != 15 {
		t.Errorf("BytesSent = %d, want 15", got)
	}
	if got := s.MessagesRecv.Load(); got != 1 {
		t.Errorf("MessagesRecv = %d, want 1", got)
	}
	if got := s.BytesRecv.Load(); got != 7 {
		t.Errorf("BytesRecv = %d, want 7", got)
	}
}

// TestFormatStats verifies the reporter line layout.
func TestFormatStats(t *testing.T) {
	got := formatStats(1536, 0, 3, 12)
	want := "In:  1.5 KiB/s | Out:  0.0   B/s | Msg:   3↓  12↑"
	if got != want {
		t.Errorf("formatStats = %q, want %q", got, want)
	}
}
