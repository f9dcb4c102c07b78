package session

import "testing"

func TestStatusAdvance(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusStarting, StatusRunning, true},
		{StatusRunning, StatusStopping, true},
		{StatusStopping, StatusStopped, true},
		{StatusRunning, StatusStarting, false},
		{StatusStopped, StatusRunning, false},
		{StatusRunning, StatusRunning, true},
	}
	for _, tt := range tests {
		if got := tt.from.advance(tt.to); got != tt.want {
			t.Errorf("%s.advance(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestToSummary(t *testing.T) {
	s := &Session{ID: "abc", Status: StatusRunning, ExecutionCount: 3}
	summary := s.ToSummary()
	if summary.ID != "abc" || summary.Status != StatusRunning || summary.ExecutionCount != 3 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}
