package position

import "testing"

func TestUnrealizedPct(t *testing.T) {
	if got := UnrealizedPct(100, 112); got < 11.999 || got > 12.001 {
		t.Fatalf("expected 12, got %v", got)
	}
	if got := UnrealizedPct(100, 96); got != -4 {
		t.Fatalf("expected -4, got %v", got)
	}
	if got := UnrealizedPct(0, 96); got != 0 {
		t.Fatalf("expected 0 without entry, got %v", got)
	}
}

func TestLossGate(t *testing.T) {
	cases := []struct {
		acceptable float64
		pnl        float64
		want       bool
	}{
		{-1, -0.01, false},
		{-1, 0, true},
		{-1, 5, true},
		{2, -1.5, true},
		{2, -2, true},
		{2, -2.5, false},
		{0, -0.1, false},
	}
	for _, tc := range cases {
		if got := LossGate(tc.acceptable, tc.pnl); got != tc.want {
			t.Fatalf("LossGate(%v, %v): expected %v, got %v", tc.acceptable, tc.pnl, tc.want, got)
		}
	}
}

func TestRoundDown(t *testing.T) {
	if got := roundDown(1.23456789, 3); got != 1.234 {
		t.Fatalf("expected 1.234, got %v", got)
	}
	if got := roundDown(0.3, 1); got != 0.3 {
		t.Fatalf("expected 0.3, got %v", got)
	}
	if got := roundDown(0.0004, 3); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestStatusTransitions(t *testing.T) {
	if nextStatus(StatusFlat, EventEntryFilled) != StatusOpen {
		t.Fatalf("expected open after entry fill")
	}
	if nextStatus(StatusOpen, EventReduced) != StatusOpen {
		t.Fatalf("reduction keeps the position open")
	}
	if nextStatus(StatusOpen, EventClosed) != StatusFlat {
		t.Fatalf("expected flat after close")
	}
	if nextStatus(StatusFlat, EventClosed) != StatusFlat {
		t.Fatalf("invalid transition should not change status")
	}
	if nextStatus(StatusOpen, EventEntryFilled) != StatusOpen {
		t.Fatalf("invalid transition should not change status")
	}
}
