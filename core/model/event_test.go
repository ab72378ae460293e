package model

import (
	"testing"
	"time"
)

func TestTransitionLifecycle(t *testing.T) {
	now := time.Date(2025, 7, 1, 17, 0, 0, 0, time.UTC)
	ev := &DREvent{Reference: "evt-1", Status: StatusPending}
	if err := ev.Transition(StatusActive, now); err != nil {
		t.Fatalf("pending->active: %v", err)
	}
	if ev.Status != StatusActive || !ev.UpdatedAt.Equal(now) {
		t.Fatalf("got status %s, updated %s", ev.Status, ev.UpdatedAt)
	}
	if err := ev.Transition(StatusCompleted, now.Add(time.Hour)); err != nil {
		t.Fatalf("active->completed: %v", err)
	}
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	now := time.Now()
	cases := []struct {
		from, to EventStatus
	}{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusActive, StatusPending},
		{StatusActive, StatusActive},
	}
	for _, c := range cases {
		ev := &DREvent{Reference: "evt-x", Status: c.from}
		if err := ev.Transition(c.to, now); err == nil {
			t.Errorf("transition %s -> %s allowed", c.from, c.to)
		}
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	now := time.Now()
	for _, terminal := range []EventStatus{StatusCompleted, StatusCancelled, StatusFailed} {
		for _, to := range []EventStatus{StatusPending, StatusActive, StatusCompleted, StatusCancelled, StatusFailed} {
			ev := &DREvent{Reference: "evt-t", Status: terminal}
			if err := ev.Transition(to, now); err == nil {
				t.Errorf("terminal %s allowed transition to %s", terminal, to)
			}
		}
	}
}

func TestParseSignalType(t *testing.T) {
	for _, s := range []string{"load_reduction", "emergency", "price_response"} {
		typ, err := ParseSignalType(s)
		if err != nil {
			t.Fatalf("parse %s: %v", s, err)
		}
		if typ.String() != s {
			t.Fatalf("roundtrip %s got %s", s, typ)
		}
	}
	if _, err := ParseSignalType("dr_fast"); err == nil {
		t.Fatal("unknown signal type accepted")
	}
}

func TestUnitEligible(t *testing.T) {
	u := Unit{ID: "u1", HomeID: "h1", Controllable: true}
	if !u.Eligible() {
		t.Fatal("controllable non-critical unit should be eligible")
	}
	u.Critical = true
	if u.Eligible() {
		t.Fatal("critical unit must never be eligible")
	}
	u.Critical = false
	u.Controllable = false
	if u.Eligible() {
		t.Fatal("non-controllable unit must not be eligible")
	}
}
