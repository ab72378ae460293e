package metrics

import (
	"fmt"
	"testing"

	"github.com/rongxinyin/pezzrr-app/core/events"
)

type recordSink struct {
	actions     int
	settlements int
	transitions int
	plans       int
	err         error
}

func (r *recordSink) RecordAction(events.ActionEvent) error {
	r.actions++
	return r.err
}

func (r *recordSink) RecordSettlement(events.SettlementEvent) error {
	r.settlements++
	return r.err
}

func (r *recordSink) RecordTransition(events.TransitionEvent) error {
	r.transitions++
	return r.err
}

func (r *recordSink) RecordPlan(events.PlanEvent) error {
	r.plans++
	return r.err
}

// actionOnlySink implements only the mandatory capability.
type actionOnlySink struct{ actions int }

func (a *actionOnlySink) RecordAction(events.ActionEvent) error {
	a.actions++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordAction(events.ActionEvent{}); err != nil {
		t.Fatalf("record action: %v", err)
	}
	if err := m.RecordSettlement(events.SettlementEvent{}); err != nil {
		t.Fatalf("record settlement: %v", err)
	}
	if err := m.RecordTransition(events.TransitionEvent{}); err != nil {
		t.Fatalf("record transition: %v", err)
	}
	if err := m.RecordPlan(events.PlanEvent{}); err != nil {
		t.Fatalf("record plan: %v", err)
	}
	if s1.actions != 1 || s2.actions != 1 || s1.settlements != 1 || s2.plans != 1 {
		t.Fatalf("records not forwarded: %+v %+v", s1, s2)
	}
}

func TestMultiSinkSkipsUnsupportedCapabilities(t *testing.T) {
	a := &actionOnlySink{}
	m := NewMultiSink(a)
	if err := m.RecordSettlement(events.SettlementEvent{}); err != nil {
		t.Fatalf("settlement on action-only sink: %v", err)
	}
	if err := m.RecordAction(events.ActionEvent{}); err != nil {
		t.Fatalf("record action: %v", err)
	}
	if a.actions != 1 {
		t.Fatalf("action not forwarded")
	}
}

func TestMultiSinkPropagatesError(t *testing.T) {
	bad := &recordSink{err: fmt.Errorf("sink down")}
	m := NewMultiSink(bad, &recordSink{})
	if err := m.RecordAction(events.ActionEvent{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNopSink(t *testing.T) {
	var s NopSink
	if err := s.RecordAction(events.ActionEvent{}); err != nil {
		t.Fatalf("nop action: %v", err)
	}
	if err := s.RecordSettlement(events.SettlementEvent{}); err != nil {
		t.Fatalf("nop settlement: %v", err)
	}
}
