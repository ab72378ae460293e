// Package metrics exports the control loop's observable record: Prometheus
// collectors over HTTP and action/settlement history to InfluxDB.
package metrics

import (
	"github.com/rongxinyin/pezzrr-app/core/events"
)

// Sink records action attempt outcomes. Further record kinds are optional
// capabilities a sink may also implement.
type Sink interface {
	RecordAction(ev events.ActionEvent) error
}

// SettlementRecorder records per-participant settlement results.
type SettlementRecorder interface {
	RecordSettlement(ev events.SettlementEvent) error
}

// TransitionRecorder records event status transitions.
type TransitionRecorder interface {
	RecordTransition(ev events.TransitionEvent) error
}

// PlanRecorder records planning passes.
type PlanRecorder interface {
	RecordPlan(ev events.PlanEvent) error
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) RecordAction(events.ActionEvent) error         { return nil }
func (NopSink) RecordSettlement(events.SettlementEvent) error { return nil }
func (NopSink) RecordTransition(events.TransitionEvent) error { return nil }
func (NopSink) RecordPlan(events.PlanEvent) error             { return nil }

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAction forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordAction(ev events.ActionEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAction(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordSettlement forwards settlement records to sinks that support them.
func (m *MultiSink) RecordSettlement(ev events.SettlementEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SettlementRecorder); ok {
			if err := rec.RecordSettlement(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordTransition forwards transition records to sinks that support them.
func (m *MultiSink) RecordTransition(ev events.TransitionEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(TransitionRecorder); ok {
			if err := rec.RecordTransition(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordPlan forwards plan records to sinks that support them.
func (m *MultiSink) RecordPlan(ev events.PlanEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(PlanRecorder); ok {
			if err := rec.RecordPlan(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
