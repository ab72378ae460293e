package metrics

import (
	"context"

	"github.com/rongxinyin/pezzrr-app/core/events"
	"github.com/rongxinyin/pezzrr-app/infra/logger"
	"github.com/rongxinyin/pezzrr-app/internal/eventbus"
)

// Forwarder consumes the event bus and feeds typed records into a sink. It
// decouples the control loop from sink latency: a slow sink drops records
// instead of stalling dispatch.
type Forwarder struct {
	bus  eventbus.EventBus
	sink Sink
	log  logger.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(bus eventbus.EventBus, sink Sink) *Forwarder {
	return &Forwarder{bus: bus, sink: sink, log: logger.New("metrics-forwarder")}
}

// Run consumes bus events until the context is cancelled or the bus closes.
func (f *Forwarder) Run(ctx context.Context) {
	sub := f.bus.Subscribe()
	defer f.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			f.record(ev)
		}
	}
}

func (f *Forwarder) record(ev eventbus.Event) {
	var err error
	switch e := ev.(type) {
	case events.ActionEvent:
		err = f.sink.RecordAction(e)
	case events.SettlementEvent:
		if rec, ok := f.sink.(SettlementRecorder); ok {
			err = rec.RecordSettlement(e)
		}
	case events.TransitionEvent:
		if rec, ok := f.sink.(TransitionRecorder); ok {
			err = rec.RecordTransition(e)
		}
	case events.PlanEvent:
		if rec, ok := f.sink.(PlanRecorder); ok {
			err = rec.RecordPlan(e)
		}
	}
	if err != nil {
		f.log.Errorf("record: %v", err)
	}
}
