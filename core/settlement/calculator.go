// Package settlement computes credited performance for event participants.
// The computation is a pure function of baselines and stored telemetry, so
// re-running it on unchanged inputs yields identical results.
package settlement

import (
	"context"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/events"
	"github.com/rongxinyin/pezzrr-app/core/logger"
	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/telemetry"
	"github.com/rongxinyin/pezzrr-app/internal/eventbus"
)

// Calculator settles participants of completed events.
type Calculator struct {
	history telemetry.HistoryReader
	bus     eventbus.EventBus
	log     logger.Logger
}

// New creates a Calculator.
func New(history telemetry.HistoryReader, bus eventbus.EventBus, log logger.Logger) *Calculator {
	return &Calculator{history: history, bus: bus, log: log}
}

// Settle fills the measured fields for every participant of the event and
// returns the settled copies. The input slice is not mutated. Settlement only
// runs once the event has left active; callers enforce that.
func (c *Calculator) Settle(ctx context.Context, ev *model.DREvent, parts []model.Participant, now time.Time) []model.Participant {
	out := make([]model.Participant, len(parts))
	for i, p := range parts {
		out[i] = c.settleOne(ctx, ev, p, now)
		if c.bus != nil {
			c.bus.Publish(events.SettlementEvent{
				EventRef:         ev.Reference,
				HomeID:           p.HomeID,
				PerformanceScore: out[i].PerformanceScore,
				SettlementKWh:    out[i].SettlementKWh,
				Flags:            out[i].DataFlags,
			})
		}
	}
	return out
}

func (c *Calculator) settleOne(ctx context.Context, ev *model.DREvent, p model.Participant, now time.Time) model.Participant {
	// Recomputation starts from a clean measured state.
	p.ActualReductionKW = 0
	p.PerformanceScore = 0
	p.SettlementKWh = 0
	p.DataFlags = nil

	if p.BaselineKW == nil {
		p.DataFlags = append(p.DataFlags, model.FlagBaselineMissing)
		c.log.Warnf("participant %s/%s has no baseline, scored 0", ev.Reference, p.HomeID)
		t := now
		p.SettledAt = &t
		return p
	}

	measured, err := c.history.MeanPowerKW(ctx, p.HomeID, ev.Start, ev.End)
	if err != nil {
		p.DataFlags = append(p.DataFlags, model.FlagMeasurementMissing)
		c.log.Errorf("measured usage unavailable for %s/%s: %v", ev.Reference, p.HomeID, err)
		t := now
		p.SettledAt = &t
		return p
	}

	p.ActualReductionKW = *p.BaselineKW - measured
	if p.ReductionTargetKW > 0 {
		p.PerformanceScore = clamp(p.ActualReductionKW/p.ReductionTargetKW, 0, 1)
	} else {
		p.DataFlags = append(p.DataFlags, model.FlagTargetInvalid)
	}
	if !ev.TestEvent {
		credited := p.ActualReductionKW
		if credited < 0 {
			credited = 0
		}
		p.SettlementKWh = credited * ev.Window().Hours()
	}
	t := now
	p.SettledAt = &t
	return p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
