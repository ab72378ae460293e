// Package plan turns a ranked candidate list into a bounded action set. The
// selection is greedy in score order: deterministic and cheap at the cost of
// global optimality, which is an accepted trade-off for audit replay.
package plan

import (
	"errors"
	"fmt"

	"github.com/rongxinyin/pezzrr-app/core/ilc"
	"github.com/rongxinyin/pezzrr-app/core/model"
)

// ErrIneligibleUnit reports a critical or non-controllable unit reaching the
// planner. This is a logic fault in the caller, never a recoverable condition.
var ErrIneligibleUnit = errors.New("plan: ineligible unit in candidate list")

// ExhaustionError signals that every eligible candidate was selected and the
// running estimate still falls short of the target. The plan it accompanies is
// partial but must still be dispatched.
type ExhaustionError struct {
	EventRef    string
	TargetKW    float64
	EstimatedKW float64
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("plan: candidates exhausted for event %s: estimated %.2f kW of %.2f kW target",
		e.EventRef, e.EstimatedKW, e.TargetKW)
}

// Action is one planned command with its estimated demand reduction.
type Action struct {
	Unit        model.Unit
	Type        model.ActionType
	EstimatedKW float64
	Score       float64
	DemandKW    float64
}

// Plan is the action set for one planning pass.
type Plan struct {
	EventRef    string
	TargetKW    float64
	EstimatedKW float64
	TargetUnmet bool
	Actions     []Action
}

// Config defines planner parameters.
type Config struct {
	// SetpointDeltaKW is the estimated reduction credited to a thermostat
	// setpoint adjustment.
	SetpointDeltaKW float64 `json:"setpoint_delta_kw"`
	// MinActionKW drops candidates whose estimated reduction is negligible.
	MinActionKW float64 `json:"min_action_kw"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.SetpointDeltaKW <= 0 {
		c.SetpointDeltaKW = 0.8
	}
	if c.MinActionKW < 0 {
		c.MinActionKW = 0
	}
}

// Planner selects curtailment actions under a numeric demand-reduction target.
type Planner struct {
	cfg Config
}

// New creates a Planner.
func New(cfg Config) *Planner {
	cfg.SetDefaults()
	return &Planner{cfg: cfg}
}

// Build walks the candidates in order, skipping units in the skip set, until
// the summed estimate meets the target or candidates run out. A shortfall
// returns the partial plan together with an ExhaustionError; the caller
// dispatches the plan either way.
func (p *Planner) Build(ev *model.DREvent, candidates []ilc.Candidate, skip map[string]bool) (Plan, error) {
	out := Plan{EventRef: ev.Reference, TargetKW: ev.TargetKW}
	if ev.TargetKW <= 0 {
		return out, nil
	}
	for _, c := range candidates {
		if !c.Unit.Eligible() {
			return Plan{}, fmt.Errorf("%w: unit %s (critical=%t controllable=%t)",
				ErrIneligibleUnit, c.Unit.ID, c.Unit.Critical, c.Unit.Controllable)
		}
		if out.EstimatedKW >= ev.TargetKW {
			break
		}
		if skip[c.Unit.ID] {
			continue
		}
		act := Action{
			Unit:     c.Unit,
			Type:     actionFor(c.Unit.Category),
			Score:    c.Score,
			DemandKW: c.DemandKW,
		}
		switch act.Type {
		case model.ActionSetpointAdjust:
			act.EstimatedKW = p.cfg.SetpointDeltaKW
		case model.ActionCurtail:
			act.EstimatedKW = c.DemandKW
		case model.ActionRelease:
			// release is never planned here
			continue
		}
		if act.EstimatedKW <= p.cfg.MinActionKW {
			continue
		}
		out.Actions = append(out.Actions, act)
		out.EstimatedKW += act.EstimatedKW
	}
	if out.EstimatedKW < ev.TargetKW {
		out.TargetUnmet = true
		return out, &ExhaustionError{EventRef: ev.Reference, TargetKW: ev.TargetKW, EstimatedKW: out.EstimatedKW}
	}
	return out, nil
}

// actionFor maps a device category to the command used to shed its load.
// Thermostats are nudged rather than switched off.
func actionFor(cat model.DeviceCategory) model.ActionType {
	switch cat {
	case model.CategoryThermostat:
		return model.ActionSetpointAdjust
	case model.CategoryBattery, model.CategoryPanel, model.CategoryPlug:
		return model.ActionCurtail
	default:
		return model.ActionCurtail
	}
}
