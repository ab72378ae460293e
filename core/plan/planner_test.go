package plan

import (
	"errors"
	"testing"

	"github.com/rongxinyin/pezzrr-app/core/ilc"
	"github.com/rongxinyin/pezzrr-app/core/model"
)

func candidate(id string, category model.DeviceCategory, demand, score float64) ilc.Candidate {
	return ilc.Candidate{
		Unit:     model.Unit{ID: id, HomeID: "h-" + id, Category: category, RatedKW: demand * 2, Controllable: true},
		Score:    score,
		DemandKW: demand,
	}
}

func TestBuildStopsAtTarget(t *testing.T) {
	p := New(Config{})
	ev := &model.DREvent{Reference: "evt-1", TargetKW: 50}
	cands := []ilc.Candidate{
		candidate("u1", model.CategoryPlug, 20, 0.9),
		candidate("u2", model.CategoryBattery, 15, 0.8),
		candidate("u3", model.CategoryPanel, 10, 0.7),
		candidate("u4", model.CategoryPlug, 8, 0.6),
		candidate("u5", model.CategoryPlug, 5, 0.5),
	}
	out, err := p.Build(ev, cands, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(out.Actions) != 4 {
		t.Fatalf("want 4 actions, got %d", len(out.Actions))
	}
	if out.Actions[3].Unit.ID != "u4" {
		t.Fatalf("selection should stop after u4, last was %s", out.Actions[3].Unit.ID)
	}
	if out.EstimatedKW != 53 {
		t.Fatalf("want estimate 53 kW, got %.1f", out.EstimatedKW)
	}
	if out.TargetUnmet {
		t.Fatal("target was met")
	}
}

func TestBuildExhaustionKeepsPartialPlan(t *testing.T) {
	p := New(Config{})
	ev := &model.DREvent{Reference: "evt-1", TargetKW: 100}
	cands := []ilc.Candidate{
		candidate("u1", model.CategoryPlug, 20, 0.9),
		candidate("u2", model.CategoryPlug, 15, 0.8),
	}
	out, err := p.Build(ev, cands, nil)
	var exhausted *ExhaustionError
	if !errors.As(err, &exhausted) {
		t.Fatalf("want ExhaustionError, got %v", err)
	}
	if exhausted.EstimatedKW != 35 || exhausted.TargetKW != 100 {
		t.Fatalf("wrong exhaustion figures: %+v", exhausted)
	}
	if len(out.Actions) != 2 || !out.TargetUnmet {
		t.Fatalf("partial plan must survive exhaustion: %+v", out)
	}
}

func TestBuildSkipSet(t *testing.T) {
	p := New(Config{})
	ev := &model.DREvent{Reference: "evt-1", TargetKW: 30}
	cands := []ilc.Candidate{
		candidate("u1", model.CategoryPlug, 20, 0.9),
		candidate("u2", model.CategoryPlug, 15, 0.8),
		candidate("u3", model.CategoryPlug, 16, 0.7),
	}
	out, err := p.Build(ev, cands, map[string]bool{"u2": true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, a := range out.Actions {
		if a.Unit.ID == "u2" {
			t.Fatal("skipped unit was planned")
		}
	}
	if out.EstimatedKW != 36 {
		t.Fatalf("want 36 kW from u1+u3, got %.1f", out.EstimatedKW)
	}
}

func TestBuildThermostatGetsSetpointAction(t *testing.T) {
	p := New(Config{SetpointDeltaKW: 1.2})
	ev := &model.DREvent{Reference: "evt-1", TargetKW: 1}
	cands := []ilc.Candidate{candidate("u-t", model.CategoryThermostat, 4, 0.9)}
	out, err := p.Build(ev, cands, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(out.Actions) != 1 {
		t.Fatalf("want 1 action, got %d", len(out.Actions))
	}
	a := out.Actions[0]
	if a.Type != model.ActionSetpointAdjust {
		t.Fatalf("thermostat should get setpoint_adjust, got %s", a.Type)
	}
	if a.EstimatedKW != 1.2 {
		t.Fatalf("setpoint estimate should be the configured delta, got %.2f", a.EstimatedKW)
	}
}

func TestBuildRejectsIneligibleCandidate(t *testing.T) {
	p := New(Config{})
	ev := &model.DREvent{Reference: "evt-1", TargetKW: 10}
	bad := candidate("u-crit", model.CategoryPlug, 5, 0.9)
	bad.Unit.Critical = true
	_, err := p.Build(ev, []ilc.Candidate{bad}, nil)
	if !errors.Is(err, ErrIneligibleUnit) {
		t.Fatalf("want ErrIneligibleUnit, got %v", err)
	}
}

func TestBuildZeroTarget(t *testing.T) {
	p := New(Config{})
	ev := &model.DREvent{Reference: "evt-1", TargetKW: 0}
	out, err := p.Build(ev, []ilc.Candidate{candidate("u1", model.CategoryPlug, 5, 0.9)}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(out.Actions) != 0 {
		t.Fatalf("zero target must plan nothing, got %d actions", len(out.Actions))
	}
}
