package ilc

import (
	"errors"
	"testing"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/telemetry"
)

var scoreTime = time.Date(2025, 7, 1, 17, 0, 0, 0, time.UTC)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	return s
}

func plugUnit(id string, rated float64) model.Unit {
	return model.Unit{ID: id, HomeID: "h-" + id, Category: model.CategoryPlug, RatedKW: rated, Controllable: true}
}

func snapshotOf(readings ...telemetry.Reading) telemetry.Snapshot {
	m := make(map[string]telemetry.Reading, len(readings))
	for _, r := range readings {
		m[r.UnitID] = r
	}
	return telemetry.Snapshot{Taken: scoreTime, Readings: m}
}

func TestRankOrdersByDemand(t *testing.T) {
	s := newTestScorer(t)
	ev := &model.DREvent{Reference: "evt-1", Type: model.SignalLoadReduction}
	units := []model.Unit{plugUnit("u1", 25), plugUnit("u2", 25), plugUnit("u3", 25)}
	snap := snapshotOf(
		telemetry.Reading{UnitID: "u1", PowerKW: 5, Timestamp: scoreTime},
		telemetry.Reading{UnitID: "u2", PowerKW: 20, Timestamp: scoreTime},
		telemetry.Reading{UnitID: "u3", PowerKW: 10, Timestamp: scoreTime},
	)
	cands, skipped := s.Rank(ev, units, snap, nil, scoreTime)
	if len(skipped) != 0 {
		t.Fatalf("unexpected skips: %v", skipped)
	}
	if len(cands) != 3 {
		t.Fatalf("want 3 candidates, got %d", len(cands))
	}
	want := []string{"u2", "u3", "u1"}
	for i, id := range want {
		if cands[i].Unit.ID != id {
			t.Fatalf("position %d: want %s got %s", i, id, cands[i].Unit.ID)
		}
	}
}

func TestRankIsDeterministic(t *testing.T) {
	s := newTestScorer(t)
	ev := &model.DREvent{Reference: "evt-1"}
	// identical load and category, order must fall back to unit ID
	units := []model.Unit{plugUnit("u3", 10), plugUnit("u1", 10), plugUnit("u2", 10)}
	snap := snapshotOf(
		telemetry.Reading{UnitID: "u1", PowerKW: 4, Timestamp: scoreTime},
		telemetry.Reading{UnitID: "u2", PowerKW: 4, Timestamp: scoreTime},
		telemetry.Reading{UnitID: "u3", PowerKW: 4, Timestamp: scoreTime},
	)
	var last []string
	for i := 0; i < 5; i++ {
		cands, _ := s.Rank(ev, units, snap, nil, scoreTime)
		ids := make([]string, len(cands))
		for j, c := range cands {
			ids[j] = c.Unit.ID
		}
		if last != nil {
			for j := range ids {
				if ids[j] != last[j] {
					t.Fatalf("run %d produced different order: %v vs %v", i, ids, last)
				}
			}
		}
		last = ids
	}
	if last[0] != "u1" || last[1] != "u2" || last[2] != "u3" {
		t.Fatalf("tie-break by unit ID broken: %v", last)
	}
}

func TestRankExcludesCriticalAndStale(t *testing.T) {
	s := newTestScorer(t)
	ev := &model.DREvent{Reference: "evt-1"}
	critical := plugUnit("u-crit", 10)
	critical.Critical = true
	units := []model.Unit{plugUnit("u1", 10), critical, plugUnit("u-stale", 10), plugUnit("u-missing", 10)}
	snap := snapshotOf(
		telemetry.Reading{UnitID: "u1", PowerKW: 4, Timestamp: scoreTime},
		telemetry.Reading{UnitID: "u-crit", PowerKW: 9, Timestamp: scoreTime},
		telemetry.Reading{UnitID: "u-stale", PowerKW: 9, Timestamp: scoreTime.Add(-10 * time.Minute)},
	)
	cands, skipped := s.Rank(ev, units, snap, nil, scoreTime)
	if len(cands) != 1 || cands[0].Unit.ID != "u1" {
		t.Fatalf("want only u1, got %+v", cands)
	}
	// critical exclusion is silent, stale and missing telemetry are reported
	if len(skipped) != 2 {
		t.Fatalf("want 2 data errors, got %d: %v", len(skipped), skipped)
	}
	for _, err := range skipped {
		var ide *telemetry.InsufficientDataError
		if !errors.As(err, &ide) {
			t.Fatalf("want InsufficientDataError, got %T", err)
		}
	}
}

func TestRankEmergencyIgnoresComfort(t *testing.T) {
	s := newTestScorer(t)
	thermostat := model.Unit{ID: "u-t", HomeID: "h1", Category: model.CategoryThermostat, RatedKW: 5, Controllable: true}
	plug := model.Unit{ID: "u-p", HomeID: "h2", Category: model.CategoryPlug, RatedKW: 5, Controllable: true}
	units := []model.Unit{thermostat, plug}
	snap := snapshotOf(
		telemetry.Reading{UnitID: "u-t", PowerKW: 4, Timestamp: scoreTime},
		telemetry.Reading{UnitID: "u-p", PowerKW: 3.5, Timestamp: scoreTime},
	)

	normal, _ := s.Rank(&model.DREvent{Reference: "e", Type: model.SignalLoadReduction}, units, snap, nil, scoreTime)
	if normal[0].Unit.ID != "u-p" {
		t.Fatalf("comfortable plug should outrank thermostat normally, got %s first", normal[0].Unit.ID)
	}
	emergency, _ := s.Rank(&model.DREvent{Reference: "e", Type: model.SignalEmergency}, units, snap, nil, scoreTime)
	if emergency[0].Unit.ID != "u-t" {
		t.Fatalf("emergency should follow raw demand, got %s first", emergency[0].Unit.ID)
	}
}

func TestRecencyPenalizesRecentlyCurtailed(t *testing.T) {
	s := newTestScorer(t)
	ev := &model.DREvent{Reference: "evt-1"}
	units := []model.Unit{plugUnit("u1", 10), plugUnit("u2", 10)}
	snap := snapshotOf(
		telemetry.Reading{UnitID: "u1", PowerKW: 4, Timestamp: scoreTime},
		telemetry.Reading{UnitID: "u2", PowerKW: 4, Timestamp: scoreTime},
	)
	last := map[string]time.Time{"u1": scoreTime.Add(-time.Minute)}
	cands, _ := s.Rank(ev, units, snap, last, scoreTime)
	if cands[0].Unit.ID != "u2" {
		t.Fatalf("untouched unit should outrank recently curtailed one, got %s", cands[0].Unit.ID)
	}
	if cands[1].Recency >= cands[0].Recency {
		t.Fatalf("recency not penalized: %f >= %f", cands[1].Recency, cands[0].Recency)
	}
}

func TestSignalWeightsStaySummed(t *testing.T) {
	cfgs := []Config{
		{},
		{Weights: &Weights{Demand: 0.02, Comfort: 0.48, Capacity: 0.3, Recency: 0.2}},
	}
	signals := []model.SignalType{model.SignalLoadReduction, model.SignalEmergency, model.SignalPriceResponse}
	for _, cfg := range cfgs {
		s, err := New(cfg)
		if err != nil {
			t.Fatalf("scorer: %v", err)
		}
		for _, sig := range signals {
			w := s.weightsForSignal(sig)
			if err := w.Validate(); err != nil {
				t.Fatalf("signal %s: %v", sig, err)
			}
		}
	}
}
