// Package ilc ranks controllable units for curtailment using a weighted
// multi-criteria score in the intelligent-load-control style: each criterion
// is normalized to [0,1] over the candidate set before weighting, and the
// resulting order is deterministic so a scoring pass can be replayed from the
// audit trail.
package ilc

import (
	"math"
	"sort"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/telemetry"
)

// Candidate is one scored unit, ordered best-first.
type Candidate struct {
	Unit     model.Unit
	Score    float64
	DemandKW float64 // measured load at scoring time
	Recency  float64 // normalized recency criterion, 1 = longest untouched
}

// Scorer computes curtailment-priority scores.
type Scorer struct {
	weights     Weights
	staleness   time.Duration
	halfLife    time.Duration
	comfortCost map[model.DeviceCategory]float64
}

// New builds a Scorer from configuration. The configured weights (or the AHP
// pairwise matrix) are resolved once at construction.
func New(cfg Config) (*Scorer, error) {
	cfg.SetDefaults()
	w, err := cfg.ResolveWeights()
	if err != nil {
		return nil, err
	}
	costs := make(map[model.DeviceCategory]float64, len(cfg.ComfortCost))
	for name, cost := range cfg.ComfortCost {
		cat, err := model.ParseDeviceCategory(name)
		if err != nil {
			return nil, err
		}
		costs[cat] = clamp01(cost)
	}
	return &Scorer{
		weights:     w,
		staleness:   time.Duration(cfg.StalenessSeconds) * time.Second,
		halfLife:    time.Duration(cfg.RecencyHalfLifeMins) * time.Minute,
		comfortCost: costs,
	}, nil
}

// Weights returns the resolved criteria weights.
func (s *Scorer) Weights() Weights { return s.weights }

// weightsForSignal shifts emphasis by signal type. Emergency signals care
// about raw sheddable demand, not comfort.
func (s *Scorer) weightsForSignal(t model.SignalType) Weights {
	w := s.weights
	switch t {
	case model.SignalEmergency:
		w.Demand += w.Comfort
		w.Comfort = 0
	case model.SignalPriceResponse:
		// Shift only what Demand can give so the weights still sum to 1.
		shift := 0.05
		if w.Demand < shift {
			shift = w.Demand
		}
		w.Comfort += shift
		w.Demand -= shift
	case model.SignalLoadReduction:
	}
	return w
}

// Rank scores every eligible unit against the snapshot and returns the ranked
// candidates plus one InsufficientDataError per unit skipped for stale or
// missing telemetry. Ineligible units are silently excluded; stale units are
// excluded from this pass, not scored as zero.
func (s *Scorer) Rank(ev *model.DREvent, units []model.Unit, snap telemetry.Snapshot, lastCurtailed map[string]time.Time, now time.Time) ([]Candidate, []error) {
	var skipped []error
	var cands []Candidate
	maxDemand := 0.0
	for _, u := range units {
		if !u.Eligible() {
			continue
		}
		r, ok := snap.Reading(u.ID)
		if !ok {
			skipped = append(skipped, &telemetry.InsufficientDataError{UnitID: u.ID, Bound: s.staleness})
			continue
		}
		if age := now.Sub(r.Timestamp); age > s.staleness {
			skipped = append(skipped, &telemetry.InsufficientDataError{UnitID: u.ID, Age: age, Bound: s.staleness})
			continue
		}
		c := Candidate{Unit: u, DemandKW: r.PowerKW, Recency: s.recency(u.ID, lastCurtailed, now)}
		cands = append(cands, c)
		if r.PowerKW > maxDemand {
			maxDemand = r.PowerKW
		}
	}

	w := s.weightsForSignal(ev.Type)
	for i := range cands {
		c := &cands[i]
		demand := 0.0
		if maxDemand > 0 {
			demand = c.DemandKW / maxDemand
		}
		comfort := 1 - s.comfortCost[c.Unit.Category]
		capacity := 0.0
		if c.Unit.RatedKW > 0 {
			capacity = clamp01(c.DemandKW / c.Unit.RatedKW)
		}
		c.Score = w.Demand*demand + w.Comfort*comfort + w.Capacity*capacity + w.Recency*c.Recency
	}

	// Total order for audit replay: score, then raw demand, then least
	// recently curtailed, then stable identifier.
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DemandKW != b.DemandKW {
			return a.DemandKW > b.DemandKW
		}
		if a.Recency != b.Recency {
			return a.Recency > b.Recency
		}
		return a.Unit.ID < b.Unit.ID
	})
	return cands, skipped
}

// recency maps the time since the unit was last curtailed to [0,1], reaching
// one for units never touched. Recently burdened units score low.
func (s *Scorer) recency(unitID string, last map[string]time.Time, now time.Time) float64 {
	t, ok := last[unitID]
	if !ok {
		return 1
	}
	elapsed := now.Sub(t)
	if elapsed <= 0 {
		return 0
	}
	return 1 - math.Exp(-float64(elapsed)/float64(s.halfLife))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
