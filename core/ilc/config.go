package ilc

import (
	"fmt"
	"math"
)

// Weights holds the multi-criteria weighting applied by the scorer. The four
// criteria must sum to one.
type Weights struct {
	Demand   float64 `json:"demand"`
	Comfort  float64 `json:"comfort"`
	Capacity float64 `json:"capacity"`
	Recency  float64 `json:"recency"`
}

// Validate checks that weights are non-negative and sum to one.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"demand": w.Demand, "comfort": w.Comfort, "capacity": w.Capacity, "recency": w.Recency,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must not be negative", name)
		}
	}
	if sum := w.Demand + w.Comfort + w.Capacity + w.Recency; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("weights must sum to 1, got %.6f", sum)
	}
	return nil
}

// Config defines scoring parameters loaded from configuration. Either Weights
// is given directly or Pairwise supplies a 4x4 AHP comparison matrix in
// criteria order demand, comfort, capacity, recency.
type Config struct {
	Weights             *Weights    `json:"weights,omitempty"`
	Pairwise            [][]float64 `json:"pairwise,omitempty"`
	StalenessSeconds    int         `json:"staleness_seconds"`
	RecencyHalfLifeMins int         `json:"recency_half_life_minutes"`
	// ComfortCost maps device category names to the comfort/wear cost of
	// curtailing them, in [0,1].
	ComfortCost map[string]float64 `json:"comfort_cost"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Weights == nil && len(c.Pairwise) == 0 {
		c.Weights = &Weights{Demand: 0.4, Comfort: 0.25, Capacity: 0.2, Recency: 0.15}
	}
	if c.StalenessSeconds <= 0 {
		c.StalenessSeconds = 300
	}
	if c.RecencyHalfLifeMins <= 0 {
		c.RecencyHalfLifeMins = 120
	}
	if c.ComfortCost == nil {
		c.ComfortCost = map[string]float64{
			"thermostat": 0.7,
			"battery":    0.1,
			"panel":      0.5,
			"plug":       0.2,
		}
	}
}

// ResolveWeights returns the configured weights, deriving them from the
// pairwise matrix when one is supplied.
func (c Config) ResolveWeights() (Weights, error) {
	if len(c.Pairwise) > 0 {
		w, cr, err := DeriveWeights(c.Pairwise)
		if err != nil {
			return Weights{}, err
		}
		if cr > ConsistencyThreshold {
			return Weights{}, fmt.Errorf("pairwise matrix is inconsistent: CR %.3f > %.2f", cr, ConsistencyThreshold)
		}
		return w, nil
	}
	if c.Weights == nil {
		return Weights{}, fmt.Errorf("no weights configured")
	}
	if err := c.Weights.Validate(); err != nil {
		return Weights{}, err
	}
	return *c.Weights, nil
}
