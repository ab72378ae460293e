package ilc

import (
	"math"
	"testing"
)

func TestDeriveWeightsUniformMatrix(t *testing.T) {
	ones := [][]float64{
		{1, 1, 1, 1},
		{1, 1, 1, 1},
		{1, 1, 1, 1},
		{1, 1, 1, 1},
	}
	w, cr, err := DeriveWeights(ones)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if math.Abs(cr) > 1e-9 {
		t.Fatalf("uniform matrix should be perfectly consistent, CR=%f", cr)
	}
	for _, v := range []float64{w.Demand, w.Comfort, w.Capacity, w.Recency} {
		if math.Abs(v-0.25) > 1e-9 {
			t.Fatalf("expected equal weights, got %+v", w)
		}
	}
}

func TestDeriveWeightsConsistentJudgments(t *testing.T) {
	// demand twice as important as comfort, four times capacity and recency
	m := [][]float64{
		{1, 2, 4, 4},
		{0.5, 1, 2, 2},
		{0.25, 0.5, 1, 1},
		{0.25, 0.5, 1, 1},
	}
	w, cr, err := DeriveWeights(m)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if cr > 1e-6 {
		t.Fatalf("transitive matrix should have CR ~0, got %f", cr)
	}
	if w.Demand <= w.Comfort || w.Comfort <= w.Capacity {
		t.Fatalf("weight order broken: %+v", w)
	}
	if sum := w.Demand + w.Comfort + w.Capacity + w.Recency; math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights must sum to 1, got %f", sum)
	}
	if math.Abs(w.Demand-2*w.Comfort) > 1e-6 {
		t.Fatalf("demand should be twice comfort: %+v", w)
	}
}

func TestDeriveWeightsRejectsBadMatrices(t *testing.T) {
	if _, _, err := DeriveWeights([][]float64{{1}}); err == nil {
		t.Fatal("non-4x4 matrix accepted")
	}
	nonReciprocal := [][]float64{
		{1, 2, 4, 4},
		{3, 1, 2, 2},
		{0.25, 0.5, 1, 1},
		{0.25, 0.5, 1, 1},
	}
	if _, _, err := DeriveWeights(nonReciprocal); err == nil {
		t.Fatal("non-reciprocal matrix accepted")
	}
	negative := [][]float64{
		{1, 2, 4, 4},
		{0.5, 1, 2, 2},
		{0.25, 0.5, 1, -1},
		{0.25, 0.5, 1, 1},
	}
	if _, _, err := DeriveWeights(negative); err == nil {
		t.Fatal("negative entry accepted")
	}
}

func TestResolveWeightsInconsistentMatrixRejected(t *testing.T) {
	// cyclic judgments: a >> b, b >> c, c >> a
	cfg := Config{Pairwise: [][]float64{
		{1, 9, 1.0 / 9, 1},
		{1.0 / 9, 1, 9, 1},
		{9, 1.0 / 9, 1, 1},
		{1, 1, 1, 1},
	}}
	cfg.SetDefaults()
	if _, err := cfg.ResolveWeights(); err == nil {
		t.Fatal("inconsistent pairwise matrix accepted")
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := (Weights{Demand: 0.4, Comfort: 0.25, Capacity: 0.2, Recency: 0.15}).Validate(); err != nil {
		t.Fatalf("valid weights rejected: %v", err)
	}
	if err := (Weights{Demand: 0.9, Comfort: 0.2, Capacity: 0, Recency: 0}).Validate(); err == nil {
		t.Fatal("weights not summing to 1 accepted")
	}
	if err := (Weights{Demand: 1.2, Comfort: -0.2, Capacity: 0, Recency: 0}).Validate(); err == nil {
		t.Fatal("negative weight accepted")
	}
}
