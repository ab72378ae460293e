package ilc

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// ConsistencyThreshold is the accepted upper bound on the AHP consistency
// ratio. Matrices above it contradict themselves too much to trust.
const ConsistencyThreshold = 0.1

// randomIndex holds Saaty's random consistency indices by matrix order.
var randomIndex = []float64{0, 0, 0, 0.58, 0.90, 1.12, 1.24, 1.32, 1.41}

// DeriveWeights computes criteria weights from a pairwise comparison matrix
// using the principal eigenvector method. The matrix is given in criteria
// order demand, comfort, capacity, recency and must be square, positive and
// reciprocal. The returned consistency ratio measures how self-contradictory
// the judgments are.
func DeriveWeights(pairwise [][]float64) (Weights, float64, error) {
	n := len(pairwise)
	if n != 4 {
		return Weights{}, 0, fmt.Errorf("pairwise matrix must be 4x4, got %dx?", n)
	}
	a := mat.NewDense(n, n, nil)
	for i, row := range pairwise {
		if len(row) != n {
			return Weights{}, 0, fmt.Errorf("pairwise row %d has %d entries, want %d", i, len(row), n)
		}
		for j, v := range row {
			if v <= 0 {
				return Weights{}, 0, fmt.Errorf("pairwise entry (%d,%d) must be positive", i, j)
			}
			a.Set(i, j, v)
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if math.Abs(a.At(i, j)*a.At(j, i)-1) > 1e-6 {
				return Weights{}, 0, fmt.Errorf("pairwise matrix is not reciprocal at (%d,%d)", i, j)
			}
		}
	}

	var eig mat.Eigen
	if !eig.Factorize(a, mat.EigenRight) {
		return Weights{}, 0, fmt.Errorf("eigendecomposition failed")
	}
	values := eig.Values(nil)
	best := 0
	for i, v := range values {
		if real(v) > real(values[best]) {
			best = i
		}
	}
	lambda := real(values[best])

	var vectors mat.CDense
	eig.VectorsTo(&vectors)
	raw := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		raw[i] = cmplx.Abs(vectors.At(i, best))
		sum += raw[i]
	}
	if sum == 0 {
		return Weights{}, 0, fmt.Errorf("degenerate principal eigenvector")
	}
	for i := range raw {
		raw[i] /= sum
	}

	ci := (lambda - float64(n)) / float64(n-1)
	cr := ci / randomIndex[n]

	return Weights{Demand: raw[0], Comfort: raw[1], Capacity: raw[2], Recency: raw[3]}, cr, nil
}
