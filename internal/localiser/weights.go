package localiser

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// FilterState is the recovery state of the filter.
type FilterState string

const (
	StateTracking FilterState = "tracking" // Normal operation
	StateLost     FilterState = "lost"     // Weights collapsed this step; particles redrawn
)

// MultiplyWeights multiplies likelihoods into weights elementwise.
// The slices must have equal length.
func MultiplyWeights(weights, likelihoods []float64) {
	floats.Mul(weights, likelihoods)
}

// TotalWeight returns the sum of the weights.
func TotalWeight(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	return floats.Sum(weights)
}

// EffectiveSampleSize returns 1/Σ(wᵢ/Σw)², or 0 when the total weight is
// not positive.
func EffectiveSampleSize(weights []float64) float64 {
	total := TotalWeight(weights)
	if !(total > 0) || math.IsInf(total, 0) {
		return 0
	}
	var sumSq float64
	for _, w := range weights {
		n := w / total
		sumSq += n * n
	}
	return 1 / sumSq
}

// IsDegenerate reports whether the effective sample size has fallen below
// fraction of the particle count.
func IsDegenerate(weights []float64, fraction float64) bool {
	return EffectiveSampleSize(weights) < fraction*float64(len(weights))
}

// IsCollapsed reports whether the total weight has fallen below eps, meaning
// no particle explains the observation.
func IsCollapsed(weights []float64, eps float64) bool {
	return TotalWeight(weights) < eps
}

// TargetParticleCount returns round(min(nMax, k/peak)) clamped to [1, nMax].
// A peak that is not positive and finite yields nMax.
func TargetParticleCount(peak, k float64, nMax int) int {
	if nMax < 1 {
		return 1
	}
	if !(peak > 0) || math.IsInf(peak, 0) {
		return nMax
	}
	n := math.Round(math.Min(float64(nMax), k/peak))
	switch {
	case math.IsNaN(n) || n > float64(nMax):
		return nMax
	case n < 1:
		return 1
	}
	return int(n)
}

// CheckFinite returns ErrNonFinite naming the first particle with a
// non-finite pose, or a weight that is non-finite or negative.
// weights may be nil.
func CheckFinite(poses []Pose, weights []float64) error {
	for i, p := range poses {
		if !p.IsFinite() {
			return fmt.Errorf("%w: particle %d pose %+v", ErrNonFinite, i, p)
		}
	}
	for i, w := range weights {
		if !isFinite(w) || w < 0 {
			return fmt.Errorf("%w: particle %d weight %g", ErrNonFinite, i, w)
		}
	}
	return nil
}
