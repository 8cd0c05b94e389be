package localiser

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Resampler draws a new equally weighted set of n particles from set, each
// input particle selected with probability proportional to its weight.
type Resampler interface {
	Resample(set ParticleSet, n int, src rand.Source) (ParticleSet, error)
}

// MultinomialResampler draws n independent uniforms and inverts the
// cumulative weight distribution for each.
type MultinomialResampler struct{}

// SystematicResampler uses a single uniform offset and n evenly spaced
// pointers, giving lower variance than multinomial resampling.
type SystematicResampler struct{}

// NewResampler returns the resampler registered under name.
func NewResampler(name string) (Resampler, error) {
	switch name {
	case "", "multinomial":
		return MultinomialResampler{}, nil
	case "systematic":
		return SystematicResampler{}, nil
	}
	return nil, fmt.Errorf("%w: unknown resampler %q", ErrInvalidConfig, name)
}

// normalisedCDF returns the cumulative weights scaled so the last entry is 1.
func normalisedCDF(weights []float64) ([]float64, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: empty particle set", ErrZeroWeight)
	}
	cum := floats.CumSum(make([]float64, len(weights)), weights)
	total := cum[len(cum)-1]
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: total %g", ErrZeroWeight, total)
	}
	floats.Scale(1/total, cum)
	cum[len(cum)-1] = 1
	return cum, nil
}

// pick returns the first index whose cumulative weight exceeds u. Strict
// comparison means zero-weight particles are never chosen.
func pick(cum []float64, u float64) int {
	i := sort.Search(len(cum), func(i int) bool { return cum[i] > u })
	if i == len(cum) {
		i = len(cum) - 1
	}
	return i
}

func gather(set ParticleSet, idx []int) ParticleSet {
	out := ParticleSet{
		Poses:   make([]Pose, len(idx)),
		Weights: make([]float64, len(idx)),
	}
	for i, j := range idx {
		out.Poses[i] = set.Poses[j]
		out.Weights[i] = 1
	}
	return out
}

func checkResampleArgs(set ParticleSet, n int) error {
	if len(set.Poses) != len(set.Weights) {
		return fmt.Errorf("particle set has %d poses and %d weights", len(set.Poses), len(set.Weights))
	}
	if n < 1 {
		return fmt.Errorf("resample target must be at least 1, got %d", n)
	}
	return nil
}

// Resample implements Resampler.
func (MultinomialResampler) Resample(set ParticleSet, n int, src rand.Source) (ParticleSet, error) {
	if err := checkResampleArgs(set, n); err != nil {
		return ParticleSet{}, err
	}
	cum, err := normalisedCDF(set.Weights)
	if err != nil {
		return ParticleSet{}, err
	}
	rng := rand.New(src)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = pick(cum, rng.Float64())
	}
	return gather(set, idx), nil
}

// Resample implements Resampler.
func (SystematicResampler) Resample(set ParticleSet, n int, src rand.Source) (ParticleSet, error) {
	if err := checkResampleArgs(set, n); err != nil {
		return ParticleSet{}, err
	}
	cum, err := normalisedCDF(set.Weights)
	if err != nil {
		return ParticleSet{}, err
	}
	step := 1 / float64(n)
	u0 := rand.New(src).Float64() * step
	idx := make([]int, n)
	j := 0
	for i := range idx {
		u := u0 + float64(i)*step
		for j < len(cum)-1 && cum[j] <= u {
			j++
		}
		idx[i] = j
	}
	return gather(set, idx), nil
}
