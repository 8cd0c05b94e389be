package localiser

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveSampleSize(t *testing.T) {
	t.Parallel()

	t.Run("uniform", func(t *testing.T) {
		for _, n := range []int{1, 4, 100, 2000} {
			w := make([]float64, n)
			for i := range w {
				w[i] = 0.37
			}
			assert.InDelta(t, float64(n), EffectiveSampleSize(w), 1e-9*float64(n))
			assert.False(t, IsDegenerate(w, 0.5), "uniform weights must never be degenerate")
		}
	})

	t.Run("single dominant", func(t *testing.T) {
		w := make([]float64, 1000)
		for i := range w {
			w[i] = 1e-12
		}
		w[17] = 1
		assert.InDelta(t, 1.0, EffectiveSampleSize(w), 1e-6)
		assert.True(t, IsDegenerate(w, 0.5))
	})

	t.Run("zero total", func(t *testing.T) {
		assert.Equal(t, 0.0, EffectiveSampleSize([]float64{0, 0, 0}))
		assert.Equal(t, 0.0, EffectiveSampleSize(nil))
	})
}

func TestMultiplyWeights(t *testing.T) {
	t.Parallel()

	w := []float64{1, 2, 0.5}
	MultiplyWeights(w, []float64{0.5, 0, 4})
	assert.Equal(t, []float64{0.5, 0, 2}, w)
	assert.Equal(t, 2.5, TotalWeight(w))
}

func TestIsCollapsed(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCollapsed([]float64{0, 0}, 1e-50))
	assert.True(t, IsCollapsed([]float64{1e-60, 1e-60}, 1e-50))
	assert.False(t, IsCollapsed([]float64{1e-40, 0}, 1e-50))
	assert.False(t, IsCollapsed([]float64{1, 1}, 1e-50))
}

func TestTargetParticleCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		peak float64
		k    float64
		nMax int
		want int
	}{
		{"sharp observation", 1, 200, 2000, 200},
		{"ambiguous observation", 0.05, 200, 2000, 2000},
		{"rounds", 0.3, 200, 2000, 667},
		{"zero peak", 0, 200, 2000, 2000},
		{"negative peak", -1, 200, 2000, 2000},
		{"nan peak", math.NaN(), 200, 2000, 2000},
		{"inf peak", math.Inf(1), 200, 2000, 2000},
		{"tiny peak", 1e-300, 200, 2000, 2000},
		{"clamps to one", 1, 0.1, 2000, 1},
		{"nmax one", 0.5, 200, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TargetParticleCount(tt.peak, tt.k, tt.nMax))
		})
	}
}

func TestCheckFinite(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckFinite([]Pose{{X: 1}, {Y: -1}}, []float64{0, 1}))

	err := CheckFinite([]Pose{{X: 1}, {Y: math.NaN()}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonFinite))
	assert.Contains(t, err.Error(), "particle 1")

	err = CheckFinite(nil, []float64{1, math.Inf(1)})
	assert.True(t, errors.Is(err, ErrNonFinite))

	err = CheckFinite(nil, []float64{-0.5})
	assert.True(t, errors.Is(err, ErrNonFinite))
}
