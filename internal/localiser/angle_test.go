package localiser

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var angleSamples = []float64{
	0, 1e-15, -1e-15, 0.5, -0.5,
	math.Pi, -math.Pi, math.Nextafter(math.Pi, 0), math.Nextafter(-math.Pi, -4),
	2 * math.Pi, -2 * math.Pi, 3 * math.Pi, -3 * math.Pi,
	7.5, -7.5, 100.25, -100.25, 1e6, -1e6,
}

func TestWrapToTwoPi_Range(t *testing.T) {
	t.Parallel()
	for _, a := range angleSamples {
		w := WrapToTwoPi(a)
		assert.GreaterOrEqual(t, w, 0.0, "WrapToTwoPi(%g)", a)
		assert.Less(t, w, 2*math.Pi, "WrapToTwoPi(%g)", a)
	}
	assert.Equal(t, 0.0, WrapToTwoPi(-1e-18))
}

func TestWrapToPi_RangeAndIdempotent(t *testing.T) {
	t.Parallel()
	for _, a := range angleSamples {
		w := WrapToPi(a)
		assert.GreaterOrEqual(t, w, -math.Pi, "WrapToPi(%g)", a)
		assert.Less(t, w, math.Pi, "WrapToPi(%g)", a)
		assert.Equal(t, w, WrapToPi(w), "WrapToPi not idempotent for %g", a)
		// Same direction as the input.
		assert.InDelta(t, math.Cos(a), math.Cos(w), 1e-9)
		assert.InDelta(t, math.Sin(a), math.Sin(w), 1e-9)
	}
}

func TestWrapToPi_Boundaries(t *testing.T) {
	t.Parallel()
	assert.Equal(t, -math.Pi, WrapToPi(math.Pi))
	assert.Equal(t, -math.Pi, WrapToPi(-math.Pi))
	assert.InDelta(t, 0.0, WrapToPi(2*math.Pi), 1e-12)
	assert.InDelta(t, 0.5, WrapToPi(0.5+4*math.Pi), 1e-12)
}

func TestAngleDifference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b float64
		want float64
	}{
		{"zero", 0, 0, 0},
		{"positive", 0.1, 0.4, 0.3},
		{"negative", 0.4, 0.1, -0.3},
		{"across pi", math.Pi - 0.1, -math.Pi + 0.1, 0.2},
		{"across minus pi", -math.Pi + 0.1, math.Pi - 0.1, -0.2},
		{"unwrapped inputs", 10 * math.Pi, 10*math.Pi + 0.25, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AngleDifference(tt.a, tt.b), 1e-9)
		})
	}
}

func TestAngleDifference_Antisymmetric(t *testing.T) {
	t.Parallel()
	for _, a := range angleSamples {
		assert.Equal(t, 0.0, AngleDifference(a, a))
		for _, b := range angleSamples {
			sum := WrapToPi(AngleDifference(a, b) + AngleDifference(b, a))
			gap := math.Min(math.Abs(sum), 2*math.Pi-math.Abs(sum))
			assert.Less(t, gap, 1e-9, "a=%g b=%g", a, b)
		}
	}
}

func TestBearing(t *testing.T) {
	t.Parallel()

	got, ok := Bearing(1, 1)
	assert.True(t, ok)
	assert.InDelta(t, math.Pi/4, got, 1e-12)

	got, ok = Bearing(-1, 0)
	assert.True(t, ok)
	assert.Equal(t, -math.Pi, got, "bearing due west must wrap to -π")

	_, ok = Bearing(0, 0)
	assert.False(t, ok)
	_, ok = Bearing(1e-13, -1e-13)
	assert.False(t, ok)
}
