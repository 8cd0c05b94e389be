package localiser

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSensor = SensorModel{RangeStd: 0.06, BearingStd: 0.1, OrientationStd: 0.15}

func TestLikelihood_PeakAtImpliedPose(t *testing.T) {
	t.Parallel()

	robot := Pose{X: 1, Y: -2, Theta: 2.5}
	beacon := Pose{X: 4, Y: 3, Theta: -1.1}
	obs := RelativePose(robot, beacon)

	assert.InDelta(t, 1.0, testSensor.Likelihood(robot, obs, beacon), 1e-12)

	implied := ImpliedBeaconPose(robot, obs)
	assert.InDelta(t, beacon.X, implied.X, 1e-12)
	assert.InDelta(t, beacon.Y, implied.Y, 1e-12)
	assert.InDelta(t, 0, AngleDifference(beacon.Theta, implied.Theta), 1e-12)
}

func TestLikelihood_DecreasesWithEachResidual(t *testing.T) {
	t.Parallel()

	robot := Pose{X: 0, Y: 0, Theta: 0.3}
	beacon := Pose{X: 3, Y: 1, Theta: 0.7}
	exact := RelativePose(robot, beacon)

	perturb := map[string]func(delta float64) Pose{
		"range": func(delta float64) Pose {
			r := math.Hypot(exact.X, exact.Y) + delta
			phi := math.Atan2(exact.Y, exact.X)
			return Pose{X: r * math.Cos(phi), Y: r * math.Sin(phi), Theta: exact.Theta}
		},
		"bearing": func(delta float64) Pose {
			r := math.Hypot(exact.X, exact.Y)
			phi := math.Atan2(exact.Y, exact.X) + delta
			return Pose{X: r * math.Cos(phi), Y: r * math.Sin(phi), Theta: exact.Theta}
		},
		"orientation": func(delta float64) Pose {
			return Pose{X: exact.X, Y: exact.Y, Theta: WrapToPi(exact.Theta + delta)}
		},
	}

	for name, obsAt := range perturb {
		t.Run(name, func(t *testing.T) {
			for _, sign := range []float64{1, -1} {
				prev := testSensor.Likelihood(robot, obsAt(0), beacon)
				for _, delta := range []float64{0.01, 0.05, 0.1, 0.3, 0.6} {
					l := testSensor.Likelihood(robot, obsAt(sign*delta), beacon)
					assert.Less(t, l, prev, "residual %g", sign*delta)
					assert.GreaterOrEqual(t, l, 0.0)
					prev = l
				}
			}
		})
	}
}

func TestLikelihoods_Slice(t *testing.T) {
	t.Parallel()

	beacon := Pose{X: 2, Y: 0, Theta: math.Pi}
	robot := Pose{}
	obs := RelativePose(robot, beacon)
	poses := []Pose{robot, {X: 0.5}, {X: -5, Y: 3, Theta: 1}}

	got := testSensor.Likelihoods(poses, obs, beacon, nil)
	require.Len(t, got, 3)
	assert.InDelta(t, 1.0, got[0], 1e-12)
	assert.Less(t, got[1], got[0])
	assert.Less(t, got[2], got[1])

	dst := make([]float64, 8)
	again := testSensor.Likelihoods(poses, obs, beacon, dst)
	assert.Len(t, again, 3)
	assert.Equal(t, got, again)
	assert.Equal(t, got[0], dst[0], "dst with capacity should be reused")
}

func TestLikelihood_FarParticleUnderflowsToZero(t *testing.T) {
	t.Parallel()

	beacon := Pose{X: 5, Y: 5}
	obs := Pose{X: 40}
	l := testSensor.Likelihood(Pose{X: 1, Y: 1}, obs, beacon)
	assert.Equal(t, 0.0, l)
	assert.False(t, math.IsNaN(l))
}

func TestSensorModels_Lookup(t *testing.T) {
	t.Parallel()

	models := SensorModels{"camera": testSensor, "lidar": {RangeStd: 0.01, BearingStd: 0.01, OrientationStd: 0.02}}

	m, err := models.Lookup("", "camera")
	require.NoError(t, err)
	assert.Equal(t, testSensor, m)

	m, err = models.Lookup("lidar", "camera")
	require.NoError(t, err)
	assert.Equal(t, 0.01, m.RangeStd)

	_, err = models.Lookup("sonar", "camera")
	assert.True(t, errors.Is(err, ErrUnknownSensor))
}
