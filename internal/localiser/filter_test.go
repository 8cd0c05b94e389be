package localiser

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig returns a small deterministic configuration over a 10 m square.
func testConfig() Config {
	return Config{
		NumParticlesMax:    500,
		Motion:             MotionModel{Phi1Std: 0.01, DStd: 0.02, Phi2Std: 0.01},
		Sensors:            SensorModels{"camera": {RangeStd: 0.1, BearingStd: 0.05, OrientationStd: 0.05}},
		DefaultSensor:      "camera",
		DegeneracyFraction: 0.5,
		LostWeightEpsilon:  1e-50,
		ResampleScale:      200,
		Bounds:             Bounds{XMin: 0, XMax: 10, YMin: 0, YMax: 10},
		Seed:               7,
		Resampler:          "multinomial",
		Workers:            4,
		ChunkSize:          64,
	}
}

// trackingConfig is testConfig with a prior around start.
func trackingConfig(start Pose) Config {
	cfg := testConfig()
	cfg.InitialPose = &start
	cfg.InitialStd = Pose{X: 0.3, Y: 0.3, Theta: 0.1}
	return cfg
}

func testBeacons(t *testing.T, beacons ...Beacon) BeaconMap {
	t.Helper()
	m, err := NewBeaconMap(beacons)
	require.NoError(t, err)
	return m
}

// straightLine returns step inputs for a robot driving along +x at 1 m/s
// from start, with a noiseless observation of beacon at every step.
func straightLine(start Pose, steps int, beaconID int, beacon Pose) (truth []Pose, inputs []StepInput) {
	const dt = 0.1
	truth = []Pose{start}
	for k := 1; k <= steps; k++ {
		prev := truth[k-1]
		cur := Pose{X: prev.X + dt*math.Cos(prev.Theta), Y: prev.Y + dt*math.Sin(prev.Theta), Theta: prev.Theta}
		truth = append(truth, cur)
		inputs = append(inputs, StepInput{
			Time: float64(k) * dt,
			Odometry: OdometryStep{
				Pose:     cur,
				PrevPose: prev,
				Command:  Command{Speed: 1, Rotation: 0},
				DT:       dt,
			},
			Observation: &Observation{BeaconID: beaconID, Pose: RelativePose(cur, beacon)},
		})
	}
	return truth, inputs
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, testConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no particles", func(c *Config) { c.NumParticlesMax = 0 }},
		{"negative motion noise", func(c *Config) { c.Motion.DStd = -1 }},
		{"missing default sensor", func(c *Config) { c.DefaultSensor = "lidar" }},
		{"zero sensor noise", func(c *Config) { c.Sensors = SensorModels{"camera": {RangeStd: 1, BearingStd: 0, OrientationStd: 1}} }},
		{"degeneracy fraction", func(c *Config) { c.DegeneracyFraction = 0 }},
		{"negative epsilon", func(c *Config) { c.LostWeightEpsilon = -1 }},
		{"zero epsilon", func(c *Config) { c.LostWeightEpsilon = 0 }},
		{"scale constant", func(c *Config) { c.ResampleScale = 0 }},
		{"empty bounds", func(c *Config) { c.Bounds = Bounds{} }},
		{"non-finite prior", func(c *Config) { c.InitialPose = &Pose{X: math.NaN()} }},
		{"negative prior std", func(c *Config) { c.InitialPose = &Pose{}; c.InitialStd = Pose{X: -1} }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"no chunk", func(c *Config) { c.ChunkSize = 0 }},
		{"unknown resampler", func(c *Config) { c.Resampler = "residual" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)

			_, err = New(cfg, BeaconMap{})
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2000, cfg.NumParticlesMax)
	assert.Equal(t, []int{4}, cfg.ExcludedBeacons)
	assert.Equal(t, 200.0, cfg.ResampleScale)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Contains(t, cfg.Sensors, "camera")
	assert.Nil(t, cfg.InitialPose)

	cfg.Bounds = Bounds{XMin: 0, XMax: 1, YMin: 0, YMax: 1}
	assert.NoError(t, cfg.Validate())
}

func TestFilter_StartUniform(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	f, err := New(cfg, testBeacons(t))
	require.NoError(t, err)

	_, ok := f.Snapshot()
	assert.False(t, ok, "no snapshot before Start")

	res := f.Start(1.5)
	assert.Equal(t, 0, res.Step)
	assert.Equal(t, 1.5, res.Time)
	assert.Equal(t, StateTracking, res.State)
	assert.Equal(t, NoBeacon, res.BeaconID)
	require.Len(t, res.Particles.Poses, cfg.NumParticlesMax)
	require.Len(t, res.Particles.Weights, cfg.NumParticlesMax)
	for i, p := range res.Particles.Poses {
		assert.True(t, cfg.Bounds.Contains(p.X, p.Y), "particle %d outside bounds: %+v", i, p)
		assert.GreaterOrEqual(t, p.Theta, -math.Pi)
		assert.Less(t, p.Theta, math.Pi)
		assert.Equal(t, 1.0, res.Particles.Weights[i])
	}
	assert.InDelta(t, float64(cfg.NumParticlesMax), res.ESS, 1e-6)
	// A uniform cloud over a 10 m square centres near the middle.
	assert.InDelta(t, 5, res.Estimate.X, 0.5)
	assert.InDelta(t, 5, res.Estimate.Y, 0.5)
}

func TestFilter_StartPrior(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InitialPose = &Pose{X: 2, Y: 3, Theta: 0.4}
	cfg.InitialStd = Pose{X: 0.1, Y: 0.1, Theta: 0.05}
	f, err := New(cfg, testBeacons(t))
	require.NoError(t, err)

	res := f.Start(0)
	assert.InDelta(t, 2, res.Estimate.X, 0.05)
	assert.InDelta(t, 3, res.Estimate.Y, 0.05)
	assert.InDelta(t, 0.4, res.Estimate.Theta, 0.02)
	assert.InDelta(t, 0.02, res.Particles.Spread(), 0.005)
}

func TestFilter_StepBeforeStart(t *testing.T) {
	t.Parallel()

	f, err := New(testConfig(), testBeacons(t))
	require.NoError(t, err)
	_, err = f.Step(StepInput{})
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestFilter_StepWithoutObservation(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Motion = MotionModel{}
	f, err := New(cfg, testBeacons(t))
	require.NoError(t, err)
	start := f.Start(0)

	res, err := f.Step(StepInput{
		Time:     0.1,
		Odometry: OdometryStep{PrevPose: Pose{}, Pose: Pose{X: 0.1}, DT: 0.1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Step)
	assert.Equal(t, StateTracking, res.State)
	assert.False(t, res.Resampled)
	assert.Nil(t, res.BeaconEstimate)
	assert.Equal(t, start.Particles.Weights, res.Particles.Weights, "weights untouched without an observation")
	for i := range res.Particles.Poses {
		moved := start.Particles.Poses[i].Distance(res.Particles.Poses[i])
		assert.InDelta(t, 0.1, moved, 1e-12)
	}
}

func TestFilter_ExcludedBeaconIsIgnored(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ExcludedBeacons = []int{4}
	f, err := New(cfg, testBeacons(t, Beacon{ID: 4, Pose: Pose{X: 5, Y: 5}}))
	require.NoError(t, err)
	start := f.Start(0)

	res, err := f.Step(StepInput{
		Odometry:    OdometryStep{DT: 0.1},
		Observation: &Observation{BeaconID: 4, Pose: Pose{X: 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, NoBeacon, res.BeaconID)
	assert.Equal(t, StateTracking, res.State)
	assert.Equal(t, start.Particles.Weights, res.Particles.Weights)
}

func TestFilter_NoBeaconSentinelIsIgnored(t *testing.T) {
	t.Parallel()

	f, err := New(testConfig(), testBeacons(t))
	require.NoError(t, err)
	f.Start(0)

	res, err := f.Step(StepInput{Odometry: OdometryStep{DT: 0.1}, Observation: &Observation{BeaconID: NoBeacon}})
	require.NoError(t, err)
	assert.Equal(t, NoBeacon, res.BeaconID)
}

func TestFilter_UnknownBeaconAndSensor(t *testing.T) {
	t.Parallel()

	f, err := New(testConfig(), testBeacons(t, Beacon{ID: 1, Pose: Pose{X: 5, Y: 5}}))
	require.NoError(t, err)
	f.Start(0)

	_, err = f.Step(StepInput{Odometry: OdometryStep{DT: 0.1}, Observation: &Observation{BeaconID: 9}})
	assert.True(t, errors.Is(err, ErrUnknownBeacon))

	_, err = f.Step(StepInput{Odometry: OdometryStep{DT: 0.1}, Observation: &Observation{BeaconID: 1, Sensor: "sonar"}})
	assert.True(t, errors.Is(err, ErrUnknownSensor))

	snap, ok := f.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 0, snap.Step, "failed steps must not advance the filter")
}

func TestFilter_NonFiniteOdometryAborts(t *testing.T) {
	t.Parallel()

	f, err := New(testConfig(), testBeacons(t))
	require.NoError(t, err)
	before := f.Start(0)

	_, err = f.Step(StepInput{Odometry: OdometryStep{PrevPose: Pose{}, Pose: Pose{X: math.NaN()}, DT: 0.1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonFinite))

	after, ok := f.Snapshot()
	require.True(t, ok)
	assert.Empty(t, cmp.Diff(before, after), "published state must be unchanged after an aborted step")
}

func TestFilter_KidnapRecovery(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InitialPose = &Pose{X: 1, Y: 1, Theta: 0}
	cfg.InitialStd = Pose{X: 0.05, Y: 0.05, Theta: 0.02}
	beacon := Pose{X: 5, Y: 5, Theta: 0}
	f, err := New(cfg, testBeacons(t, Beacon{ID: 1, Pose: beacon}))
	require.NoError(t, err)
	start := f.Start(0)
	require.Less(t, start.Particles.Spread(), 0.01)

	// The beacon is reported 40 m ahead: no particle can explain that.
	res, err := f.Step(StepInput{
		Time:        0.1,
		Odometry:    OdometryStep{PrevPose: Pose{X: 1, Y: 1}, Pose: Pose{X: 1, Y: 1}, DT: 0.1},
		Observation: &Observation{BeaconID: 1, Pose: Pose{X: 40}},
	})
	require.NoError(t, err)
	assert.Equal(t, StateLost, res.State)
	assert.Equal(t, StateLost, f.State())
	assert.True(t, res.Recovered)
	assert.False(t, res.Resampled)
	assert.Equal(t, 1, res.BeaconID)
	assert.InDelta(t, float64(cfg.NumParticlesMax), res.ESS, 1e-6, "ESS describes the redrawn set")

	require.Len(t, res.Particles.Poses, cfg.NumParticlesMax)
	require.Len(t, res.Particles.Weights, cfg.NumParticlesMax)
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i, p := range res.Particles.Poses {
		assert.Equal(t, 1.0, res.Particles.Weights[i])
		assert.True(t, cfg.Bounds.Contains(p.X, p.Y))
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	// Pose information is discarded: the cloud spans the operating area.
	assert.Less(t, minX, 1.0)
	assert.Greater(t, maxX, 9.0)
	assert.Less(t, minY, 1.0)
	assert.Greater(t, maxY, 9.0)
	assert.Greater(t, res.Particles.Spread(), 10.0)

	// The next step that does not collapse is tracking again.
	res, err = f.Step(StepInput{Time: 0.2, Odometry: OdometryStep{PrevPose: Pose{X: 1, Y: 1}, Pose: Pose{X: 1.1, Y: 1}, DT: 0.1}})
	require.NoError(t, err)
	assert.Equal(t, StateTracking, res.State)
	assert.False(t, res.Recovered)
}

func TestFilter_StraightLineConverges(t *testing.T) {
	t.Parallel()

	beacon := Pose{X: 3, Y: 1, Theta: math.Pi / 2}
	start := Pose{X: 0, Y: 0, Theta: 0}
	truth, inputs := straightLine(start, 80, 1, beacon)

	cfg := testConfig()
	cfg.NumParticlesMax = 2000
	cfg.ResampleScale = 1000
	cfg.Motion = MotionModel{Phi1Std: 0.02, DStd: 0.03, Phi2Std: 0.02}
	cfg.Bounds = Bounds{XMin: -2, XMax: 10, YMin: -3, YMax: 5}
	cfg.InitialPose = &start
	cfg.InitialStd = Pose{X: 0.3, Y: 0.3, Theta: 0.1}
	cfg.ChunkSize = 256

	f, err := New(cfg, testBeacons(t, Beacon{ID: 1, Pose: beacon}))
	require.NoError(t, err)

	spreads := []float64{f.Start(0).Particles.Spread()}
	var last StepResult
	for _, in := range inputs {
		last, err = f.Step(in)
		require.NoError(t, err)
		assert.Equal(t, StateTracking, last.State, "step %d", last.Step)
		if last.Resampled {
			assert.GreaterOrEqual(t, last.Particles.Len(), 1000)
			assert.LessOrEqual(t, last.Particles.Len(), cfg.NumParticlesMax)
			spreads = append(spreads, last.Particles.Spread())
		}
	}

	require.GreaterOrEqual(t, len(spreads), 4, "expected at least three resampling events")
	for i := 1; i < 4; i++ {
		assert.Less(t, spreads[i], spreads[i-1], "spread must shrink at resample event %d: %v", i, spreads[:4])
	}

	want := truth[len(truth)-1]
	assert.InDelta(t, 0, last.Estimate.Distance(want), 0.1, "final position %+v, truth %+v", last.Estimate, want)
	assert.InDelta(t, 0, AngleDifference(last.Estimate.Theta, want.Theta), 0.05)
	require.NotNil(t, last.BeaconEstimate)
	assert.InDelta(t, 0, last.BeaconEstimate.Distance(beacon), 0.5)
}

func TestFilter_ReproducibleAcrossWorkerCounts(t *testing.T) {
	t.Parallel()

	beacon := Pose{X: 4, Y: 6, Theta: 1}
	_, inputs := straightLine(Pose{X: 2, Y: 2, Theta: 0.5}, 15, 1, beacon)

	run := func(workers int) StepResult {
		cfg := trackingConfig(Pose{X: 2, Y: 2, Theta: 0.5})
		cfg.NumParticlesMax = 300
		cfg.ChunkSize = 32
		cfg.Workers = workers
		f, err := New(cfg, testBeacons(t, Beacon{ID: 1, Pose: beacon}))
		require.NoError(t, err)
		f.Start(0)
		var res StepResult
		for _, in := range inputs {
			res, err = f.Step(in)
			require.NoError(t, err)
		}
		return res
	}

	serial := run(1)
	assert.Empty(t, cmp.Diff(serial, run(8)), "results must not depend on the worker count")
	assert.Empty(t, cmp.Diff(serial, run(3)))
}

func TestFilter_ResetReplays(t *testing.T) {
	t.Parallel()

	beacon := Pose{X: 4, Y: 6, Theta: 1}
	_, inputs := straightLine(Pose{X: 2, Y: 2, Theta: 0.5}, 10, 1, beacon)
	f, err := New(trackingConfig(Pose{X: 2, Y: 2, Theta: 0.5}), testBeacons(t, Beacon{ID: 1, Pose: beacon}))
	require.NoError(t, err)

	replay := func() []StepResult {
		out := []StepResult{f.Start(0)}
		for _, in := range inputs {
			res, err := f.Step(in)
			require.NoError(t, err)
			out = append(out, res)
		}
		return out
	}

	first := replay()
	f.Reset()
	_, ok := f.Snapshot()
	assert.False(t, ok)
	assert.Empty(t, cmp.Diff(first, replay()))
}

func TestFilter_SystematicResampler(t *testing.T) {
	t.Parallel()

	beacon := Pose{X: 4, Y: 6, Theta: 1}
	_, inputs := straightLine(Pose{X: 2, Y: 2, Theta: 0.5}, 10, 1, beacon)
	cfg := trackingConfig(Pose{X: 2, Y: 2, Theta: 0.5})
	cfg.Resampler = "systematic"
	f, err := New(cfg, testBeacons(t, Beacon{ID: 1, Pose: beacon}))
	require.NoError(t, err)
	f.Start(0)

	resampled := false
	for _, in := range inputs {
		res, err := f.Step(in)
		require.NoError(t, err)
		resampled = resampled || res.Resampled
	}
	assert.True(t, resampled)
}

type countingResampler struct {
	calls int
	inner Resampler
}

func (c *countingResampler) Resample(set ParticleSet, n int, src rand.Source) (ParticleSet, error) {
	c.calls++
	return c.inner.Resample(set, n, src)
}

func TestFilter_WithResampler(t *testing.T) {
	t.Parallel()

	beacon := Pose{X: 4, Y: 6, Theta: 1}
	_, inputs := straightLine(Pose{X: 2, Y: 2, Theta: 0.5}, 5, 1, beacon)
	counter := &countingResampler{inner: MultinomialResampler{}}
	f, err := New(trackingConfig(Pose{X: 2, Y: 2, Theta: 0.5}), testBeacons(t, Beacon{ID: 1, Pose: beacon}), WithResampler(counter))
	require.NoError(t, err)
	f.Start(0)

	resampled := 0
	for _, in := range inputs {
		res, err := f.Step(in)
		require.NoError(t, err)
		if res.Resampled {
			resampled++
		}
	}
	assert.Equal(t, resampled, counter.calls)
	assert.Positive(t, counter.calls)
}

func TestFilter_SnapshotIsIsolated(t *testing.T) {
	t.Parallel()

	beacon := Pose{X: 4, Y: 6, Theta: 1}
	_, inputs := straightLine(Pose{X: 2, Y: 2, Theta: 0.5}, 20, 1, beacon)
	f, err := New(trackingConfig(Pose{X: 2, Y: 2, Theta: 0.5}), testBeacons(t, Beacon{ID: 1, Pose: beacon}))
	require.NoError(t, err)
	f.Start(0)

	snap, ok := f.Snapshot()
	require.True(t, ok)
	snap.Particles.Poses[0].X = -1000
	again, _ := f.Snapshot()
	assert.NotEqual(t, -1000.0, again.Particles.Poses[0].X)

	// Concurrent readers always see a consistent set.
	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			s, ok := f.Snapshot()
			if ok && len(s.Particles.Poses) != len(s.Particles.Weights) {
				t.Errorf("snapshot step %d has %d poses and %d weights", s.Step, len(s.Particles.Poses), len(s.Particles.Weights))
				return
			}
		}
	}()
	for _, in := range inputs {
		_, err := f.Step(in)
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
}

func TestFilter_StreamsDoNotOverlap(t *testing.T) {
	f, err := New(testConfig(), testBeacons(t, Beacon{ID: 1}))
	require.NoError(t, err)

	draw := func(src rand.Source) [4]uint64 {
		var out [4]uint64
		for i := range out {
			out[i] = src.Uint64()
		}
		return out
	}
	tests := []struct {
		name string
		a, b rand.Source
	}{
		{"large chunk vs next step", f.stream(streamMotion, 3, 1<<24), f.stream(streamMotion, 4, 0)},
		{"large step vs next purpose", f.stream(streamMotion, 1<<32, 0), f.stream(streamResample, 0, 0)},
		{"purpose", f.stream(streamMotion, 1, 0), f.stream(streamResample, 1, 0)},
		{"chunk", f.stream(streamMotion, 1, 0), f.stream(streamMotion, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, draw(tt.a), draw(tt.b))
		})
	}
	assert.Equal(t, draw(f.stream(streamMotion, 5, 2)), draw(f.stream(streamMotion, 5, 2)), "streams are reproducible")
}
