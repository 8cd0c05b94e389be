package localiser

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/localiser/internal/config"
	"github.com/banshee-data/localiser/internal/monitoring"
)

// Config holds the filter parameters. Noise values are standard deviations.
type Config struct {
	NumParticlesMax    int          // N_max; initial and LOST redraw size
	Motion             MotionModel  // Odometry process noise
	Sensors            SensorModels // Per-class observation noise
	DefaultSensor      string       // Class used when an observation names none
	ExcludedBeacons    []int        // Beacons never fused
	DegeneracyFraction float64      // Resample when N_eff < fraction·N
	LostWeightEpsilon  float64      // LOST when Σw < epsilon
	ResampleScale      float64      // K in N_target = K / peak likelihood
	Bounds             Bounds       // Operating area for uniform draws
	InitialPose        *Pose        // Optional start pose prior
	InitialStd         Pose         // Per-axis prior standard deviation
	Seed               uint64       // Base seed for all random streams
	Resampler          string       // "multinomial" or "systematic"
	Workers            int          // Goroutines per step
	ChunkSize          int          // Particles per random stream
}

// DefaultConfig returns filter configuration loaded from the canonical
// tuning defaults file (config/tuning.defaults.json). Bounds are left zero
// and must be set before New.
// Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig. Bounds are
// copied only when the tuning file sets operating_area_bounds.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	phi1, d, phi2 := cfg.GetProcessNoise()
	sensors := make(SensorModels)
	for _, class := range cfg.GetSensorClasses() {
		r, b, o := cfg.GetSensorNoise(class)
		sensors[class] = SensorModel{RangeStd: r, BearingStd: b, OrientationStd: o}
	}

	out := Config{
		NumParticlesMax:    cfg.GetNumParticlesMax(),
		Motion:             MotionModel{Phi1Std: phi1, DStd: d, Phi2Std: phi2},
		Sensors:            sensors,
		DefaultSensor:      cfg.GetDefaultSensor(),
		ExcludedBeacons:    cfg.GetExcludedBeaconIDs(),
		DegeneracyFraction: cfg.GetDegeneracyThresholdFraction(),
		LostWeightEpsilon:  cfg.GetLostWeightEpsilon(),
		ResampleScale:      cfg.GetResampleScaleConstant(),
		Seed:               cfg.GetRNGSeed(),
		Resampler:          cfg.GetResampler(),
		Workers:            cfg.GetWorkers(),
		ChunkSize:          cfg.GetChunkSize(),
	}
	if b, ok := cfg.GetOperatingAreaBounds(); ok {
		out.Bounds = Bounds{XMin: b.XMin, XMax: b.XMax, YMin: b.YMin, YMax: b.YMax}
	}
	if pose, std, ok := cfg.GetInitialPose(); ok {
		out.InitialPose = &Pose{X: pose.X, Y: pose.Y, Theta: WrapToPi(pose.Theta)}
		out.InitialStd = Pose{X: std.X, Y: std.Y, Theta: std.Theta}
	}
	return out
}

// Validate checks the configuration. Every error wraps ErrInvalidConfig.
func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if c.NumParticlesMax < 1 {
		return invalid("NumParticlesMax must be at least 1, got %d", c.NumParticlesMax)
	}
	if c.Motion.Phi1Std < 0 || c.Motion.DStd < 0 || c.Motion.Phi2Std < 0 {
		return invalid("motion noise must be non-negative, got %+v", c.Motion)
	}
	if _, ok := c.Sensors[c.DefaultSensor]; !ok {
		return invalid("no sensor model for default class %q", c.DefaultSensor)
	}
	for class, m := range c.Sensors {
		if !(m.RangeStd > 0 && m.BearingStd > 0 && m.OrientationStd > 0) {
			return invalid("sensor %q noise must be positive, got %+v", class, m)
		}
	}
	if !(c.DegeneracyFraction > 0 && c.DegeneracyFraction <= 1) {
		return invalid("DegeneracyFraction must be in (0, 1], got %g", c.DegeneracyFraction)
	}
	if !(c.LostWeightEpsilon > 0) {
		return invalid("LostWeightEpsilon must be positive, got %g", c.LostWeightEpsilon)
	}
	if !(c.ResampleScale > 0) {
		return invalid("ResampleScale must be positive, got %g", c.ResampleScale)
	}
	if err := c.Bounds.Validate(); err != nil {
		return invalid("%v", err)
	}
	if c.InitialPose != nil {
		if !c.InitialPose.IsFinite() {
			return invalid("InitialPose must be finite, got %+v", *c.InitialPose)
		}
		if c.InitialStd.X < 0 || c.InitialStd.Y < 0 || c.InitialStd.Theta < 0 {
			return invalid("InitialStd must be non-negative, got %+v", c.InitialStd)
		}
	}
	if c.Workers < 1 {
		return invalid("Workers must be at least 1, got %d", c.Workers)
	}
	if c.ChunkSize < 1 {
		return invalid("ChunkSize must be at least 1, got %d", c.ChunkSize)
	}
	if _, err := NewResampler(c.Resampler); err != nil {
		return err
	}
	return nil
}

// StepInput is one replayed record as seen by the filter.
type StepInput struct {
	Time        float64
	Odometry    OdometryStep
	Observation *Observation // nil when no beacon is visible
}

// StepResult is the per-step output. Particles is an immutable snapshot.
type StepResult struct {
	Step           int         `json:"step"`
	Time           float64     `json:"time"`
	Estimate       Pose        `json:"estimate"`
	State          FilterState `json:"state"`
	Particles      ParticleSet `json:"particles"`
	Resampled      bool        `json:"resampled"`
	Recovered      bool        `json:"recovered"`
	ESS            float64     `json:"ess"`
	PeakLikelihood float64     `json:"peak_likelihood"`
	BeaconID       int         `json:"beacon_id"`
	// BeaconEstimate is the beacon's map pose implied by the estimate and
	// this step's observation. Nil when nothing was fused.
	BeaconEstimate *Pose `json:"beacon_estimate,omitempty"`
}

// Clone returns a deep copy of r.
func (r StepResult) Clone() StepResult {
	out := r
	out.Particles = r.Particles.Clone()
	if r.BeaconEstimate != nil {
		b := *r.BeaconEstimate
		out.BeaconEstimate = &b
	}
	return out
}

// Random stream purposes. Each (purpose, step, chunk) triple selects an
// independent PCG sequence under the configured seed.
const (
	streamInit uint64 = iota + 1
	streamMotion
	streamResample
	streamRecovery
)

// Option configures a Filter.
type Option func(*Filter)

// WithResampler overrides the resampler named in Config.
func WithResampler(r Resampler) Option {
	return func(f *Filter) { f.resampler = r }
}

// Filter is the particle filter. Step calls must be sequential; Snapshot
// may be called concurrently with Step.
type Filter struct {
	cfg       Config
	beacons   BeaconMap
	excluded  map[int]bool
	resampler Resampler

	// stepMu serialises Step, Start and Reset.
	stepMu sync.Mutex

	// mu guards the published state below.
	mu      sync.RWMutex
	set     ParticleSet
	state   FilterState
	step    int
	started bool
	latest  StepResult
}

// New validates cfg and returns a Filter with its initial particle set drawn.
func New(cfg Config, beacons BeaconMap, opts ...Option) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resampler, err := NewResampler(cfg.Resampler)
	if err != nil {
		return nil, err
	}
	f := &Filter{
		cfg:       cfg,
		beacons:   beacons,
		excluded:  make(map[int]bool, len(cfg.ExcludedBeacons)),
		resampler: resampler,
	}
	for _, id := range cfg.ExcludedBeacons {
		f.excluded[id] = true
	}
	for _, opt := range opts {
		opt(f)
	}
	f.Reset()
	return f, nil
}

// Config returns the filter configuration.
func (f *Filter) Config() Config {
	return f.cfg
}

// Reset redraws the initial particle set and rewinds to step 0. The draw
// depends only on the seed, so a reset filter replays identically.
func (f *Filter) Reset() {
	f.stepMu.Lock()
	defer f.stepMu.Unlock()

	var set ParticleSet
	if f.cfg.InitialPose != nil {
		set = f.priorSet(*f.cfg.InitialPose, f.cfg.InitialStd)
	} else {
		set = f.uniformSet(f.stream(streamInit, 0, 0), f.cfg.NumParticlesMax)
	}

	f.mu.Lock()
	f.set = set
	f.state = StateTracking
	f.step = 0
	f.started = false
	f.latest = StepResult{}
	f.mu.Unlock()
}

// Start emits the step 0 result for time t. No observation is processed.
func (f *Filter) Start(t float64) StepResult {
	f.stepMu.Lock()
	defer f.stepMu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.latest = StepResult{
		Step:      0,
		Time:      t,
		Estimate:  f.set.Estimate(),
		State:     f.state,
		Particles: f.set,
		ESS:       EffectiveSampleSize(f.set.Weights),
		BeaconID:  NoBeacon,
	}
	return f.latest.Clone()
}

// State returns the current filter state.
func (f *Filter) State() FilterState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Snapshot returns a deep copy of the latest step result. ok is false before
// Start.
func (f *Filter) Snapshot() (StepResult, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.started {
		return StepResult{}, false
	}
	return f.latest.Clone(), true
}

// Step advances the filter by one record:
//  1. propagate every particle through the motion model
//  2. weight against the observation, if one is present and not excluded
//  3. on weight collapse redraw N_max particles over the operating area
//     (LOST); otherwise resample to the adaptive target when degenerate
//  4. publish the new set and its estimate
//
// A non-finite pose or weight aborts with ErrNonFinite and leaves the
// published state unchanged.
func (f *Filter) Step(in StepInput) (StepResult, error) {
	f.stepMu.Lock()
	defer f.stepMu.Unlock()

	f.mu.RLock()
	cur, started, step := f.set, f.started, f.step+1
	f.mu.RUnlock()
	if !started {
		return StepResult{}, ErrNotStarted
	}

	// Step 1: resolve the observation before any work is done.
	var (
		fuse   bool
		obs    Observation
		beacon Pose
		model  SensorModel
	)
	if in.Observation != nil && in.Observation.BeaconID != NoBeacon && !f.excluded[in.Observation.BeaconID] {
		obs = *in.Observation
		var ok bool
		beacon, ok = f.beacons.Lookup(obs.BeaconID)
		if !ok {
			return StepResult{}, fmt.Errorf("step %d: %w: %d", step, ErrUnknownBeacon, obs.BeaconID)
		}
		var err error
		if model, err = f.cfg.Sensors.Lookup(obs.Sensor, f.cfg.DefaultSensor); err != nil {
			return StepResult{}, fmt.Errorf("step %d: %w", step, err)
		}
		fuse = true
	}

	// Step 2: propagate and score in parallel chunks.
	n := cur.Len()
	poses := make([]Pose, n)
	var likelihoods []float64
	if fuse {
		likelihoods = make([]float64, n)
	}
	var g errgroup.Group
	g.SetLimit(f.cfg.Workers)
	for chunk, lo := 0, 0; lo < n; chunk, lo = chunk+1, lo+f.cfg.ChunkSize {
		hi := min(lo+f.cfg.ChunkSize, n)
		g.Go(func() error {
			f.cfg.Motion.PropagateInto(poses[lo:hi], cur.Poses[lo:hi], in.Odometry, f.stream(streamMotion, step, chunk))
			if fuse {
				model.Likelihoods(poses[lo:hi], obs.Pose, beacon, likelihoods[lo:hi])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StepResult{}, fmt.Errorf("step %d: %w", step, err)
	}
	if err := CheckFinite(poses, nil); err != nil {
		return StepResult{}, fmt.Errorf("step %d: after propagation: %w", step, err)
	}

	result := StepResult{
		Step:     step,
		Time:     in.Time,
		State:    StateTracking,
		BeaconID: NoBeacon,
	}
	weights := append([]float64(nil), cur.Weights...)
	next := ParticleSet{Poses: poses, Weights: weights}

	// Step 3: weight bookkeeping, recovery and resampling.
	if fuse {
		result.BeaconID = obs.BeaconID
		MultiplyWeights(weights, likelihoods)
		if err := CheckFinite(nil, weights); err != nil {
			return StepResult{}, fmt.Errorf("step %d: after weighting: %w", step, err)
		}
		result.PeakLikelihood = floats.Max(likelihoods)
		result.ESS = EffectiveSampleSize(weights)

		switch {
		case IsCollapsed(weights, f.cfg.LostWeightEpsilon):
			total := TotalWeight(weights)
			next = f.uniformSet(f.stream(streamRecovery, step, 0), f.cfg.NumParticlesMax)
			result.State = StateLost
			result.Recovered = true
			result.ESS = EffectiveSampleSize(next.Weights)
			monitoring.Logf("[Localiser] step %d: weight collapse (total %.3g, beacon %d), redrawing %d particles over %+v",
				step, total, obs.BeaconID, f.cfg.NumParticlesMax, f.cfg.Bounds)

		case IsDegenerate(weights, f.cfg.DegeneracyFraction):
			target := TargetParticleCount(result.PeakLikelihood, f.cfg.ResampleScale, f.cfg.NumParticlesMax)
			resampled, err := f.resampler.Resample(next, target, f.stream(streamResample, step, 0))
			if err != nil {
				return StepResult{}, fmt.Errorf("step %d: resample: %w", step, err)
			}
			monitoring.Debugf("[Localiser] step %d: resampled %d -> %d (ess %.1f, peak %.3g)",
				step, n, target, result.ESS, result.PeakLikelihood)
			next = resampled
			result.Resampled = true
		}
	} else {
		result.ESS = EffectiveSampleSize(weights)
	}

	// Step 4: estimate and publish.
	result.Estimate = next.Estimate()
	result.Particles = next
	if fuse {
		b := ImpliedBeaconPose(result.Estimate, obs.Pose)
		result.BeaconEstimate = &b
	}
	if !result.Estimate.IsFinite() {
		return StepResult{}, fmt.Errorf("step %d: %w: estimate %+v", step, ErrNonFinite, result.Estimate)
	}

	f.mu.Lock()
	f.set = next
	f.state = result.State
	f.step = step
	f.latest = result
	f.mu.Unlock()

	return result.Clone(), nil
}

// stream returns the PCG source for one (purpose, step, chunk) triple. The
// step is mixed into the first word and the chunk fills the low 56 bits of the
// second, so distinct triples never share a key.
func (f *Filter) stream(purpose uint64, step, chunk int) rand.Source {
	return rand.NewPCG(f.cfg.Seed^uint64(step)*0x9e3779b97f4a7c15, purpose<<56|uint64(chunk)&(1<<56-1))
}

// uniformSet draws n unit-weight particles uniformly over the operating area
// with headings uniform in [-π, π).
func (f *Filter) uniformSet(src rand.Source, n int) ParticleSet {
	b := f.cfg.Bounds
	xs := distuv.Uniform{Min: b.XMin, Max: b.XMax, Src: src}
	ys := distuv.Uniform{Min: b.YMin, Max: b.YMax, Src: src}
	thetas := distuv.Uniform{Min: -math.Pi, Max: math.Pi, Src: src}

	set := ParticleSet{Poses: make([]Pose, n), Weights: make([]float64, n)}
	for i := range set.Poses {
		set.Poses[i] = Pose{X: xs.Rand(), Y: ys.Rand(), Theta: WrapToPi(thetas.Rand())}
		set.Weights[i] = 1
	}
	return set
}

// priorSet draws N_max unit-weight particles around a known start pose.
func (f *Filter) priorSet(mean, std Pose) ParticleSet {
	src := f.stream(streamInit, 0, 0)
	xs := distuv.Normal{Mu: mean.X, Sigma: std.X, Src: src}
	ys := distuv.Normal{Mu: mean.Y, Sigma: std.Y, Src: src}
	thetas := distuv.Normal{Mu: mean.Theta, Sigma: std.Theta, Src: src}

	n := f.cfg.NumParticlesMax
	set := ParticleSet{Poses: make([]Pose, n), Weights: make([]float64, n)}
	for i := range set.Poses {
		set.Poses[i] = Pose{X: sample(xs), Y: sample(ys), Theta: WrapToPi(sample(thetas))}
		set.Weights[i] = 1
	}
	return set
}
