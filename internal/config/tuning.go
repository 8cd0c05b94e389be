package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// DefaultSensorClass is the sensor class used when an observation does not
// name one.
const DefaultSensorClass = "camera"

// Resampler names accepted by the resampler field.
const (
	ResamplerMultinomial = "multinomial"
	ResamplerSystematic  = "systematic"
)

// ProcessNoise holds the odometry motion noise standard deviations.
type ProcessNoise struct {
	Phi1 *float64 `json:"phi1,omitempty"` // initial rotation (rad)
	D    *float64 `json:"d,omitempty"`    // translation (m)
	Phi2 *float64 `json:"phi2,omitempty"` // final rotation (rad)
}

// SensorNoise holds the beacon sensor noise standard deviations for one
// sensor class.
type SensorNoise struct {
	Range             *float64 `json:"range,omitempty"`              // metres
	Bearing           *float64 `json:"bearing,omitempty"`            // radians
	BeaconOrientation *float64 `json:"beacon_orientation,omitempty"` // radians
}

// AreaBounds is the rectangular operating area in the map frame.
type AreaBounds struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// PoseConfig is a pose (or per-axis standard deviation) in JSON form.
type PoseConfig struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// TuningConfig represents the root configuration for localiser tuning
// parameters. Every field is optional; the Get* methods supply defaults for
// anything omitted so partial files are safe.
type TuningConfig struct {
	// Particle population
	NumParticlesMax *int `json:"num_particles_max,omitempty"`

	// Noise models
	ProcessNoise  *ProcessNoise          `json:"process_noise_stddevs,omitempty"`
	SensorNoise   map[string]SensorNoise `json:"sensor_noise_stddevs,omitempty"`
	DefaultSensor *string                `json:"default_sensor,omitempty"`

	// Beacons known to report bad poses; never fused.
	ExcludedBeaconIDs []int `json:"excluded_beacon_ids,omitempty"`

	// Weight bookkeeping and resampling
	DegeneracyThresholdFraction *float64 `json:"degeneracy_threshold_fraction,omitempty"`
	LostWeightEpsilon           *float64 `json:"lost_weight_epsilon,omitempty"`
	ResampleScaleConstant       *float64 `json:"resample_scale_constant,omitempty"`
	Resampler                   *string  `json:"resampler,omitempty"`

	// Initialisation
	OperatingAreaBounds *AreaBounds `json:"operating_area_bounds,omitempty"`
	InitialPose         *PoseConfig `json:"initial_pose,omitempty"`
	InitialPoseStddevs  *PoseConfig `json:"initial_pose_stddevs,omitempty"`
	RNGSeed             *uint64     `json:"rng_seed,omitempty"`

	// Execution
	Workers     *int    `json:"workers,omitempty"`
	ChunkSize   *int    `json:"chunk_size,omitempty"`
	StepCadence *string `json:"step_cadence,omitempty"` // duration string like "100ms"; "0s" replays flat out
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		NumParticlesMax: ptrInt(2000),
		ProcessNoise: &ProcessNoise{
			Phi1: ptrFloat64(0.005),
			D:    ptrFloat64(0.01),
			Phi2: ptrFloat64(0.005),
		},
		SensorNoise: map[string]SensorNoise{
			DefaultSensorClass: {
				Range:             ptrFloat64(0.06),
				Bearing:           ptrFloat64(0.1),
				BeaconOrientation: ptrFloat64(0.15),
			},
		},
		DefaultSensor:               ptrString(DefaultSensorClass),
		DegeneracyThresholdFraction: ptrFloat64(0.5),
		LostWeightEpsilon:           ptrFloat64(1e-50),
		ResampleScaleConstant:       ptrFloat64(200),
		Resampler:                   ptrString(ResamplerMultinomial),
		RNGSeed:                     ptrUint64(7),
		Workers:                     ptrInt(4),
		ChunkSize:                   ptrInt(256),
		StepCadence:                 ptrString("0s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,          // from cmd/localise/
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/storage/sqlite/, cmd/tools/x/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.NumParticlesMax != nil && *c.NumParticlesMax < 1 {
		return fmt.Errorf("num_particles_max must be at least 1, got %d", *c.NumParticlesMax)
	}

	if p := c.ProcessNoise; p != nil {
		for name, v := range map[string]*float64{"phi1": p.Phi1, "d": p.D, "phi2": p.Phi2} {
			if v != nil && *v < 0 {
				return fmt.Errorf("process_noise_stddevs.%s must be non-negative, got %f", name, *v)
			}
		}
	}

	for class, s := range c.SensorNoise {
		for name, v := range map[string]*float64{"range": s.Range, "bearing": s.Bearing, "beacon_orientation": s.BeaconOrientation} {
			if v != nil && *v <= 0 {
				return fmt.Errorf("sensor_noise_stddevs[%q].%s must be positive, got %f", class, name, *v)
			}
		}
	}

	if c.DefaultSensor != nil && *c.DefaultSensor == "" {
		return fmt.Errorf("default_sensor must not be empty")
	}

	if c.DegeneracyThresholdFraction != nil {
		if f := *c.DegeneracyThresholdFraction; f <= 0 || f > 1 {
			return fmt.Errorf("degeneracy_threshold_fraction must be in (0, 1], got %f", f)
		}
	}

	if c.LostWeightEpsilon != nil && !(*c.LostWeightEpsilon > 0) {
		return fmt.Errorf("lost_weight_epsilon must be positive, got %g", *c.LostWeightEpsilon)
	}

	if c.ResampleScaleConstant != nil && *c.ResampleScaleConstant <= 0 {
		return fmt.Errorf("resample_scale_constant must be positive, got %f", *c.ResampleScaleConstant)
	}

	if c.Resampler != nil {
		switch *c.Resampler {
		case ResamplerMultinomial, ResamplerSystematic:
		default:
			return fmt.Errorf("unknown resampler %q (want %q or %q)", *c.Resampler, ResamplerMultinomial, ResamplerSystematic)
		}
	}

	if b := c.OperatingAreaBounds; b != nil {
		if b.XMax <= b.XMin || b.YMax <= b.YMin {
			return fmt.Errorf("operating_area_bounds must have x_max > x_min and y_max > y_min, got %+v", *b)
		}
	}

	if s := c.InitialPoseStddevs; s != nil {
		if s.X < 0 || s.Y < 0 || s.Theta < 0 {
			return fmt.Errorf("initial_pose_stddevs must be non-negative, got %+v", *s)
		}
	}

	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}

	if c.ChunkSize != nil && *c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1, got %d", *c.ChunkSize)
	}

	if c.StepCadence != nil && *c.StepCadence != "" {
		d, err := time.ParseDuration(*c.StepCadence)
		if err != nil {
			return fmt.Errorf("invalid step_cadence '%s': %w", *c.StepCadence, err)
		}
		if d < 0 {
			return fmt.Errorf("step_cadence must be non-negative, got %s", d)
		}
	}

	return nil
}

// GetNumParticlesMax returns the num_particles_max value or the default.
func (c *TuningConfig) GetNumParticlesMax() int {
	if c.NumParticlesMax == nil {
		return 2000
	}
	return *c.NumParticlesMax
}

// GetProcessNoise returns the (phi1, d, phi2) motion noise standard deviations.
func (c *TuningConfig) GetProcessNoise() (phi1, d, phi2 float64) {
	phi1, d, phi2 = 0.005, 0.01, 0.005
	if c.ProcessNoise == nil {
		return phi1, d, phi2
	}
	if c.ProcessNoise.Phi1 != nil {
		phi1 = *c.ProcessNoise.Phi1
	}
	if c.ProcessNoise.D != nil {
		d = *c.ProcessNoise.D
	}
	if c.ProcessNoise.Phi2 != nil {
		phi2 = *c.ProcessNoise.Phi2
	}
	return phi1, d, phi2
}

// GetSensorNoise returns the (range, bearing, beacon orientation) standard
// deviations for a sensor class. Unknown classes and omitted fields fall
// back to the camera defaults.
func (c *TuningConfig) GetSensorNoise(class string) (rangeStd, bearingStd, orientationStd float64) {
	rangeStd, bearingStd, orientationStd = 0.06, 0.1, 0.15
	s, ok := c.SensorNoise[class]
	if !ok {
		return rangeStd, bearingStd, orientationStd
	}
	if s.Range != nil {
		rangeStd = *s.Range
	}
	if s.Bearing != nil {
		bearingStd = *s.Bearing
	}
	if s.BeaconOrientation != nil {
		orientationStd = *s.BeaconOrientation
	}
	return rangeStd, bearingStd, orientationStd
}

// GetSensorClasses returns the configured sensor class names in sorted
// order, always including the default sensor class.
func (c *TuningConfig) GetSensorClasses() []string {
	seen := map[string]bool{c.GetDefaultSensor(): true}
	for class := range c.SensorNoise {
		seen[class] = true
	}
	classes := make([]string, 0, len(seen))
	for class := range seen {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}

// GetDefaultSensor returns the default_sensor value or the default.
func (c *TuningConfig) GetDefaultSensor() string {
	if c.DefaultSensor == nil {
		return DefaultSensorClass
	}
	return *c.DefaultSensor
}

// GetExcludedBeaconIDs returns a copy of the excluded beacon ids.
func (c *TuningConfig) GetExcludedBeaconIDs() []int {
	return append([]int(nil), c.ExcludedBeaconIDs...)
}

// GetDegeneracyThresholdFraction returns the degeneracy_threshold_fraction value or the default.
func (c *TuningConfig) GetDegeneracyThresholdFraction() float64 {
	if c.DegeneracyThresholdFraction == nil {
		return 0.5
	}
	return *c.DegeneracyThresholdFraction
}

// GetLostWeightEpsilon returns the lost_weight_epsilon value or the default.
func (c *TuningConfig) GetLostWeightEpsilon() float64 {
	if c.LostWeightEpsilon == nil {
		return 1e-50
	}
	return *c.LostWeightEpsilon
}

// GetResampleScaleConstant returns the resample_scale_constant value or the default.
func (c *TuningConfig) GetResampleScaleConstant() float64 {
	if c.ResampleScaleConstant == nil {
		return 200
	}
	return *c.ResampleScaleConstant
}

// GetResampler returns the resampler value or the default.
func (c *TuningConfig) GetResampler() string {
	if c.Resampler == nil {
		return ResamplerMultinomial
	}
	return *c.Resampler
}

// GetOperatingAreaBounds returns the configured bounds, or ok=false when the
// bounds should be derived from the replayed data.
func (c *TuningConfig) GetOperatingAreaBounds() (AreaBounds, bool) {
	if c.OperatingAreaBounds == nil {
		return AreaBounds{}, false
	}
	return *c.OperatingAreaBounds, true
}

// GetInitialPose returns the known start pose prior, if configured, with
// its per-axis standard deviations (default 0.1 m, 0.1 m, 0.05 rad).
func (c *TuningConfig) GetInitialPose() (pose, stddevs PoseConfig, ok bool) {
	if c.InitialPose == nil {
		return PoseConfig{}, PoseConfig{}, false
	}
	stddevs = PoseConfig{X: 0.1, Y: 0.1, Theta: 0.05}
	if c.InitialPoseStddevs != nil {
		stddevs = *c.InitialPoseStddevs
	}
	return *c.InitialPose, stddevs, true
}

// GetRNGSeed returns the rng_seed value or the default.
func (c *TuningConfig) GetRNGSeed() uint64 {
	if c.RNGSeed == nil {
		return 7
	}
	return *c.RNGSeed
}

// GetWorkers returns the workers value or the default.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// GetChunkSize returns the chunk_size value or the default.
func (c *TuningConfig) GetChunkSize() int {
	if c.ChunkSize == nil {
		return 256
	}
	return *c.ChunkSize
}

// GetStepCadence parses and returns the StepCadence as a time.Duration.
// Zero means replay without pacing.
func (c *TuningConfig) GetStepCadence() time.Duration {
	if c.StepCadence == nil || *c.StepCadence == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.StepCadence)
	if err != nil {
		return 0 // default on parse error
	}
	return d
}
