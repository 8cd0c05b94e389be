package replay

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/localiser/internal/localiser"
)

// Scenario shapes understood by GenerateScenario.
const (
	ScenarioLine   = "line"
	ScenarioCircle = "circle"
)

// ScenarioConfig describes a synthetic run.
type ScenarioConfig struct {
	Kind   string  // ScenarioLine or ScenarioCircle
	Steps  int     // records after the start record
	DT     float64 // seconds between records
	Speed  float64 // metres per second
	Radius float64 // metres, circle only

	Start   localiser.Pose
	Beacons []localiser.Beacon // nil places DefaultBeacons along the path

	// Beacons are visible within SensorRange metres and FieldOfView radians
	// centred on the heading. The nearest visible beacon is reported.
	SensorRange float64
	FieldOfView float64

	// Observation noise standard deviations; zero gives exact observations.
	RangeStd       float64
	BearingStd     float64
	OrientationStd float64

	// OdomFrame is the pose of the odometry frame origin in the map frame.
	OdomFrame localiser.Pose

	Seed uint64
}

// DefaultScenarioConfig returns a 20 s straight run past a row of beacons
// with exact observations.
func DefaultScenarioConfig() ScenarioConfig {
	return ScenarioConfig{
		Kind:        ScenarioLine,
		Steps:       200,
		DT:          0.1,
		Speed:       1.0,
		Radius:      5.0,
		SensorRange: 6.0,
		FieldOfView: math.Pi,
		OdomFrame:   localiser.Pose{X: 1, Y: -2, Theta: 0.3},
		Seed:        7,
	}
}

// GenerateScenario returns synthetic records and the beacon map they were
// observed against.
func GenerateScenario(cfg ScenarioConfig) ([]Record, []localiser.Beacon, error) {
	if cfg.Steps < 1 {
		return nil, nil, fmt.Errorf("scenario needs at least 1 step, got %d", cfg.Steps)
	}
	if cfg.DT <= 0 {
		return nil, nil, fmt.Errorf("scenario dt must be positive, got %f", cfg.DT)
	}

	var rotation float64
	switch cfg.Kind {
	case ScenarioLine:
	case ScenarioCircle:
		if cfg.Radius <= 0 {
			return nil, nil, fmt.Errorf("circle radius must be positive, got %f", cfg.Radius)
		}
		rotation = cfg.Speed / cfg.Radius
	default:
		return nil, nil, fmt.Errorf("unknown scenario %q (want %q or %q)", cfg.Kind, ScenarioLine, ScenarioCircle)
	}

	truth := make([]localiser.Pose, cfg.Steps+1)
	truth[0] = cfg.Start
	for k := 1; k <= cfg.Steps; k++ {
		truth[k] = advance(truth[k-1], cfg.Speed, rotation, cfg.DT)
	}

	beacons := cfg.Beacons
	if beacons == nil {
		beacons = DefaultBeacons(truth, cfg.SensorRange/2)
	}

	src := rand.NewPCG(cfg.Seed, 0x5ce7a210)
	rangeNoise := distuv.Normal{Mu: 0, Sigma: cfg.RangeStd, Src: src}
	bearingNoise := distuv.Normal{Mu: 0, Sigma: cfg.BearingStd, Src: src}
	orientationNoise := distuv.Normal{Mu: 0, Sigma: cfg.OrientationStd, Src: src}

	records := make([]Record, len(truth))
	for k, pose := range truth {
		rec := Record{
			TimeNs:   int64(math.Round(float64(k) * cfg.DT * 1e9)),
			Command:  localiser.Command{Speed: cfg.Speed, Rotation: rotation},
			MapPose:  pose,
			OdomPose: localiser.RelativePose(cfg.OdomFrame, pose),
			BeaconID: localiser.NoBeacon,
		}
		if b, ok := nearestVisible(pose, beacons, cfg.SensorRange, cfg.FieldOfView); ok {
			obs := localiser.RelativePose(pose, b.Pose)
			r := math.Hypot(obs.X, obs.Y) + noise(rangeNoise)
			phi := math.Atan2(obs.Y, obs.X) + noise(bearingNoise)
			rec.BeaconID = b.ID
			rec.BeaconPose = localiser.Pose{
				X:     r * math.Cos(phi),
				Y:     r * math.Sin(phi),
				Theta: localiser.WrapToPi(obs.Theta + noise(orientationNoise)),
			}
		}
		records[k] = rec
	}
	return records, beacons, nil
}

func noise(n distuv.Normal) float64 {
	if n.Sigma == 0 {
		return 0
	}
	return n.Rand()
}

// advance integrates a constant velocity and turn rate over dt.
func advance(p localiser.Pose, speed, rotation, dt float64) localiser.Pose {
	if rotation == 0 {
		return localiser.Pose{
			X:     p.X + speed*dt*math.Cos(p.Theta),
			Y:     p.Y + speed*dt*math.Sin(p.Theta),
			Theta: p.Theta,
		}
	}
	r := speed / rotation
	theta := p.Theta + rotation*dt
	return localiser.Pose{
		X:     p.X + r*(math.Sin(theta)-math.Sin(p.Theta)),
		Y:     p.Y - r*(math.Cos(theta)-math.Cos(p.Theta)),
		Theta: localiser.WrapToPi(theta),
	}
}

// DefaultBeacons places beacons alternately either side of the path, offset
// by offset metres, roughly every 2·offset metres of travel. Each beacon faces
// the path.
func DefaultBeacons(path []localiser.Pose, offset float64) []localiser.Beacon {
	if offset <= 0 {
		offset = 1
	}
	var beacons []localiser.Beacon
	var travelled float64
	side := 1.0
	for i, p := range path {
		if i > 0 {
			travelled += path[i-1].Distance(p)
		}
		if i > 0 && travelled < 2*offset {
			continue
		}
		travelled = 0
		sin, cos := math.Sincos(p.Theta)
		beacons = append(beacons, localiser.Beacon{
			ID: len(beacons),
			Pose: localiser.Pose{
				X:     p.X - side*offset*sin,
				Y:     p.Y + side*offset*cos,
				Theta: localiser.WrapToPi(p.Theta - side*math.Pi/2),
			},
		})
		side = -side
	}
	return beacons
}

func nearestVisible(p localiser.Pose, beacons []localiser.Beacon, maxRange, fov float64) (localiser.Beacon, bool) {
	best, found := localiser.Beacon{}, false
	bestRange := math.Inf(1)
	for _, b := range beacons {
		r := p.Distance(b.Pose)
		if r > maxRange || r >= bestRange {
			continue
		}
		bearing := localiser.AngleDifference(p.Theta, math.Atan2(b.Pose.Y-p.Y, b.Pose.X-p.X))
		if math.Abs(bearing) > fov/2 {
			continue
		}
		best, bestRange, found = b, r, true
	}
	return best, found
}
