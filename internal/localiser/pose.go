package localiser

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// NoBeacon is the beacon id used at the ingestion boundary for records
// with no visible beacon.
const NoBeacon = -1

// Pose is a rigid 2D position and heading. Theta is kept in [-π, π).
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// IsFinite reports whether every component of the pose is finite.
func (p Pose) IsFinite() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Theta)
}

// Distance returns the Euclidean distance between the positions of p and q.
func (p Pose) Distance(q Pose) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Bounds is the rectangular operating area in the map frame.
type Bounds struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Validate checks that the bounds describe a non-empty finite rectangle.
func (b Bounds) Validate() error {
	for _, v := range []float64{b.XMin, b.XMax, b.YMin, b.YMax} {
		if !isFinite(v) {
			return fmt.Errorf("bounds must be finite, got %+v", b)
		}
	}
	if b.XMax <= b.XMin || b.YMax <= b.YMin {
		return fmt.Errorf("bounds must have XMax > XMin and YMax > YMin, got %+v", b)
	}
	return nil
}

// Contains reports whether (x, y) lies inside the closed rectangle.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.XMin && x <= b.XMax && y >= b.YMin && y <= b.YMax
}

// Beacon is one landmark entry as loaded from a map file.
type Beacon struct {
	ID   int
	Pose Pose
}

// BeaconMap is an immutable lookup from beacon id to map-frame pose.
type BeaconMap struct {
	poses map[int]Pose
	ids   []int
}

// NewBeaconMap builds a BeaconMap. Repeated ids are rejected.
func NewBeaconMap(beacons []Beacon) (BeaconMap, error) {
	m := BeaconMap{poses: make(map[int]Pose, len(beacons))}
	for _, b := range beacons {
		if _, dup := m.poses[b.ID]; dup {
			return BeaconMap{}, fmt.Errorf("%w: %d", ErrDuplicateBeacon, b.ID)
		}
		if !b.Pose.IsFinite() {
			return BeaconMap{}, fmt.Errorf("%w: beacon %d pose %+v", ErrNonFinite, b.ID, b.Pose)
		}
		p := b.Pose
		p.Theta = WrapToPi(p.Theta)
		m.poses[b.ID] = p
		m.ids = append(m.ids, b.ID)
	}
	sort.Ints(m.ids)
	return m, nil
}

// Lookup returns the map-frame pose of beacon id.
func (m BeaconMap) Lookup(id int) (Pose, bool) {
	p, ok := m.poses[id]
	return p, ok
}

// IDs returns the beacon ids in ascending order.
func (m BeaconMap) IDs() []int {
	return append([]int(nil), m.ids...)
}

// Len returns the number of beacons.
func (m BeaconMap) Len() int {
	return len(m.ids)
}

// Observation is the pose of a beacon measured in the robot sensor frame.
// Sensor names the noise model class; empty means the configured default.
type Observation struct {
	BeaconID int    `json:"beacon_id"`
	Sensor   string `json:"sensor,omitempty"`
	Pose     Pose   `json:"pose"`
}

// Command is the velocity command issued with an odometry record.
type Command struct {
	Speed    float64 `json:"speed"`
	Rotation float64 `json:"rotation"`
}

// OdometryStep is the displacement evidence driving one propagation.
type OdometryStep struct {
	Pose     Pose    // odometry pose at step n
	PrevPose Pose    // odometry pose at step n-1
	Command  Command // command issued at step n-1
	DT       float64 // seconds
}

// ParticleSet is a weighted sample of poses. len(Poses) == len(Weights)
// always holds; weights are finite, non-negative and unnormalised.
// A set is never mutated once the filter has published it.
type ParticleSet struct {
	Poses   []Pose    `json:"poses"`
	Weights []float64 `json:"weights"`
}

// Len returns the particle count.
func (s ParticleSet) Len() int {
	return len(s.Poses)
}

// Clone returns a deep copy of the set.
func (s ParticleSet) Clone() ParticleSet {
	return ParticleSet{
		Poses:   append([]Pose(nil), s.Poses...),
		Weights: append([]float64(nil), s.Weights...),
	}
}

func (s ParticleSet) components() (xs, ys, thetas []float64) {
	xs = make([]float64, len(s.Poses))
	ys = make([]float64, len(s.Poses))
	thetas = make([]float64, len(s.Poses))
	for i, p := range s.Poses {
		xs[i], ys[i], thetas[i] = p.X, p.Y, p.Theta
	}
	return xs, ys, thetas
}

// Estimate returns the unweighted mean position and circular mean heading.
func (s ParticleSet) Estimate() Pose {
	return s.estimate(nil)
}

// EstimateWeighted is Estimate with each particle scaled by its weight.
// It falls back to the unweighted estimate when the total weight is zero.
func (s ParticleSet) EstimateWeighted() Pose {
	if !(TotalWeight(s.Weights) > 0) {
		return s.estimate(nil)
	}
	return s.estimate(s.Weights)
}

func (s ParticleSet) estimate(weights []float64) Pose {
	if len(s.Poses) == 0 {
		return Pose{}
	}
	xs, ys, thetas := s.components()
	return Pose{
		X:     stat.Mean(xs, weights),
		Y:     stat.Mean(ys, weights),
		Theta: WrapToPi(stat.CircularMean(thetas, weights)),
	}
}

// Spread returns the summed sample variance of particle x and y, the trace
// of the position covariance. Sets with fewer than two particles have zero
// spread.
func (s ParticleSet) Spread() float64 {
	if len(s.Poses) < 2 {
		return 0
	}
	xs, ys, _ := s.components()
	return stat.Variance(xs, nil) + stat.Variance(ys, nil)
}
