// Package replay loads logged runs and beacon maps, aligns odometry with the
// map frame, generates synthetic scenarios, and drives a localiser.Filter
// through a log one record at a time.
package replay

import (
	"math"

	"github.com/banshee-data/localiser/internal/localiser"
)

// Record is one row of a run log.
type Record struct {
	TimeNs     int64             // capture time, nanoseconds
	Command    localiser.Command // velocity command issued at this record
	MapPose    localiser.Pose    // ground truth in the map frame (from SLAM)
	OdomPose   localiser.Pose    // wheel odometry pose
	BeaconID   int               // localiser.NoBeacon when nothing is visible
	BeaconPose localiser.Pose    // beacon pose in the robot sensor frame
}

// Time returns the record time in seconds.
func (r Record) Time() float64 {
	return float64(r.TimeNs) / 1e9
}

// Visible reports whether a beacon was observed at this record.
func (r Record) Visible() bool {
	return r.BeaconID != localiser.NoBeacon
}

// Observation returns the beacon observation, or nil when none is visible.
func (r Record) Observation() *localiser.Observation {
	if !r.Visible() {
		return nil
	}
	return &localiser.Observation{BeaconID: r.BeaconID, Pose: r.BeaconPose}
}

// StepInput builds the filter input for record n from records n-1 and n.
func StepInput(prev, cur Record) localiser.StepInput {
	return localiser.StepInput{
		Time: cur.Time(),
		Odometry: localiser.OdometryStep{
			Pose:     cur.OdomPose,
			PrevPose: prev.OdomPose,
			Command:  prev.Command,
			DT:       float64(cur.TimeNs-prev.TimeNs) / 1e9,
		},
		Observation: cur.Observation(),
	}
}

// GroundTruth returns the map poses of records.
func GroundTruth(records []Record) []localiser.Pose {
	out := make([]localiser.Pose, len(records))
	for i, r := range records {
		out[i] = r.MapPose
	}
	return out
}

// GroundTruthBounds returns the extent of the ground-truth path padded by
// margin on every side. Axes with no extent are padded by at least half a
// metre so the bounds are never empty.
func GroundTruthBounds(records []Record, margin float64) localiser.Bounds {
	if len(records) == 0 {
		return localiser.Bounds{XMin: -margin - 0.5, XMax: margin + 0.5, YMin: -margin - 0.5, YMax: margin + 0.5}
	}
	b := localiser.Bounds{
		XMin: math.Inf(1), XMax: math.Inf(-1),
		YMin: math.Inf(1), YMax: math.Inf(-1),
	}
	for _, r := range records {
		b.XMin = math.Min(b.XMin, r.MapPose.X)
		b.XMax = math.Max(b.XMax, r.MapPose.X)
		b.YMin = math.Min(b.YMin, r.MapPose.Y)
		b.YMax = math.Max(b.YMax, r.MapPose.Y)
	}
	pad := func(lo, hi float64) (float64, float64) {
		m := margin
		if hi-lo+2*m <= 0 {
			m = 0.5
		}
		return lo - m, hi + m
	}
	b.XMin, b.XMax = pad(b.XMin, b.XMax)
	b.YMin, b.YMax = pad(b.YMin, b.YMax)
	return b
}
