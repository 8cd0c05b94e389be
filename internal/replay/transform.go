package replay

import (
	"math"

	"github.com/banshee-data/localiser/internal/localiser"
)

// Transform is a rigid 2D transform: rotate by Theta about the origin, then
// translate by (X, Y).
type Transform struct {
	X, Y, Theta float64
}

// FindTransform returns the transform that maps pose from onto pose to.
// It aligns the odometry frame with the map frame using the first record
// of a run.
func FindTransform(from, to localiser.Pose) Transform {
	theta := localiser.AngleDifference(from.Theta, to.Theta)
	sin, cos := math.Sincos(theta)
	return Transform{
		X:     to.X - (from.X*cos - from.Y*sin),
		Y:     to.Y - (from.X*sin + from.Y*cos),
		Theta: theta,
	}
}

// Apply transforms a single pose.
func (t Transform) Apply(p localiser.Pose) localiser.Pose {
	sin, cos := math.Sincos(t.Theta)
	return localiser.Pose{
		X:     p.X*cos - p.Y*sin + t.X,
		Y:     p.X*sin + p.Y*cos + t.Y,
		Theta: localiser.WrapToPi(p.Theta + t.Theta),
	}
}

// TransformPoses applies t to every pose, returning a new slice.
func TransformPoses(t Transform, poses []localiser.Pose) []localiser.Pose {
	out := make([]localiser.Pose, len(poses))
	for i, p := range poses {
		out[i] = t.Apply(p)
	}
	return out
}

// AlignOdometry returns a copy of records with odometry expressed in the
// map frame, anchored so the first odometry pose equals the first ground
// truth pose.
func AlignOdometry(records []Record) []Record {
	out := append([]Record(nil), records...)
	if len(out) == 0 {
		return out
	}
	t := FindTransform(out[0].OdomPose, out[0].MapPose)
	for i := range out {
		out[i].OdomPose = t.Apply(out[i].OdomPose)
	}
	return out
}

// maxHeadingJump is the largest heading change between consecutive
// ground-truth samples that CleanPoses accepts.
const maxHeadingJump = math.Pi / 2

// CleanPoses removes single-sample spikes from a ground-truth trace. A pose
// further than maxJump metres from its predecessor, or turned more than π/2
// from it, whose successor is back within 2·maxJump and π/2 of that
// predecessor, is replaced by the predecessor. Headings are compared on the
// circle, so a wrap across ±π is not a jump. Sustained jumps are kept. It
// returns the cleaned copy and the number of replaced poses.
func CleanPoses(poses []localiser.Pose, maxJump float64) ([]localiser.Pose, int) {
	out := append([]localiser.Pose(nil), poses...)
	replaced := 0
	for i := 1; i < len(out); i++ {
		prev := out[i-1]
		turn := math.Abs(localiser.AngleDifference(prev.Theta, poses[i].Theta))
		if prev.Distance(poses[i]) <= maxJump && turn <= maxHeadingJump {
			continue
		}
		if i+1 == len(poses) || (prev.Distance(poses[i+1]) <= 2*maxJump &&
			math.Abs(localiser.AngleDifference(prev.Theta, poses[i+1].Theta)) <= maxHeadingJump) {
			out[i] = prev
			replaced++
		}
	}
	return out, replaced
}

// CleanGroundTruth applies CleanPoses to the map poses of records.
func CleanGroundTruth(records []Record, maxJump float64) ([]Record, int) {
	cleaned, replaced := CleanPoses(GroundTruth(records), maxJump)
	out := append([]Record(nil), records...)
	for i := range out {
		out[i].MapPose = cleaned[i]
	}
	return out, replaced
}
