package localiser

import "math"

const twoPi = 2 * math.Pi

// bearingEpsilon is the displacement below which a bearing is undefined.
const bearingEpsilon = 1e-12

// WrapToTwoPi maps any finite angle into [0, 2π).
func WrapToTwoPi(a float64) float64 {
	w := math.Mod(a, twoPi)
	if w < 0 {
		w += twoPi
	}
	// -tiny + 2π rounds up to 2π
	if w >= twoPi {
		w = 0
	}
	return w
}

// WrapToPi maps any finite angle into [-π, π). Angles already in range are
// returned unchanged, so WrapToPi is exactly idempotent.
func WrapToPi(a float64) float64 {
	if a >= -math.Pi && a < math.Pi {
		return a
	}
	w := WrapToTwoPi(a+math.Pi) - math.Pi
	if w >= math.Pi {
		w = -math.Pi
	}
	return w
}

// AngleDifference returns the signed difference b - a wrapped to [-π, π).
func AngleDifference(a, b float64) float64 {
	return WrapToPi(b - a)
}

// Bearing returns the direction of the displacement (dx, dy) in [-π, π).
// ok is false when the displacement is too small for the direction to be
// defined.
func Bearing(dx, dy float64) (angle float64, ok bool) {
	if math.Hypot(dx, dy) <= bearingEpsilon {
		return 0, false
	}
	return WrapToPi(math.Atan2(dy, dx)), true
}
