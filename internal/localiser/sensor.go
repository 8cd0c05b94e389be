package localiser

import (
	"fmt"
	"math"
)

// SensorModel scores particles against one beacon observation as a product
// of three zero-mean Gaussian kernels on the range, bearing and beacon
// orientation residuals.
type SensorModel struct {
	RangeStd       float64 // metres
	BearingStd     float64 // radians
	OrientationStd float64 // radians
}

// SensorModels maps a sensor class name to its noise model.
type SensorModels map[string]SensorModel

// Lookup returns the model for class, using defaultClass when class is empty.
func (m SensorModels) Lookup(class, defaultClass string) (SensorModel, error) {
	if class == "" {
		class = defaultClass
	}
	model, ok := m[class]
	if !ok {
		return SensorModel{}, fmt.Errorf("%w: %q", ErrUnknownSensor, class)
	}
	return model, nil
}

// gaussianKernel is the unnormalised Gaussian exp(-x²/2σ²), in (0, 1] for
// finite x.
func gaussianKernel(x, sigma float64) float64 {
	return math.Exp(-x * x / (2 * sigma * sigma))
}

// Likelihood returns the unnormalised likelihood of observing the beacon at
// obs (robot sensor frame) from particle pose p, given the beacon's
// map-frame pose.
func (m SensorModel) Likelihood(p, obs, beacon Pose) float64 {
	r := math.Hypot(obs.X, obs.Y)
	phi := math.Atan2(obs.Y, obs.X)

	rp := p.Distance(beacon)
	phip := AngleDifference(p.Theta, math.Atan2(beacon.Y-p.Y, beacon.X-p.X))
	beaconAngle := WrapToPi(p.Theta + obs.Theta)

	return gaussianKernel(r-rp, m.RangeStd) *
		gaussianKernel(AngleDifference(phi, phip), m.BearingStd) *
		gaussianKernel(AngleDifference(beacon.Theta, beaconAngle), m.OrientationStd)
}

// Likelihoods scores every pose, writing into dst when it has room. The
// returned slice has len(poses) entries.
func (m SensorModel) Likelihoods(poses []Pose, obs, beacon Pose, dst []float64) []float64 {
	if cap(dst) < len(poses) {
		dst = make([]float64, len(poses))
	}
	dst = dst[:len(poses)]
	for i, p := range poses {
		dst[i] = m.Likelihood(p, obs, beacon)
	}
	return dst
}

// ImpliedBeaconPose transforms a sensor-frame observation into the map frame
// as seen from robot. A particle at robot scores the peak likelihood against
// a beacon at the returned pose.
func ImpliedBeaconPose(robot, obs Pose) Pose {
	sin, cos := math.Sincos(robot.Theta)
	return Pose{
		X:     robot.X + obs.X*cos - obs.Y*sin,
		Y:     robot.Y + obs.X*sin + obs.Y*cos,
		Theta: WrapToPi(robot.Theta + obs.Theta),
	}
}

// RelativePose returns the pose of target in the frame of robot. It is the
// inverse of ImpliedBeaconPose and produces noiseless observations.
func RelativePose(robot, target Pose) Pose {
	sin, cos := math.Sincos(robot.Theta)
	dx := target.X - robot.X
	dy := target.Y - robot.Y
	return Pose{
		X:     dx*cos + dy*sin,
		Y:     -dx*sin + dy*cos,
		Theta: AngleDifference(robot.Theta, target.Theta),
	}
}
