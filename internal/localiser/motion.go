package localiser

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// MotionModel is the rotate/translate/rotate odometry motion model with
// independent Gaussian noise on each phase.
type MotionModel struct {
	Phi1Std float64 // initial rotation noise (rad)
	DStd    float64 // translation noise (m)
	Phi2Std float64 // final rotation noise (rad)
}

// Decompose returns the maximum-likelihood rotate/translate/rotate
// parameters implied by the odometry displacement. A zero displacement has
// no direction of travel, so the whole heading change goes into phi2.
func Decompose(step OdometryStep) (phi1, d, phi2 float64) {
	dx := step.Pose.X - step.PrevPose.X
	dy := step.Pose.Y - step.PrevPose.Y
	d = math.Hypot(dx, dy)
	heading, ok := Bearing(dx, dy)
	if !ok {
		return 0, d, AngleDifference(step.PrevPose.Theta, step.Pose.Theta)
	}
	return AngleDifference(step.PrevPose.Theta, heading), d, AngleDifference(heading, step.Pose.Theta)
}

// Propagate returns new poses advanced by the odometry step. The input
// slice is not modified.
func (m MotionModel) Propagate(poses []Pose, step OdometryStep, src rand.Source) []Pose {
	out := make([]Pose, len(poses))
	m.PropagateInto(out, poses, step, src)
	return out
}

// PropagateInto writes the advanced poses of in into dst, which must be at
// least as long as in. dst and in may alias. All randomness comes from src.
func (m MotionModel) PropagateInto(dst, in []Pose, step OdometryStep, src rand.Source) {
	phi1MLE, dMLE, phi2MLE := Decompose(step)

	phi1 := distuv.Normal{Mu: phi1MLE, Sigma: m.Phi1Std, Src: src}
	dist := distuv.Normal{Mu: dMLE, Sigma: m.DStd, Src: src}
	phi2 := distuv.Normal{Mu: phi2MLE, Sigma: m.Phi2Std, Src: src}

	for i, p := range in {
		theta := WrapToPi(p.Theta + sample(phi1))
		d := sample(dist)
		x := p.X + d*math.Cos(theta)
		y := p.Y + d*math.Sin(theta)
		dst[i] = Pose{X: x, Y: y, Theta: WrapToPi(theta + sample(phi2))}
	}
}

// sample draws from n, returning the mean exactly when there is no noise.
func sample(n distuv.Normal) float64 {
	if n.Sigma == 0 {
		return n.Mu
	}
	return n.Rand()
}
