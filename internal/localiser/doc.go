// Package localiser owns the Monte Carlo localisation core.
//
// Responsibilities: angle normalisation, odometry motion propagation,
// the beacon likelihood model, weight bookkeeping with LOST recovery,
// resampling, and the per-step filter loop.
// Key types: Filter, ParticleSet, Pose, BeaconMap, StepResult.
//
// Dependency rule: the core consumes pre-validated records and a beacon
// map. No file I/O, SQL or HTTP code is allowed in this package; loading,
// persistence and rendering live in replay, storage and report.
package localiser
