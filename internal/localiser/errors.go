package localiser

import "errors"

var (
	// ErrNonFinite is returned when a pose or weight becomes NaN or ±Inf.
	// The run must be aborted.
	ErrNonFinite = errors.New("localiser: non-finite particle state")

	// ErrZeroWeight is returned by a Resampler when the total weight is zero
	// or not finite. The LOST transition should have intercepted this.
	ErrZeroWeight = errors.New("localiser: resampling with zero total weight")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("localiser: invalid config")

	// ErrUnknownBeacon is returned when an observation names a beacon that
	// is not in the map.
	ErrUnknownBeacon = errors.New("localiser: unknown beacon")

	// ErrDuplicateBeacon is returned by NewBeaconMap for repeated ids.
	ErrDuplicateBeacon = errors.New("localiser: duplicate beacon id")

	// ErrUnknownSensor is returned when an observation names a sensor class
	// with no configured noise model.
	ErrUnknownSensor = errors.New("localiser: unknown sensor class")

	// ErrNotStarted is returned by Step before Start has emitted step 0.
	ErrNotStarted = errors.New("localiser: filter not started")
)
