package report

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/localiser/internal/localiser"
)

// StepError is the estimate error of one step.
type StepError struct {
	Step     int     `json:"step"`
	Time     float64 `json:"time"`
	Position float64 `json:"position"` // metres
	Heading  float64 `json:"heading"`  // absolute, radians
}

// ErrorStats summarises estimate error against ground truth.
type ErrorStats struct {
	Steps          int     `json:"steps"`
	PositionRMSE   float64 `json:"position_rmse"`
	MaxPosition    float64 `json:"max_position"`
	MeanAbsHeading float64 `json:"mean_abs_heading"`
	FinalPosition  float64 `json:"final_position"`
	FinalHeading   float64 `json:"final_heading"`
	LostSteps      int     `json:"lost_steps"`
	VisibleSteps   int     `json:"visible_steps"`
}

// StepErrors returns the per-step error of each entry.
func StepErrors(entries []Entry) []StepError {
	out := make([]StepError, len(entries))
	for i, e := range entries {
		out[i] = StepError{
			Step:     e.Step,
			Time:     e.Time,
			Position: e.Estimate.Distance(e.Truth),
			Heading:  math.Abs(localiser.AngleDifference(e.Truth.Theta, e.Estimate.Theta)),
		}
	}
	return out
}

// ComputeErrorStats summarises entries. Stats for an empty slice are zero.
func ComputeErrorStats(entries []Entry) ErrorStats {
	stats := ErrorStats{Steps: len(entries)}
	if len(entries) == 0 {
		return stats
	}
	errs := StepErrors(entries)
	sq := make([]float64, len(errs))
	heading := make([]float64, len(errs))
	for i, e := range errs {
		sq[i] = e.Position * e.Position
		heading[i] = e.Heading
	}
	for _, e := range entries {
		if e.State == localiser.StateLost {
			stats.LostSteps++
		}
		if e.Visible() {
			stats.VisibleSteps++
		}
	}

	last := errs[len(errs)-1]
	stats.PositionRMSE = math.Sqrt(stat.Mean(sq, nil))
	stats.MaxPosition = math.Sqrt(floats.Max(sq))
	stats.MeanAbsHeading = stat.Mean(heading, nil)
	stats.FinalPosition = last.Position
	stats.FinalHeading = last.Heading
	return stats
}
