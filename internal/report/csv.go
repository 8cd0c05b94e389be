package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// EstimateColumns is the header of the per-step estimates CSV.
var EstimateColumns = []string{
	"step", "record", "time",
	"est_x", "est_y", "est_theta",
	"truth_x", "truth_y", "truth_theta",
	"position_error", "heading_error",
	"state", "beacon_id", "particles", "ess", "resampled", "recovered",
}

// WriteEstimatesCSV writes one row per entry.
func WriteEstimatesCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EstimateColumns); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	errs := StepErrors(entries)
	for i, e := range entries {
		beacon := ""
		if e.Visible() {
			beacon = strconv.Itoa(e.BeaconID)
		}
		row := []string{
			strconv.Itoa(e.Step), strconv.Itoa(e.Index), f(e.Time),
			f(e.Estimate.X), f(e.Estimate.Y), f(e.Estimate.Theta),
			f(e.Truth.X), f(e.Truth.Y), f(e.Truth.Theta),
			f(errs[i].Position), f(errs[i].Heading),
			string(e.State), beacon, strconv.Itoa(e.Particles), f(e.ESS),
			strconv.FormatBool(e.Resampled), strconv.FormatBool(e.Recovered),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write step %d: %w", e.Step, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
