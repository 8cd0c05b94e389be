package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/localiser/internal/localiser"
	"github.com/banshee-data/localiser/internal/monitoring"
	"github.com/banshee-data/localiser/internal/timeutil"
)

// Step pairs a filter result with the record that produced it.
type Step struct {
	Index  int // record index
	Record Record
	Result localiser.StepResult
}

// Sink consumes replay steps in order. A returned error aborts the run.
type Sink interface {
	HandleStep(ctx context.Context, step Step) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, step Step) error

// HandleStep implements Sink.
func (f SinkFunc) HandleStep(ctx context.Context, step Step) error {
	return f(ctx, step)
}

// Range is a half-open record index range [Start, End).
type Range struct {
	Start, End int
}

// Contains reports whether i lies in the range.
func (r Range) Contains(i int) bool {
	return i >= r.Start && i < r.End
}

// Options configures a Runner.
type Options struct {
	// Cadence paces steps on Clock; zero replays as fast as possible.
	Cadence time.Duration
	Clock   timeutil.Clock

	// SkipRange drops records as if the robot were carried away at Start
	// and released at End. The first step after the gap propagates only the
	// displacement of its own record, so the carried displacement is lost.
	SkipRange *Range

	Sinks []Sink
}

// Summary describes a completed replay.
type Summary struct {
	Steps        int           // filter steps, including step 0
	Observations int           // steps that fused an observation
	Resamples    int           // resampling events
	Recoveries   int           // LOST redraws
	Skipped      int           // records dropped by SkipRange
	Elapsed      time.Duration // wall time on Options.Clock
	Final        localiser.StepResult
}

// Runner drives a Filter through a log.
type Runner struct {
	filter *localiser.Filter
	opts   Options
}

// NewRunner returns a Runner for f.
func NewRunner(f *localiser.Filter, opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Runner{filter: f, opts: opts}
}

// Run replays records through the filter. Cancellation is honoured between
// steps only. Records must already be validated and aligned to the map frame.
func (r *Runner) Run(ctx context.Context, records []Record) (Summary, error) {
	if len(records) == 0 {
		return Summary{}, errors.New("replay: no records")
	}
	if r.opts.SkipRange != nil && r.opts.SkipRange.Contains(0) {
		return Summary{}, fmt.Errorf("replay: skip range %+v must not include the first record", *r.opts.SkipRange)
	}

	var summary Summary
	started := r.opts.Clock.Now()
	pacer := timeutil.NewPacer(r.opts.Clock, r.opts.Cadence)

	emit := func(i int, res localiser.StepResult) error {
		summary.Steps++
		summary.Final = res
		if res.BeaconID != localiser.NoBeacon {
			summary.Observations++
		}
		if res.Resampled {
			summary.Resamples++
		}
		if res.Recovered {
			summary.Recoveries++
		}
		step := Step{Index: i, Record: records[i], Result: res}
		for _, sink := range r.opts.Sinks {
			if err := sink.HandleStep(ctx, step); err != nil {
				return fmt.Errorf("replay: sink at record %d: %w", i, err)
			}
		}
		return nil
	}

	if err := pacer.Wait(ctx); err != nil {
		return summary, err
	}
	if err := emit(0, r.filter.Start(records[0].Time())); err != nil {
		return summary, err
	}

	for n := 1; n < len(records); n++ {
		if r.opts.SkipRange != nil && r.opts.SkipRange.Contains(n) {
			summary.Skipped++
			continue
		}
		if err := pacer.Wait(ctx); err != nil {
			return summary, err
		}
		res, err := r.filter.Step(StepInput(records[n-1], records[n]))
		if err != nil {
			return summary, fmt.Errorf("replay: record %d: %w", n, err)
		}
		if err := emit(n, res); err != nil {
			return summary, err
		}
	}

	summary.Elapsed = r.opts.Clock.Since(started)
	monitoring.Logf("[Replay] %d steps, %d observations, %d resamples, %d recoveries, %d skipped in %v",
		summary.Steps, summary.Observations, summary.Resamples, summary.Recoveries, summary.Skipped, summary.Elapsed)
	return summary, nil
}
