package sqlite

import (
	"context"
	"sync"

	"github.com/banshee-data/localiser/internal/monitoring"
	"github.com/banshee-data/localiser/internal/replay"
)

// DefaultBatchSize is the number of estimates buffered before a write.
const DefaultBatchSize = 256

// Recorder is a replay sink that stores every step of a run.
type Recorder struct {
	runs      *RunStore
	estimates *EstimateStore
	runID     string
	batchSize int

	mu     sync.Mutex
	buffer []Estimate
}

// NewRecorder inserts run and returns a Recorder writing its estimates.
// A batchSize below 1 uses DefaultBatchSize.
func NewRecorder(db *DB, run *Run, batchSize int) (*Recorder, error) {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	runs := NewRunStore(db.DB)
	if err := runs.Insert(run); err != nil {
		return nil, err
	}
	monitoring.Logf("[Recorder] recording run %s", run.RunID)
	return &Recorder{
		runs:      runs,
		estimates: NewEstimateStore(db.DB),
		runID:     run.RunID,
		batchSize: batchSize,
	}, nil
}

// RunID returns the ID of the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// HandleStep implements replay.Sink.
func (r *Recorder) HandleStep(ctx context.Context, step replay.Step) error {
	res := step.Result
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, Estimate{
		RunID:     r.runID,
		Step:      res.Step,
		TimeNs:    step.Record.TimeNs,
		State:     res.State,
		Estimate:  res.Estimate,
		Truth:     step.Record.MapPose,
		BeaconID:  res.BeaconID,
		Particles: len(res.Particles.Poses),
		ESS:       res.ESS,
		Resampled: res.Resampled,
		Recovered: res.Recovered,
	})
	if len(r.buffer) < r.batchSize {
		return nil
	}
	return r.flushLocked(ctx)
}

// Flush writes any buffered estimates.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

func (r *Recorder) flushLocked(ctx context.Context) error {
	if err := r.estimates.InsertBatch(ctx, r.buffer); err != nil {
		return err
	}
	r.buffer = r.buffer[:0]
	return nil
}

// Finish flushes buffered estimates and records the run outcome. The run is
// marked failed if runErr or the final flush fails.
func (r *Recorder) Finish(ctx context.Context, summary replay.Summary, runErr error) error {
	flushErr := r.Flush(ctx)
	if runErr == nil {
		runErr = flushErr
	}
	stats := RunStats{
		Steps:        summary.Steps,
		Observations: summary.Observations,
		Resamples:    summary.Resamples,
		Recoveries:   summary.Recoveries,
	}
	if err := r.runs.Finish(r.runID, stats, runErr); err != nil {
		return err
	}
	return flushErr
}
