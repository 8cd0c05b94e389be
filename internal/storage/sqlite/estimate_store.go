package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/localiser/internal/localiser"
)

// Estimate is the filter output for one step alongside ground truth.
type Estimate struct {
	RunID     string                `json:"run_id"`
	Step      int                   `json:"step"`
	TimeNs    int64                 `json:"time_ns"`
	State     localiser.FilterState `json:"state"`
	Estimate  localiser.Pose        `json:"estimate"`
	Truth     localiser.Pose        `json:"truth"`
	BeaconID  int                   `json:"beacon_id"` // localiser.NoBeacon when none
	Particles int                   `json:"particles"`
	ESS       float64               `json:"ess"`
	Resampled bool                  `json:"resampled"`
	Recovered bool                  `json:"recovered"`
}

// EstimateStore provides persistence for per-step estimates.
type EstimateStore struct {
	db *sql.DB
}

// NewEstimateStore creates a new EstimateStore.
func NewEstimateStore(db *sql.DB) *EstimateStore {
	return &EstimateStore{db: db}
}

// InsertBatch writes estimates in a single transaction.
func (s *EstimateStore) InsertBatch(ctx context.Context, estimates []Estimate) error {
	if len(estimates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin estimate batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO localiser_estimates (
			run_id, step, time_ns, state,
			est_x, est_y, est_theta, truth_x, truth_y, truth_theta,
			beacon_id, particles, ess, resampled, recovered
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare estimate insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range estimates {
		var beacon sql.NullInt64
		if e.BeaconID != localiser.NoBeacon {
			beacon = sql.NullInt64{Int64: int64(e.BeaconID), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			e.RunID, e.Step, e.TimeNs, string(e.State),
			e.Estimate.X, e.Estimate.Y, e.Estimate.Theta,
			e.Truth.X, e.Truth.Y, e.Truth.Theta,
			beacon, e.Particles, e.ESS, e.Resampled, e.Recovered,
		)
		if err != nil {
			return fmt.Errorf("insert estimate %s/%d: %w", e.RunID, e.Step, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit estimate batch: %w", err)
	}
	return nil
}

// ListByRun returns the estimates of a run in step order.
func (s *EstimateStore) ListByRun(runID string) ([]Estimate, error) {
	rows, err := s.db.Query(`
		SELECT run_id, step, time_ns, state,
		       est_x, est_y, est_theta, truth_x, truth_y, truth_theta,
		       beacon_id, particles, ess, resampled, recovered
		FROM localiser_estimates
		WHERE run_id = ?
		ORDER BY step
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list estimates: %w", err)
	}
	defer rows.Close()

	var out []Estimate
	for rows.Next() {
		var e Estimate
		var state string
		var beacon sql.NullInt64
		err := rows.Scan(
			&e.RunID, &e.Step, &e.TimeNs, &state,
			&e.Estimate.X, &e.Estimate.Y, &e.Estimate.Theta,
			&e.Truth.X, &e.Truth.Y, &e.Truth.Theta,
			&beacon, &e.Particles, &e.ESS, &e.Resampled, &e.Recovered,
		)
		if err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		e.State = localiser.FilterState(state)
		e.BeaconID = localiser.NoBeacon
		if beacon.Valid {
			e.BeaconID = int(beacon.Int64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByRun returns the number of stored estimates for a run.
func (s *EstimateStore) CountByRun(runID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM localiser_estimates WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count estimates: %w", err)
	}
	return n, nil
}
