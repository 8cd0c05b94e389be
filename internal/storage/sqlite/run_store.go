package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one replay of a log through the filter.
type Run struct {
	RunID        string `json:"run_id"`
	CreatedAt    int64  `json:"created_at"` // unix ns
	FinishedAt   *int64 `json:"finished_at,omitempty"`
	DataPath     string `json:"data_path"`
	MapPath      string `json:"map_path"`
	ConfigJSON   string `json:"config_json"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	RunStats
}

// RunStats are the counters recorded when a run finishes.
type RunStats struct {
	Steps        int `json:"steps"`
	Observations int `json:"observations"`
	Resamples    int `json:"resamples"`
	Recoveries   int `json:"recoveries"`
}

// RunStore provides persistence for runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Insert creates a run. An empty RunID is replaced with a new UUID and a
// zero CreatedAt with the current time.
func (s *RunStore) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if run.ConfigJSON == "" {
		run.ConfigJSON = "{}"
	}

	_, err := s.db.Exec(`
		INSERT INTO localiser_runs (
			run_id, created_at, finished_at, data_path, map_path, config_json,
			status, error_message, steps, observations, resamples, recoveries
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID, run.CreatedAt, nullInt64(run.FinishedAt),
		run.DataPath, run.MapPath, run.ConfigJSON,
		run.Status, nullString(run.ErrorMessage),
		run.Steps, run.Observations, run.Resamples, run.Recoveries,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish records the outcome of a run. A nil runErr marks it completed.
func (s *RunStore) Finish(runID string, stats RunStats, runErr error) error {
	status, message := RunCompleted, ""
	if runErr != nil {
		status, message = RunFailed, runErr.Error()
	}
	result, err := s.db.Exec(`
		UPDATE localiser_runs
		SET finished_at = ?, status = ?, error_message = ?,
		    steps = ?, observations = ?, resamples = ?, recoveries = ?
		WHERE run_id = ?
	`,
		time.Now().UnixNano(), status, nullString(message),
		stats.Steps, stats.Observations, stats.Resamples, stats.Recoveries,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return expectOneRow(result, "finish run")
}

const runColumns = `
	run_id, created_at, finished_at, data_path, map_path, config_json,
	status, error_message, steps, observations, resamples, recoveries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	r := &Run{}
	var finishedAt sql.NullInt64
	var message sql.NullString
	err := row.Scan(
		&r.RunID, &r.CreatedAt, &finishedAt, &r.DataPath, &r.MapPath, &r.ConfigJSON,
		&r.Status, &message, &r.Steps, &r.Observations, &r.Resamples, &r.Recoveries,
	)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Int64
	}
	if message.Valid {
		r.ErrorMessage = message.String
	}
	return r, nil
}

// Get returns a run by ID, or sql.ErrNoRows.
func (s *RunStore) Get(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM localiser_runs WHERE run_id = ?`, runID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// List returns the most recent runs, newest first. A limit of zero or less
// returns every run.
func (s *RunStore) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM localiser_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Delete removes a run and, through the foreign key, its estimates.
func (s *RunStore) Delete(runID string) error {
	result, err := s.db.Exec("DELETE FROM localiser_runs WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return expectOneRow(result, "delete run")
}

func expectOneRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
