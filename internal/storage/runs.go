package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// CreateRun inserts a new run. Status defaults to queued.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *models.Run) error {
	now := time.Now().UTC()
	if run.Status == "" {
		run.Status = models.RunQueued
	}
	run.CreatedAt = now
	run.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, workflow, payload, status, attempts, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workflow, string(run.Payload), string(run.Status), run.Attempts, run.LastError, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun returns a run with its step log in the order the steps were first recorded.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, workflow, payload, status, attempts, last_error, created_at, updated_at
		 FROM workflow_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, status, result, error, updated_at
		 FROM workflow_steps WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var outcome models.StepOutcome
		var status string
		var result sql.NullString
		if err := rows.Scan(&outcome.Step, &status, &result, &outcome.Error, &outcome.UpdatedAt); err != nil {
			return nil, err
		}
		outcome.Status = models.StepStatus(status)
		if result.Valid && result.String != "" {
			outcome.Result = []byte(result.String)
		}
		run.Steps = append(run.Steps, &outcome)
	}
	return run, rows.Err()
}

// UpdateRun sets the status, attempt count and last error of a run.
func (s *SQLiteStorage) UpdateRun(ctx context.Context, id string, status models.RunStatus, attempts int, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), attempts, lastError, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimRun moves a queued or errored run to running and counts the attempt. It reports false,
// leaving the run untouched, when the run is in any other state.
func (s *SQLiteStorage) ClaimRun(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(models.RunRunning), time.Now().UTC(), id, string(models.RunQueued), string(models.RunErrored),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListRuns returns runs in creation order, without step logs. With no statuses every run is returned.
func (s *SQLiteStorage) ListRuns(ctx context.Context, statuses ...models.RunStatus) ([]*models.Run, error) {
	query := `SELECT id, workflow, payload, status, attempts, last_error, created_at, updated_at FROM workflow_runs`
	args := make([]interface{}, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := make([]*models.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordStep upserts a step outcome. An outcome already recorded as completed is left untouched.
func (s *SQLiteStorage) RecordStep(ctx context.Context, runID string, outcome *models.StepOutcome) error {
	if outcome.UpdatedAt.IsZero() {
		outcome.UpdatedAt = time.Now().UTC()
	}
	var result interface{}
	if len(outcome.Result) > 0 {
		result = string(outcome.Result)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_steps (run_id, step, status, result, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at
		 WHERE workflow_steps.status != 'completed'`,
		runID, outcome.Step, string(outcome.Status), result, outcome.Error, outcome.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record step %q: %w", outcome.Step, err)
	}
	return nil
}

// CountRuns returns the number of runs per status.
func (s *SQLiteStorage) CountRuns(ctx context.Context) (map[models.RunStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM workflow_runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[models.RunStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.RunStatus(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var payload, status string
	if err := row.Scan(&run.ID, &run.Workflow, &payload, &status, &run.Attempts, &run.LastError, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Payload = []byte(payload)
	run.Status = models.RunStatus(status)
	return &run, nil
}
