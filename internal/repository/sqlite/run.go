package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/agentcoder/internal/apperror"
	"github.com/sakif/agentcoder/internal/model"
	"github.com/sakif/agentcoder/internal/repository"
)

var _ repository.RunRepository = (*DB)(nil)

const runColumns = `id, owner, requirement, status, code, tests, error, retry_count,
	success, executions, failure, created_at, updated_at, finished_at`

// Create inserts a new run. It assigns the ID (an xid, so IDs sort by
// creation time) and both timestamps.
func (db *DB) Create(ctx context.Context, run *model.Run) error {
	run.ID = xid.New().String()
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	tests, err := json.Marshal(run.Tests)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tests: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Owner,
		run.Requirement,
		run.Status,
		run.Code,
		string(tests),
		run.Error,
		run.RetryCount,
		run.Success,
		run.Executions,
		run.Failure,
		run.CreatedAt,
		run.UpdatedAt,
		nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating run: %w", err)
	}
	return nil
}

// GetByID retrieves a single run. A missing run is apperror.NotFound.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Run, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("run", id)
		}
		return nil, fmt.Errorf("sqlite: getting run %s: %w", id, err)
	}
	return run, nil
}

// List returns runs newest first, filtered by owner and status when set.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Run, error) {
	opts = opts.Normalize()

	var (
		where []string
		args  []any
	)
	if opts.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, opts.Owner)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	// xids sort by creation time, so id breaks ties within one timestamp.
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.Run, 0, opts.Limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning run row: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating runs: %w", err)
	}
	return runs, nil
}

// Update writes every mutable field of run and bumps UpdatedAt.
// ID, Owner, Requirement and CreatedAt never change after Create.
func (db *DB) Update(ctx context.Context, run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()

	tests, err := json.Marshal(run.Tests)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tests: %w", err)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE runs
		 SET status = ?, code = ?, tests = ?, error = ?, retry_count = ?, success = ?,
		     executions = ?, failure = ?, updated_at = ?, finished_at = ?
		 WHERE id = ?`,
		run.Status,
		run.Code,
		string(tests),
		run.Error,
		run.RetryCount,
		run.Success,
		run.Executions,
		run.Failure,
		run.UpdatedAt,
		nullTime(run.FinishedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating run %s: %w", run.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("run", run.ID)
	}
	return nil
}

// AppendEvent stores one snapshot of a run. Appending to a run that does
// not exist is apperror.NotFound; repeating a Seq is apperror.Conflict.
func (db *DB) AppendEvent(ctx context.Context, ev *model.RunEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	record, err := json.Marshal(ev.Record)
	if err != nil {
		return fmt.Errorf("sqlite: encoding record: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO run_events (run_id, seq, state, record, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.RunID, ev.Seq, ev.State, string(record), ev.CreatedAt,
	)
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return apperror.NotFound("run", ev.RunID)
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return apperror.Conflict("run event", fmt.Sprintf("%s/%d", ev.RunID, ev.Seq))
		}
		return fmt.Errorf("sqlite: appending event to run %s: %w", ev.RunID, err)
	}
	return nil
}

// ListEvents returns every snapshot of a run in order. An unknown run has
// no events; that is an empty slice, not an error.
func (db *DB) ListEvents(ctx context.Context, runID string) ([]model.RunEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT run_id, seq, state, record, created_at
		 FROM run_events
		 WHERE run_id = ?
		 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing events of run %s: %w", runID, err)
	}
	defer rows.Close()

	events := make([]model.RunEvent, 0, 8)
	for rows.Next() {
		var (
			ev     model.RunEvent
			record string
		)
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.State, &record, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning event row: %w", err)
		}
		if err := json.Unmarshal([]byte(record), &ev.Record); err != nil {
			return nil, fmt.Errorf("sqlite: decoding record of run %s seq %d: %w", runID, ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating events: %w", err)
	}
	return events, nil
}

// FailInterrupted marks queued and running runs as failed.
func (db *DB) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE runs
		 SET status = ?, failure = ?, updated_at = ?, finished_at = ?
		 WHERE status IN (?, ?)`,
		model.StatusFailed, reason, now, now,
		model.StatusQueued, model.StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failing interrupted runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.Run, error) {
	var (
		run      model.Run
		tests    string
		finished sql.NullTime
	)
	if err := s.Scan(
		&run.ID, &run.Owner, &run.Requirement, &run.Status, &run.Code, &tests,
		&run.Error, &run.RetryCount, &run.Success, &run.Executions, &run.Failure,
		&run.CreatedAt, &run.UpdatedAt, &finished,
	); err != nil {
		return nil, err
	}
	if tests != "" && tests != "{}" {
		if err := json.Unmarshal([]byte(tests), &run.Tests); err != nil {
			return nil, fmt.Errorf("decoding tests of run %s: %w", run.ID, err)
		}
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
