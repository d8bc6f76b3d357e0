// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
)

const insertPipelineSQL = `
	INSERT INTO raw_pipelines (
		id, project, status, ref, sha, web_url, duration,
		created_at, updated_at, started_at, finished_at, payload, ingested_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING`

const insertJobSQL = `
	INSERT INTO raw_jobs (
		id, pipeline_id, project, name, stage, status, duration, queued_duration,
		retry_count, failure_reason, web_url, created_at, started_at, finished_at,
		payload, ingested_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING`

// AppendPipelineEvents inserts pipeline events in one transaction. Events whose
// id already exists are ignored. Returns the number of rows actually inserted.
func (db *DB) AppendPipelineEvents(ctx context.Context, events []models.PipelineEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	ingestedAt := db.now()
	return db.appendBatch(ctx, "raw_pipelines", insertPipelineSQL, len(events), func(stmt *sql.Stmt, i int) (sql.Result, error) {
		e := &events[i]
		return stmt.ExecContext(ctx,
			e.ID, e.Project, e.Status, e.Ref, e.SHA, e.WebURL, e.Duration,
			models.NormalizeUTC(e.CreatedAt), models.NormalizeUTC(e.UpdatedAt),
			models.NormalizeUTCPtr(e.StartedAt), models.NormalizeUTCPtr(e.FinishedAt),
			string(e.Payload), ingestedAt)
	})
}

// AppendJobEvents inserts job events in one transaction. Events whose id
// already exists are ignored. Returns the number of rows actually inserted.
func (db *DB) AppendJobEvents(ctx context.Context, events []models.JobEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	ingestedAt := db.now()
	return db.appendBatch(ctx, "raw_jobs", insertJobSQL, len(events), func(stmt *sql.Stmt, i int) (sql.Result, error) {
		e := &events[i]
		return stmt.ExecContext(ctx,
			e.ID, e.PipelineID, e.Project, e.Name, e.Stage, e.Status, e.Duration, e.QueuedDuration,
			e.RetryCount, e.FailureReason, e.WebURL, models.NormalizeUTC(e.CreatedAt),
			models.NormalizeUTCPtr(e.StartedAt), models.NormalizeUTCPtr(e.FinishedAt),
			string(e.Payload), ingestedAt)
	})
}

// appendBatch runs n prepared inserts inside one transaction, retrying the
// whole batch on transaction conflicts. Any failure rolls back every row.
func (db *DB) appendBatch(ctx context.Context, table, query string, n int, exec func(*sql.Stmt, int) (sql.Result, error)) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	var inserted int
	err := withConflictRetry(ctx, table, func() error {
		var txErr error
		inserted, txErr = db.appendBatchTx(ctx, table, query, n, exec)
		return txErr
	})
	metrics.RecordDBQuery("insert_batch", table, time.Since(start), err)
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (db *DB) appendBatchTx(ctx context.Context, table, query string, n int, exec func(*sql.Stmt, int) (sql.Result, error)) (inserted int, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare %s insert: %w", table, err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Str("table", table).Msg("Failed to close prepared statement")
		}
	}()

	for i := 0; i < n; i++ {
		result, execErr := exec(stmt, i)
		if execErr != nil {
			return 0, fmt.Errorf("failed to insert %s row %d: %w", table, i, execErr)
		}
		if affected, raErr := result.RowsAffected(); raErr == nil {
			inserted += int(affected)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit %s batch: %w", table, err)
	}
	return inserted, nil
}

// JobScanFilter selects raw jobs for aggregation. Zero From means no lower
// bound; zero To means no upper bound. Empty Project means every project.
type JobScanFilter struct {
	Project string
	From    time.Time // inclusive
	To      time.Time // exclusive
}

// ScanJobs streams raw jobs matching filter to fn ordered by
// (project, name, created_at, id). Payload is not loaded.
func (db *DB) ScanJobs(ctx context.Context, filter JobScanFilter, fn func(*models.JobEvent) error) error {
	query := `
		SELECT id, pipeline_id, project, name, COALESCE(stage, ''), status, duration,
			queued_duration, retry_count, COALESCE(failure_reason, ''), COALESCE(web_url, ''),
			created_at, started_at, finished_at
		FROM raw_jobs
		WHERE 1=1`
	var args []any
	if filter.Project != "" {
		query += ` AND project = ?`
		args = append(args, filter.Project)
	}
	if !filter.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, models.NormalizeUTC(filter.From))
	}
	if !filter.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, models.NormalizeUTC(filter.To))
	}
	query += ` ORDER BY project, name, created_at, id`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordDBQuery("select", "raw_jobs", time.Since(start), err)
		return fmt.Errorf("failed to scan raw jobs: %w", err)
	}
	defer closeWithLog(rows, "rows")

	for rows.Next() {
		var (
			e                     models.JobEvent
			pipelineID            sql.NullInt64
			duration, queued      sql.NullFloat64
			startedAt, finishedAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &pipelineID, &e.Project, &e.Name, &e.Stage, &e.Status, &duration,
			&queued, &e.RetryCount, &e.FailureReason, &e.WebURL,
			&e.CreatedAt, &startedAt, &finishedAt); err != nil {
			return fmt.Errorf("failed to scan raw job: %w", err)
		}
		if pipelineID.Valid {
			e.PipelineID = &pipelineID.Int64
		}
		e.Duration = nullFloatPtr(duration)
		e.QueuedDuration = nullFloatPtr(queued)
		e.CreatedAt = models.NormalizeUTC(e.CreatedAt)
		e.StartedAt = nullTimePtr(startedAt)
		e.FinishedAt = nullTimePtr(finishedAt)
		if err := fn(&e); err != nil {
			return err
		}
	}
	err = rows.Err()
	metrics.RecordDBQuery("select", "raw_jobs", time.Since(start), err)
	return err
}

// GetPipeline returns the raw pipeline with the given id, or nil when absent.
func (db *DB) GetPipeline(ctx context.Context, id int64) (*models.PipelineEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		e                     models.PipelineEvent
		duration              sql.NullFloat64
		startedAt, finishedAt sql.NullTime
		payload               string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, project, status, COALESCE(ref, ''), COALESCE(sha, ''), COALESCE(web_url, ''),
			duration, created_at, updated_at, started_at, finished_at, payload
		FROM raw_pipelines WHERE id = ?`, id).Scan(
		&e.ID, &e.Project, &e.Status, &e.Ref, &e.SHA, &e.WebURL,
		&duration, &e.CreatedAt, &e.UpdatedAt, &startedAt, &finishedAt, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline %d: %w", id, err)
	}
	e.Duration = nullFloatPtr(duration)
	e.CreatedAt = models.NormalizeUTC(e.CreatedAt)
	e.UpdatedAt = models.NormalizeUTC(e.UpdatedAt)
	e.StartedAt = nullTimePtr(startedAt)
	e.FinishedAt = nullTimePtr(finishedAt)
	e.Payload = []byte(payload)
	return &e, nil
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := models.NormalizeUTC(v.Time)
	return &t
}
