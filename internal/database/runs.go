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

	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
)

const runColumns = `run_id, state, COALESCE(failed_stage, ''), started_at, finished_at,
	window_days, feature_window_days, feature_version, pipelines_read, pipelines_inserted,
	jobs_read, jobs_inserted, rows_skipped, metrics_upserted, features_written,
	pipelines_watermark, jobs_watermark, COALESCE(error, '')`

// InsertRun records the outcome of one ETL run.
func (db *DB) InsertRun(ctx context.Context, s *models.RunStats) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO etl_runs (
			run_id, state, failed_stage, started_at, finished_at, window_days,
			feature_window_days, feature_version, pipelines_read, pipelines_inserted,
			jobs_read, jobs_inserted, rows_skipped, metrics_upserted, features_written,
			pipelines_watermark, jobs_watermark, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.State, s.FailedStage, models.NormalizeUTC(s.StartedAt), models.NormalizeUTC(s.FinishedAt),
		s.WindowDays, s.FeatureWindowDays, s.FeatureVersion, s.PipelinesRead, s.PipelinesInserted,
		s.JobsRead, s.JobsInserted, s.RowsSkipped, s.MetricsUpserted, s.FeaturesWritten,
		models.NormalizeUTCPtr(s.PipelinesWatermark), models.NormalizeUTCPtr(s.JobsWatermark), s.Error)
	metrics.RecordDBQuery("insert", "etl_runs", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", s.RunID, err)
	}
	return nil
}

// LastRun returns the most recently started run, or nil when none exist.
func (db *DB) LastRun(ctx context.Context) (*models.RunStats, error) {
	runs, err := db.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.RunStats, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM etl_runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.RunStats
	for rows.Next() {
		var (
			s             models.RunStats
			pipeWM, jobWM sql.NullTime
		)
		if err := rows.Scan(&s.RunID, &s.State, &s.FailedStage, &s.StartedAt, &s.FinishedAt,
			&s.WindowDays, &s.FeatureWindowDays, &s.FeatureVersion, &s.PipelinesRead, &s.PipelinesInserted,
			&s.JobsRead, &s.JobsInserted, &s.RowsSkipped, &s.MetricsUpserted, &s.FeaturesWritten,
			&pipeWM, &jobWM, &s.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.StartedAt = models.NormalizeUTC(s.StartedAt)
		s.FinishedAt = models.NormalizeUTC(s.FinishedAt)
		s.PipelinesWatermark = nullTimePtr(pipeWM)
		s.JobsWatermark = nullTimePtr(jobWM)
		out = append(out, s)
	}
	return out, rows.Err()
}
