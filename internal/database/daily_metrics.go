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

	"github.com/goccy/go-json"

	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
)

const upsertDailyMetricSQL = `
	INSERT INTO daily_metrics (
		entity_group, entity_name, day, builds, fails, p95_duration, p99_duration,
		avg_duration, total_duration, max_retries, failure_reasons, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (entity_group, entity_name, day) DO UPDATE SET
		builds = EXCLUDED.builds,
		fails = EXCLUDED.fails,
		p95_duration = EXCLUDED.p95_duration,
		p99_duration = EXCLUDED.p99_duration,
		avg_duration = EXCLUDED.avg_duration,
		total_duration = EXCLUDED.total_duration,
		max_retries = EXCLUDED.max_retries,
		failure_reasons = EXCLUDED.failure_reasons,
		updated_at = EXCLUDED.updated_at`

// UpsertDailyMetrics writes every metric row in a single transaction,
// replacing all derived columns of existing keys. On error no row changes.
func (db *DB) UpsertDailyMetrics(ctx context.Context, rows []models.DailyMetric) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	reasons := make([]string, len(rows))
	for i := range rows {
		r := rows[i].FailureReasons
		if r == nil {
			r = []models.ReasonCount{}
		}
		b, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("failed to encode failure reasons for %s: %w", rows[i].EntityKey(), err)
		}
		reasons[i] = string(b)
	}

	updatedAt := db.now()
	start := time.Now()
	err := withConflictRetry(ctx, "daily_metrics", func() error {
		return db.upsertDailyMetricsTx(ctx, rows, reasons, updatedAt)
	})
	metrics.RecordDBQuery("upsert_batch", "daily_metrics", time.Since(start), err)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (db *DB) upsertDailyMetricsTx(ctx context.Context, rows []models.DailyMetric, reasons []string, updatedAt time.Time) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, upsertDailyMetricSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare daily_metrics upsert: %w", err)
	}
	defer closeWithLog(stmt, "stmt")

	for i := range rows {
		m := &rows[i]
		if _, err = stmt.ExecContext(ctx,
			m.EntityGroup, m.EntityName, models.Day(m.Day), m.Builds, m.Fails,
			m.P95Duration, m.P99Duration, m.AvgDuration, m.TotalDuration, m.MaxRetries,
			reasons[i], updatedAt); err != nil {
			return fmt.Errorf("failed to upsert daily metric %s %s: %w",
				m.EntityKey(), m.Day.Format(time.DateOnly), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit daily_metrics: %w", err)
	}
	return nil
}

// ListDailyMetrics returns metric rows matching filter ordered by
// (entity_group, entity_name, day). Project filters on entity_group.
func (db *DB) ListDailyMetrics(ctx context.Context, filter models.MetricsFilter) ([]models.DailyMetric, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `
		SELECT entity_group, entity_name, day, builds, fails, p95_duration, p99_duration,
			avg_duration, total_duration, max_retries, failure_reasons, updated_at
		FROM daily_metrics
		WHERE 1=1`
	var args []any
	if filter.Project != "" {
		query += ` AND entity_group = ?`
		args = append(args, filter.Project)
	}
	if !filter.From.IsZero() {
		query += ` AND day >= ?`
		args = append(args, models.Day(filter.From))
	}
	if !filter.To.IsZero() {
		query += ` AND day < ?`
		args = append(args, models.Day(filter.To))
	}
	query += ` ORDER BY entity_group, entity_name, day`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordDBQuery("select", "daily_metrics", time.Since(start), err)
		return nil, fmt.Errorf("failed to list daily metrics: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.DailyMetric
	for rows.Next() {
		var (
			m             models.DailyMetric
			p95, p99, avg sql.NullFloat64
			reasons       string
		)
		if err := rows.Scan(&m.EntityGroup, &m.EntityName, &m.Day, &m.Builds, &m.Fails,
			&p95, &p99, &avg, &m.TotalDuration, &m.MaxRetries, &reasons, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		m.Day = models.Day(m.Day)
		m.UpdatedAt = models.NormalizeUTC(m.UpdatedAt)
		m.P95Duration = nullFloatPtr(p95)
		m.P99Duration = nullFloatPtr(p99)
		m.AvgDuration = nullFloatPtr(avg)
		if err := json.Unmarshal([]byte(reasons), &m.FailureReasons); err != nil {
			return nil, fmt.Errorf("failed to decode failure reasons for %s: %w", m.EntityKey(), err)
		}
		out = append(out, m)
	}
	err = rows.Err()
	metrics.RecordDBQuery("select", "daily_metrics", time.Since(start), err)
	return out, err
}
