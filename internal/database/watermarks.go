// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
)

// GetWatermark returns the last processed timestamp for source, or nil when
// the source has never been processed.
func (db *DB) GetWatermark(ctx context.Context, source string) (*time.Time, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	var ts time.Time
	err := db.conn.QueryRowContext(ctx,
		`SELECT last_ts FROM etl_watermarks WHERE source = ?`, source).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordDBQuery("select", "etl_watermarks", time.Since(start), nil)
		return nil, nil
	}
	metrics.RecordDBQuery("select", "etl_watermarks", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark for %s: %w", source, err)
	}
	ts = models.NormalizeUTC(ts)
	return &ts, nil
}

// SetWatermark records ts as the watermark for source. The stored value never
// decreases: an older ts leaves the row unchanged.
func (db *DB) SetWatermark(ctx context.Context, source string, ts time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO etl_watermarks (source, last_ts, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET
			last_ts = greatest(etl_watermarks.last_ts, EXCLUDED.last_ts),
			updated_at = EXCLUDED.updated_at`,
		source, models.NormalizeUTC(ts), db.now())
	metrics.RecordDBQuery("upsert", "etl_watermarks", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to set watermark for %s: %w", source, err)
	}
	return nil
}

// ListWatermarks returns every stored watermark ordered by source.
func (db *DB) ListWatermarks(ctx context.Context) ([]models.Watermark, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT source, last_ts, updated_at FROM etl_watermarks ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []models.Watermark
	for rows.Next() {
		var w models.Watermark
		if err := rows.Scan(&w.Source, &w.LastTS, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		w.LastTS = models.NormalizeUTC(w.LastTS)
		w.UpdatedAt = models.NormalizeUTC(w.UpdatedAt)
		out = append(out, w)
	}
	return out, rows.Err()
}
