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

	"github.com/goccy/go-json"

	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
)

const upsertOfflineFeatureSQL = `
	INSERT INTO offline_features (entity_key, feature_version, event_time, payload, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (entity_key, feature_version, event_time) DO UPDATE SET
		payload = EXCLUDED.payload,
		updated_at = EXCLUDED.updated_at`

const upsertOnlineFeatureSQL = `
	INSERT INTO online_features (entity_key, feature_version, event_time, payload, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (entity_key) DO UPDATE SET
		feature_version = EXCLUDED.feature_version,
		event_time = EXCLUDED.event_time,
		payload = EXCLUDED.payload,
		updated_at = EXCLUDED.updated_at`

// WriteFeatureVector upserts v into the offline store (keyed by entity,
// version and event time) and the online store (keyed by entity) in one
// transaction. Transaction conflicts are retried with backoff.
func (db *DB) WriteFeatureVector(ctx context.Context, v *models.FeatureVector) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	payload, err := v.MarshalPayload()
	if err != nil {
		return fmt.Errorf("failed to encode features for %s: %w", v.EntityKey, err)
	}
	eventTime := models.NormalizeUTC(v.EventTime)
	updatedAt := db.now()

	start := time.Now()
	err = withConflictRetry(ctx, "online_features", func() error {
		return db.writeFeatureVectorTx(ctx, v, eventTime, string(payload), updatedAt)
	})
	metrics.RecordDBQuery("upsert", "online_features", time.Since(start), err)
	if err != nil {
		return err
	}
	v.UpdatedAt = updatedAt
	return nil
}

func (db *DB) writeFeatureVectorTx(ctx context.Context, v *models.FeatureVector, eventTime time.Time, payload string, updatedAt time.Time) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	if _, err = tx.ExecContext(ctx, upsertOfflineFeatureSQL,
		v.EntityKey, v.FeatureVersion, eventTime, payload, updatedAt); err != nil {
		return fmt.Errorf("failed to upsert offline features for %s: %w", v.EntityKey, err)
	}
	if _, err = tx.ExecContext(ctx, upsertOnlineFeatureSQL,
		v.EntityKey, v.FeatureVersion, eventTime, payload, updatedAt); err != nil {
		return fmt.Errorf("failed to upsert online features for %s: %w", v.EntityKey, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit features for %s: %w", v.EntityKey, err)
	}
	return nil
}

// GetOnlineFeatures returns the latest feature vector for entityKey decoded
// against schema. It returns nil, nil when the entity was never computed and
// an error wrapping models.ErrSchemaMismatch when the stored vector was built
// for another schema.
func (db *DB) GetOnlineFeatures(ctx context.Context, entityKey string, schema *models.FeatureSchema) (*models.FeatureVector, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		v       models.FeatureVector
		payload string
	)
	start := time.Now()
	err := db.conn.QueryRowContext(ctx, `
		SELECT entity_key, feature_version, event_time, payload, updated_at
		FROM online_features WHERE entity_key = ?`, entityKey).Scan(
		&v.EntityKey, &v.FeatureVersion, &v.EventTime, &payload, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordDBQuery("select", "online_features", time.Since(start), nil)
		return nil, nil
	}
	metrics.RecordDBQuery("select", "online_features", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read online features for %s: %w", entityKey, err)
	}

	if v.FeatureVersion != schema.Version {
		return nil, fmt.Errorf("%w: %s stored with v%d, requested v%d",
			models.ErrSchemaMismatch, entityKey, v.FeatureVersion, schema.Version)
	}
	values, err := models.DecodePayload([]byte(payload), schema)
	if err != nil {
		return nil, fmt.Errorf("online features for %s: %w", entityKey, err)
	}
	v.Values = values
	v.EventTime = models.NormalizeUTC(v.EventTime)
	v.UpdatedAt = models.NormalizeUTC(v.UpdatedAt)
	return &v, nil
}

// OfflineFilter selects offline feature rows. Zero values disable a bound.
type OfflineFilter struct {
	From    time.Time // inclusive event_time
	To      time.Time // exclusive event_time
	Version int
}

// OfflineFeatureRow is one offline store row with its payload left encoded.
type OfflineFeatureRow struct {
	EntityKey      string
	FeatureVersion int
	EventTime      time.Time
	Payload        json.RawMessage
	UpdatedAt      time.Time
}

// ListOfflineFeatures returns offline rows ordered by
// (feature_version, event_time, entity_key).
func (db *DB) ListOfflineFeatures(ctx context.Context, filter OfflineFilter) ([]OfflineFeatureRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT entity_key, feature_version, event_time, payload, updated_at
		FROM offline_features WHERE 1=1`
	var args []any
	if !filter.From.IsZero() {
		query += ` AND event_time >= ?`
		args = append(args, models.NormalizeUTC(filter.From))
	}
	if !filter.To.IsZero() {
		query += ` AND event_time < ?`
		args = append(args, models.NormalizeUTC(filter.To))
	}
	if filter.Version > 0 {
		query += ` AND feature_version = ?`
		args = append(args, filter.Version)
	}
	query += ` ORDER BY feature_version, event_time, entity_key`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordDBQuery("select", "offline_features", time.Since(start), err)
		return nil, fmt.Errorf("failed to list offline features: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []OfflineFeatureRow
	for rows.Next() {
		var (
			r       OfflineFeatureRow
			payload string
		)
		if err := rows.Scan(&r.EntityKey, &r.FeatureVersion, &r.EventTime, &payload, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan offline features: %w", err)
		}
		r.EventTime = models.NormalizeUTC(r.EventTime)
		r.UpdatedAt = models.NormalizeUTC(r.UpdatedAt)
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	err = rows.Err()
	metrics.RecordDBQuery("select", "offline_features", time.Since(start), err)
	return out, err
}
