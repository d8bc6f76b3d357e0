// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package database

import (
	"context"
	"fmt"
	"time"
)

// etlTables lists every table owned by the ETL, in creation order.
var etlTables = []string{
	"etl_watermarks",
	"raw_pipelines",
	"raw_jobs",
	"daily_metrics",
	"offline_features",
	"online_features",
	"etl_runs",
}

// schemaContext returns a context for schema DDL, which can run long on large files.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// Timestamps are plain TIMESTAMP columns holding UTC values written from Go.
// JSON documents are kept as TEXT so the json extension is never required.
var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS etl_watermarks (
		source TEXT PRIMARY KEY,
		last_ts TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS raw_pipelines (
		id BIGINT PRIMARY KEY,
		project TEXT NOT NULL,
		status TEXT NOT NULL,
		ref TEXT,
		sha TEXT,
		web_url TEXT,
		duration DOUBLE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		payload TEXT NOT NULL,
		ingested_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS raw_jobs (
		id BIGINT PRIMARY KEY,
		pipeline_id BIGINT,
		project TEXT NOT NULL,
		name TEXT NOT NULL,
		stage TEXT,
		status TEXT NOT NULL,
		duration DOUBLE,
		queued_duration DOUBLE,
		retry_count INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT,
		web_url TEXT,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		payload TEXT NOT NULL,
		ingested_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daily_metrics (
		entity_group TEXT NOT NULL,
		entity_name TEXT NOT NULL,
		day DATE NOT NULL,
		builds BIGINT NOT NULL,
		fails BIGINT NOT NULL,
		p95_duration DOUBLE,
		p99_duration DOUBLE,
		avg_duration DOUBLE,
		total_duration DOUBLE NOT NULL,
		max_retries INTEGER NOT NULL,
		failure_reasons TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (entity_group, entity_name, day)
	)`,
	`CREATE TABLE IF NOT EXISTS offline_features (
		entity_key TEXT NOT NULL,
		feature_version INTEGER NOT NULL,
		event_time TIMESTAMP NOT NULL,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (entity_key, feature_version, event_time)
	)`,
	`CREATE TABLE IF NOT EXISTS online_features (
		entity_key TEXT PRIMARY KEY,
		feature_version INTEGER NOT NULL,
		event_time TIMESTAMP NOT NULL,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS etl_runs (
		run_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		failed_stage TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		window_days INTEGER NOT NULL,
		feature_window_days INTEGER NOT NULL,
		feature_version INTEGER NOT NULL,
		pipelines_read INTEGER NOT NULL,
		pipelines_inserted INTEGER NOT NULL,
		jobs_read INTEGER NOT NULL,
		jobs_inserted INTEGER NOT NULL,
		rows_skipped INTEGER NOT NULL,
		metrics_upserted INTEGER NOT NULL,
		features_written INTEGER NOT NULL,
		pipelines_watermark TIMESTAMP,
		jobs_watermark TIMESTAMP,
		error TEXT
	)`,
}

// createTables creates the ETL tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for i, ddl := range tableDDL {
		if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", etlTables[i], err)
		}
	}
	return nil
}
