// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

/*
Package database provides the DuckDB store behind the CIPulse ETL.

Tables:
  - etl_watermarks: last processed timestamp per source; never decreases
  - raw_pipelines, raw_jobs: append-only raw events keyed by natural id
  - daily_metrics: per-(entity, day) aggregates, recomputed and upserted
  - offline_features: every computed feature vector, per event time
  - online_features: latest feature vector per entity
  - etl_runs: one row per orchestrator run
  - schema_migrations: applied versioned migrations

All timestamps are stored as UTC TIMESTAMP values supplied by the caller;
the store never relies on the database session time zone.

Writes that span several rows run in a single transaction and are retried
with exponential backoff when DuckDB reports a write-write conflict.

Usage:

	db, err := database.New(&cfg.Database)
	if err != nil {
	    return err
	}
	defer db.Close()

	inserted, err := db.AppendJobEvents(ctx, jobs)
*/
package database
