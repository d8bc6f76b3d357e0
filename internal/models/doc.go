// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

/*
Package models defines the data structures shared by the CIPulse ETL.

Raw events:

  - PipelineEvent: one pipeline execution, keyed by the source's natural id
  - JobEvent: one job execution, linked to its parent pipeline

Derived data:

  - DailyMetric: aggregate of job executions per (entity group, entity name, day)
  - FeatureVector: per-entity feature payload for one schema version
  - FeatureSchema: ordered feature list owned by the model registry

Run bookkeeping:

  - Watermark: last ingested timestamp per source
  - RunStats: counters and terminal state of one orchestrator run

All timestamps crossing a storage or staging boundary pass through
NormalizeUTC or ParseTimestamp; values without a zone are read as UTC.
*/
package models
