// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"context"
	"time"

	"github.com/tomtom215/cipulse/internal/database"
	"github.com/tomtom215/cipulse/internal/models"
)

// MetricsStore is what the Aggregator needs from the database.
type MetricsStore interface {
	ScanJobs(ctx context.Context, filter database.JobScanFilter, fn func(*models.JobEvent) error) error
	UpsertDailyMetrics(ctx context.Context, rows []models.DailyMetric) (int, error)
}

// FeatureStore is what the FeatureBuilder needs from the database.
type FeatureStore interface {
	ListDailyMetrics(ctx context.Context, filter models.MetricsFilter) ([]models.DailyMetric, error)
	WriteFeatureVector(ctx context.Context, v *models.FeatureVector) error
}

// Store is the full set of database operations a run performs.
type Store interface {
	MetricsStore
	FeatureStore
	GetWatermark(ctx context.Context, source string) (*time.Time, error)
	SetWatermark(ctx context.Context, source string, ts time.Time) error
	AppendPipelineEvents(ctx context.Context, events []models.PipelineEvent) (int, error)
	AppendJobEvents(ctx context.Context, events []models.JobEvent) (int, error)
	InsertRun(ctx context.Context, s *models.RunStats) error
}

var _ Store = (*database.DB)(nil)
