// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/cipulse/internal/config"
	"github.com/tomtom215/cipulse/internal/database"
	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
	"github.com/tomtom215/cipulse/internal/window"
)

// Aggregator recomputes daily job metrics over a sliding window.
type Aggregator struct {
	store   MetricsStore
	project string
	topN    int
	now     func() time.Time
}

// NewAggregator creates an aggregator. An empty cfg.Project aggregates
// every project.
func NewAggregator(store MetricsStore, cfg *config.ETLConfig) *Aggregator {
	topN := cfg.TopFailureReasons
	if topN <= 0 {
		topN = 5
	}
	return &Aggregator{
		store:   store,
		project: cfg.Project,
		topN:    topN,
		now:     time.Now,
	}
}

// ComputeDailyMetrics recomputes every (project, job name, day) in the
// window [today-windowDays, today] from raw jobs and upserts the rows in
// one transaction. windowDays 0 recomputes all history. Days without raw
// jobs produce no row. Returns the number of rows upserted.
func (a *Aggregator) ComputeDailyMetrics(ctx context.Context, windowDays int) (int, error) {
	w := window.ForDays(windowDays, a.now())
	filter := database.JobScanFilter{
		Project: a.project,
		From:    w.Start,
		To:      w.End,
	}

	var (
		rows    []models.DailyMetric
		current *dayGroup
		scanned int
	)
	err := a.store.ScanJobs(ctx, filter, func(e *models.JobEvent) error {
		scanned++
		if current != nil && !current.matches(e) {
			rows = append(rows, current.finish(a.topN))
			current = nil
		}
		if current == nil {
			current = newDayGroup(e)
		}
		current.add(e)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan raw jobs %s: %w", w, err)
	}
	if current != nil {
		rows = append(rows, current.finish(a.topN))
	}

	if len(rows) == 0 {
		logging.Ctx(ctx).Info().Str("window", w.String()).Msg("No raw jobs in window, nothing to aggregate")
		return 0, nil
	}

	n, err := a.store.UpsertDailyMetrics(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("upsert daily metrics %s: %w", w, err)
	}
	metrics.MetricsRowsUpserted.Add(float64(n))
	logging.Ctx(ctx).Info().
		Str("window", w.String()).
		Int("jobs_scanned", scanned).
		Int("rows_upserted", n).
		Msg("Daily metrics recomputed")
	return n, nil
}
