// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package models

import "time"

// RunStats records one orchestrator run. Counters are filled in as stages
// complete, so a failed run still reports what it got through.
type RunStats struct {
	RunID              string     `json:"run_id"`
	State              string     `json:"state"`
	FailedStage        string     `json:"failed_stage,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         time.Time  `json:"finished_at"`
	WindowDays         int        `json:"window_days"`
	FeatureWindowDays  int        `json:"feature_window_days"`
	FeatureVersion     int        `json:"feature_version"`
	PipelinesRead      int        `json:"pipelines_read"`
	PipelinesInserted  int        `json:"pipelines_inserted"`
	JobsRead           int        `json:"jobs_read"`
	JobsInserted       int        `json:"jobs_inserted"`
	RowsSkipped        int        `json:"rows_skipped"`
	MetricsUpserted    int        `json:"metrics_upserted"`
	FeaturesWritten    int        `json:"features_written"`
	PipelinesWatermark *time.Time `json:"pipelines_watermark,omitempty"`
	JobsWatermark      *time.Time `json:"jobs_watermark,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// RowsRead is the number of staged events loaded across sources.
func (s *RunStats) RowsRead() int {
	return s.PipelinesRead + s.JobsRead
}

// RowsProcessed is the number of derived rows computed (metrics plus features).
func (s *RunStats) RowsProcessed() int {
	return s.MetricsUpserted + s.FeaturesWritten
}

// RowsWritten is the number of new raw rows appended.
func (s *RunStats) RowsWritten() int {
	return s.PipelinesInserted + s.JobsInserted
}

// Duration returns the elapsed run time.
func (s *RunStats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
