// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package models

import "time"

// Sources name the two raw streams; they double as watermark keys.
const (
	SourcePipelines = "pipelines"
	SourceJobs      = "jobs"
)

// Execution statuses that count toward builds and fails.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
	StatusSkipped  = "skipped"
	StatusRunning  = "running"
)

// PipelineEvent is one pipeline execution as staged by the source collector.
// Rows are immutable once stored; re-ingesting the same ID is a no-op.
type PipelineEvent struct {
	ID         int64      `json:"id"`
	Project    string     `json:"project"`
	Status     string     `json:"status"`
	Ref        string     `json:"ref,omitempty"`
	SHA        string     `json:"sha,omitempty"`
	WebURL     string     `json:"web_url,omitempty"`
	Duration   *float64   `json:"duration,omitempty"` // seconds
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Payload is the original staged JSON object.
	Payload []byte `json:"-"`
}

// WatermarkTime is the timestamp the pipelines watermark tracks.
func (e *PipelineEvent) WatermarkTime() time.Time {
	return e.UpdatedAt
}

// JobEvent is one job execution as staged by the source collector.
type JobEvent struct {
	ID             int64      `json:"id"`
	PipelineID     *int64     `json:"pipeline_id,omitempty"`
	Project        string     `json:"project"`
	Name           string     `json:"name"`
	Stage          string     `json:"stage,omitempty"`
	Status         string     `json:"status"`
	Duration       *float64   `json:"duration,omitempty"` // seconds
	QueuedDuration *float64   `json:"queued_duration,omitempty"`
	RetryCount     int        `json:"retry_count"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	WebURL         string     `json:"web_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`

	Payload []byte `json:"-"`
}

// WatermarkTime is the timestamp the jobs watermark tracks.
func (e *JobEvent) WatermarkTime() time.Time {
	return e.CreatedAt
}

// Watermark is the last successfully ingested event timestamp for a source.
type Watermark struct {
	Source    string    `json:"source"`
	LastTS    time.Time `json:"last_ts"`
	UpdatedAt time.Time `json:"updated_at"`
}
