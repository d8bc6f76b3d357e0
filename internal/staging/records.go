// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package staging

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cipulse/internal/models"
	"github.com/tomtom215/cipulse/internal/validation"
)

// Skip reasons, used as the "reason" metric label.
const (
	reasonDecode    = "decode"
	reasonInvalid   = "invalid"
	reasonTimestamp = "timestamp"
)

var errMissingProject = errors.New("project_id missing and no default project configured")

// recordError marks a staged record as malformed. It is counted and skipped,
// never returned to the caller.
type recordError struct {
	reason string
	err    error
}

func (e *recordError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *recordError) Unwrap() error { return e.err }

func malformed(reason string, err error) *recordError {
	return &recordError{reason: reason, err: err}
}

// projectID accepts the project id as either a JSON number or a string.
type projectID string

func (p *projectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = projectID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("project_id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("project_id %s is not an integer", n)
	}
	*p = projectID(n.String())
	return nil
}

type pipelineRef struct {
	ID        int64     `json:"id"`
	ProjectID projectID `json:"project_id"`
}

type stagedPipeline struct {
	ID         int64     `json:"id" validate:"required,gt=0"`
	ProjectID  projectID `json:"project_id"`
	Status     string    `json:"status" validate:"required"`
	Ref        string    `json:"ref"`
	SHA        string    `json:"sha"`
	WebURL     string    `json:"web_url"`
	Duration   *float64  `json:"duration" validate:"omitempty,gte=0"`
	CreatedAt  string    `json:"created_at" validate:"required"`
	UpdatedAt  string    `json:"updated_at"`
	StartedAt  *string   `json:"started_at"`
	FinishedAt *string   `json:"finished_at"`
}

type stagedJob struct {
	ID             int64        `json:"id" validate:"required,gt=0"`
	Name           string       `json:"name" validate:"required"`
	Stage          string       `json:"stage"`
	Status         string       `json:"status" validate:"required"`
	Duration       *float64     `json:"duration" validate:"omitempty,gte=0"`
	QueuedDuration *float64     `json:"queued_duration" validate:"omitempty,gte=0"`
	RetryCount     *int         `json:"retry_count" validate:"omitempty,gte=0"`
	Retry          *int         `json:"retry" validate:"omitempty,gte=0"`
	FailureReason  string       `json:"failure_reason"`
	WebURL         string       `json:"web_url"`
	ProjectID      projectID    `json:"project_id"`
	PipelineID     *int64       `json:"pipeline_id"`
	Pipeline       *pipelineRef `json:"pipeline"`
	CreatedAt      string       `json:"created_at" validate:"required"`
	StartedAt      *string      `json:"started_at"`
	FinishedAt     *string      `json:"finished_at"`
}

// decodePipeline turns one staged JSON object into a PipelineEvent.
// A missing updated_at falls back to created_at.
func decodePipeline(raw []byte, defaultProject string) (models.PipelineEvent, error) {
	var sp stagedPipeline
	if err := json.Unmarshal(raw, &sp); err != nil {
		return models.PipelineEvent{}, malformed(reasonDecode, err)
	}
	if err := validation.ValidateStruct(&sp); err != nil {
		return models.PipelineEvent{}, malformed(reasonInvalid, err)
	}

	created, err := models.ParseTimestamp(sp.CreatedAt)
	if err != nil {
		return models.PipelineEvent{}, malformed(reasonTimestamp, fmt.Errorf("created_at: %w", err))
	}
	updated := created
	if sp.UpdatedAt != "" {
		if updated, err = models.ParseTimestamp(sp.UpdatedAt); err != nil {
			return models.PipelineEvent{}, malformed(reasonTimestamp, fmt.Errorf("updated_at: %w", err))
		}
	}
	started, err := parseOptional("started_at", sp.StartedAt)
	if err != nil {
		return models.PipelineEvent{}, err
	}
	finished, err := parseOptional("finished_at", sp.FinishedAt)
	if err != nil {
		return models.PipelineEvent{}, err
	}

	project := firstNonEmpty(string(sp.ProjectID), defaultProject)
	if project == "" {
		return models.PipelineEvent{}, malformed(reasonInvalid, errMissingProject)
	}

	return models.PipelineEvent{
		ID:         sp.ID,
		Project:    project,
		Status:     sp.Status,
		Ref:        sp.Ref,
		SHA:        sp.SHA,
		WebURL:     sp.WebURL,
		Duration:   sp.Duration,
		CreatedAt:  created,
		UpdatedAt:  updated,
		StartedAt:  started,
		FinishedAt: finished,
		Payload:    raw,
	}, nil
}

// decodeJob turns one staged JSON object into a JobEvent. The pipeline id
// comes from pipeline.id or pipeline_id; the project from project_id,
// pipeline.project_id, then defaultProject.
func decodeJob(raw []byte, defaultProject string) (models.JobEvent, error) {
	var sj stagedJob
	if err := json.Unmarshal(raw, &sj); err != nil {
		return models.JobEvent{}, malformed(reasonDecode, err)
	}
	if err := validation.ValidateStruct(&sj); err != nil {
		return models.JobEvent{}, malformed(reasonInvalid, err)
	}

	created, err := models.ParseTimestamp(sj.CreatedAt)
	if err != nil {
		return models.JobEvent{}, malformed(reasonTimestamp, fmt.Errorf("created_at: %w", err))
	}
	started, err := parseOptional("started_at", sj.StartedAt)
	if err != nil {
		return models.JobEvent{}, err
	}
	finished, err := parseOptional("finished_at", sj.FinishedAt)
	if err != nil {
		return models.JobEvent{}, err
	}

	e := models.JobEvent{
		ID:             sj.ID,
		PipelineID:     sj.PipelineID,
		Project:        string(sj.ProjectID),
		Name:           sj.Name,
		Stage:          sj.Stage,
		Status:         sj.Status,
		Duration:       sj.Duration,
		QueuedDuration: sj.QueuedDuration,
		FailureReason:  sj.FailureReason,
		WebURL:         sj.WebURL,
		CreatedAt:      created,
		StartedAt:      started,
		FinishedAt:     finished,
		Payload:        raw,
	}
	switch {
	case sj.RetryCount != nil:
		e.RetryCount = *sj.RetryCount
	case sj.Retry != nil:
		e.RetryCount = *sj.Retry
	}
	if sj.Pipeline != nil {
		if e.PipelineID == nil && sj.Pipeline.ID > 0 {
			id := sj.Pipeline.ID
			e.PipelineID = &id
		}
		e.Project = firstNonEmpty(e.Project, string(sj.Pipeline.ProjectID))
	}
	e.Project = firstNonEmpty(e.Project, defaultProject)
	if e.Project == "" {
		return models.JobEvent{}, malformed(reasonInvalid, errMissingProject)
	}
	return e, nil
}

func parseOptional(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := models.ParseTimestamp(*s)
	if err != nil {
		return nil, malformed(reasonTimestamp, fmt.Errorf("%s: %w", field, err))
	}
	return &t, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
