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
	"testing"
	"time"

	"github.com/tomtom215/cipulse/internal/models"
)

func ptrFloat(v float64) *float64 { return &v }

func testJob(id int64, name, status string, created time.Time, duration *float64) models.JobEvent {
	return models.JobEvent{
		ID:        id,
		Project:   "42",
		Name:      name,
		Stage:     "test",
		Status:    status,
		Duration:  duration,
		CreatedAt: created,
		Payload:   []byte(fmt.Sprintf(`{"id":%d}`, id)),
	}
}

func TestAppendJobEvents_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	batch := []models.JobEvent{
		testJob(1, "unit", models.StatusSuccess, base, ptrFloat(10)),
		testJob(2, "unit", models.StatusFailed, base.Add(time.Minute), ptrFloat(20)),
		testJob(3, "lint", models.StatusSuccess, base.Add(2*time.Minute), nil),
	}

	inserted, err := db.AppendJobEvents(ctx, batch)
	checkNoError(t, err)
	checkIntEqual(t, "first append inserted", inserted, 3)

	inserted, err = db.AppendJobEvents(ctx, batch)
	checkNoError(t, err)
	checkIntEqual(t, "second append inserted", inserted, 0)

	counts, err := db.TableCounts(ctx)
	checkNoError(t, err)
	if counts["raw_jobs"] != 3 {
		t.Errorf("raw_jobs count = %d, want 3", counts["raw_jobs"])
	}
}

func TestAppendBatch_FailureRollsBackWholeBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	batch := []models.JobEvent{
		testJob(1, "unit", models.StatusSuccess, base, ptrFloat(10)),
		testJob(2, "unit", models.StatusFailed, base.Add(time.Minute), ptrFloat(20)),
		testJob(3, "lint", models.StatusSuccess, base.Add(2*time.Minute), nil),
	}
	errWrite := errors.New("write failed")
	calls := 0
	_, err := db.appendBatch(ctx, "raw_jobs", insertJobSQL, len(batch), func(stmt *sql.Stmt, i int) (sql.Result, error) {
		calls++
		if i == 1 {
			return nil, errWrite
		}
		e := &batch[i]
		return stmt.ExecContext(ctx,
			e.ID, e.PipelineID, e.Project, e.Name, e.Stage, e.Status, e.Duration, e.QueuedDuration,
			e.RetryCount, e.FailureReason, e.WebURL, e.CreatedAt, e.StartedAt, e.FinishedAt,
			string(e.Payload), db.now())
	})
	if !errors.Is(err, errWrite) {
		t.Fatalf("appendBatch error = %v, want %v", err, errWrite)
	}
	checkIntEqual(t, "exec calls", calls, 2)

	counts, err := db.TableCounts(ctx)
	checkNoError(t, err)
	if counts["raw_jobs"] != 0 {
		t.Errorf("raw_jobs count = %d, want 0 after failed batch", counts["raw_jobs"])
	}

	// The same batch goes through once the failure is gone.
	inserted, err := db.AppendJobEvents(ctx, batch)
	checkNoError(t, err)
	checkIntEqual(t, "retry inserted", inserted, 3)
}

func TestAppendJobEvents_FirstWriteWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	_, err := db.AppendJobEvents(ctx, []models.JobEvent{testJob(7, "unit", models.StatusFailed, base, ptrFloat(5))})
	checkNoError(t, err)

	dup := testJob(7, "unit", models.StatusSuccess, base, ptrFloat(99))
	inserted, err := db.AppendJobEvents(ctx, []models.JobEvent{dup, testJob(8, "unit", models.StatusSuccess, base, nil)})
	checkNoError(t, err)
	checkIntEqual(t, "inserted", inserted, 1)

	var got []models.JobEvent
	err = db.ScanJobs(ctx, JobScanFilter{}, func(e *models.JobEvent) error {
		got = append(got, *e)
		return nil
	})
	checkNoError(t, err)
	checkSliceLen(t, "jobs", len(got), 2)
	checkStringEqual(t, "job 7 status", got[0].Status, models.StatusFailed)
	checkFloatEqual(t, "job 7 duration", *got[0].Duration, 5)
	if got[1].Duration != nil {
		t.Errorf("job 8 duration = %v, want nil", *got[1].Duration)
	}
}

func TestScanJobs_FilterAndOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	other := testJob(10, "unit", models.StatusSuccess, day.Add(time.Hour), nil)
	other.Project = "7"
	pipelineID := int64(500)
	withPipeline := testJob(11, "build", models.StatusSuccess, day.Add(3*time.Hour), ptrFloat(1))
	withPipeline.PipelineID = &pipelineID
	withPipeline.RetryCount = 2

	_, err := db.AppendJobEvents(ctx, []models.JobEvent{
		testJob(12, "unit", models.StatusSuccess, day.Add(2*time.Hour), nil),
		testJob(13, "unit", models.StatusSuccess, day.Add(-time.Hour), nil),
		testJob(14, "unit", models.StatusSuccess, day.Add(24*time.Hour), nil),
		other,
		withPipeline,
	})
	checkNoError(t, err)

	var ids []int64
	var scanned []models.JobEvent
	err = db.ScanJobs(ctx, JobScanFilter{Project: "42", From: day, To: day.AddDate(0, 0, 1)}, func(e *models.JobEvent) error {
		ids = append(ids, e.ID)
		scanned = append(scanned, *e)
		return nil
	})
	checkNoError(t, err)
	checkSliceLen(t, "ids", len(ids), 2)
	if ids[0] != 11 || ids[1] != 12 {
		t.Errorf("ids = %v, want [11 12] (build before unit)", ids)
	}
	if scanned[0].PipelineID == nil || *scanned[0].PipelineID != 500 {
		t.Errorf("pipeline id = %v, want 500", scanned[0].PipelineID)
	}
	checkIntEqual(t, "retry count", scanned[0].RetryCount, 2)
}

func TestAppendPipelineEvents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	events := []models.PipelineEvent{{
		ID:        100,
		Project:   "42",
		Status:    models.StatusSuccess,
		Ref:       "main",
		SHA:       "abc123",
		Duration:  ptrFloat(321.5),
		CreatedAt: created,
		UpdatedAt: created.Add(10 * time.Minute),
		StartedAt: &started,
		Payload:   []byte(`{"id":100}`),
	}}

	inserted, err := db.AppendPipelineEvents(ctx, events)
	checkNoError(t, err)
	checkIntEqual(t, "inserted", inserted, 1)

	inserted, err = db.AppendPipelineEvents(ctx, events)
	checkNoError(t, err)
	checkIntEqual(t, "re-inserted", inserted, 0)

	got, err := db.GetPipeline(ctx, 100)
	checkNoError(t, err)
	if got == nil {
		t.Fatal("GetPipeline() = nil, want pipeline 100")
	}
	checkStringEqual(t, "ref", got.Ref, "main")
	checkFloatEqual(t, "duration", *got.Duration, 321.5)
	checkTimeEqual(t, "updated_at", got.UpdatedAt, created.Add(10*time.Minute))
	checkTimeEqual(t, "started_at", *got.StartedAt, started)
	if got.FinishedAt != nil {
		t.Errorf("finished_at = %v, want nil", got.FinishedAt)
	}
	checkStringEqual(t, "payload", string(got.Payload), `{"id":100}`)

	missing, err := db.GetPipeline(ctx, 999)
	checkNoError(t, err)
	if missing != nil {
		t.Errorf("GetPipeline(999) = %+v, want nil", missing)
	}
}

func TestAppend_Empty(t *testing.T) {
	db := &DB{}
	n, err := db.AppendJobEvents(context.Background(), nil)
	checkNoError(t, err)
	checkIntEqual(t, "inserted", n, 0)
	n, err = db.AppendPipelineEvents(context.Background(), nil)
	checkNoError(t, err)
	checkIntEqual(t, "inserted", n, 0)
}
