// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/cipulse/internal/config"
	"github.com/tomtom215/cipulse/internal/models"
)

func writeStaged(t *testing.T, dir, source, name, content string) string {
	t.Helper()
	sub := filepath.Join(dir, source)
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(sub, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func newTestLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	return NewLoader(&config.StagingConfig{Dir: dir, Workers: 3}, "", nil)
}

func TestLoadJobs_OrderAndSkips(t *testing.T) {
	dir := t.TempDir()
	writeStaged(t, dir, models.SourceJobs, "b.ndjson", `
{"id":3,"name":"unit","status":"failed","project_id":42,"created_at":"2025-01-10T10:00:00Z","duration":12.5,"failure_reason":"script_failure","pipeline":{"id":900}}
not json
{"id":4,"status":"success","project_id":42,"created_at":"2025-01-10T10:00:00Z"}
{"id":5,"name":"unit","status":"success","project_id":"42","created_at":"yesterday"}
`)
	writeStaged(t, dir, models.SourceJobs, "a.json", `[
{"id":2,"name":"unit","status":"success","project_id":42,"created_at":"2025-01-10T10:00:00Z","retry":2},
{"id":1,"name":"lint","status":"success","project_id":42,"created_at":"2025-01-10 09:00:00","pipeline_id":7}
]`)
	writeStaged(t, dir, models.SourceJobs, "notes.txt", "ignored")

	batch, err := newTestLoader(t, dir).LoadJobs(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}

	if len(batch.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(batch.Events))
	}
	wantIDs := []int64{1, 2, 3}
	for i, id := range wantIDs {
		if batch.Events[i].ID != id {
			t.Errorf("event[%d].ID = %d, want %d", i, batch.Events[i].ID, id)
		}
	}
	if batch.Skipped[reasonDecode] != 1 || batch.Skipped[reasonInvalid] != 1 || batch.Skipped[reasonTimestamp] != 1 {
		t.Errorf("skipped = %v, want one per reason", batch.Skipped)
	}
	if batch.SkippedTotal() != 3 {
		t.Errorf("SkippedTotal() = %d, want 3", batch.SkippedTotal())
	}

	first := batch.Events[0]
	if first.PipelineID == nil || *first.PipelineID != 7 {
		t.Errorf("pipeline_id = %v, want 7", first.PipelineID)
	}
	if !first.CreatedAt.Equal(time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("naive created_at = %v, want 09:00 UTC", first.CreatedAt)
	}
	if batch.Events[1].RetryCount != 2 {
		t.Errorf("retry = %d, want 2 from legacy retry field", batch.Events[1].RetryCount)
	}
	third := batch.Events[2]
	if third.PipelineID == nil || *third.PipelineID != 900 {
		t.Errorf("pipeline.id = %v, want 900", third.PipelineID)
	}
	if third.Project != "42" || third.FailureReason != "script_failure" {
		t.Errorf("job 3 = %+v", third)
	}
	if string(third.Payload) == "" {
		t.Error("payload not retained")
	}
	if len(batch.Files) != 2 {
		t.Errorf("files = %d, want 2", len(batch.Files))
	}
}

func TestLoadJobs_WatermarkStrictlyAfter(t *testing.T) {
	dir := t.TempDir()
	writeStaged(t, dir, models.SourceJobs, "jobs.jsonl", `{"id":1,"name":"a","status":"success","project_id":1,"created_at":"2025-01-10T09:00:00Z"}
{"id":2,"name":"a","status":"success","project_id":1,"created_at":"2025-01-10T10:00:00Z"}
{"id":3,"name":"a","status":"success","project_id":1,"created_at":"2025-01-10T11:00:00Z"}
`)
	since := time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)

	batch, err := newTestLoader(t, dir).LoadJobs(context.Background(), &since)
	if err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].ID != 3 {
		t.Fatalf("events = %+v, want only id 3", batch.Events)
	}
	if batch.Stale != 2 {
		t.Errorf("stale = %d, want 2", batch.Stale)
	}
	maxTS := batch.MaxTS((*models.JobEvent).WatermarkTime)
	if maxTS == nil || !maxTS.Equal(time.Date(2025, 1, 10, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("MaxTS() = %v", maxTS)
	}
	if !batch.Files[0].MaxTS.Equal(*maxTS) || batch.Files[0].Records != 3 {
		t.Errorf("file summary = %+v", batch.Files[0])
	}
}

func TestLoadJobs_DefaultProject(t *testing.T) {
	dir := t.TempDir()
	writeStaged(t, dir, models.SourceJobs, "jobs.ndjson", `{"id":1,"name":"a","status":"success","created_at":"2025-01-10T09:00:00Z"}
{"id":2,"name":"a","status":"success","created_at":"2025-01-10T09:00:00Z","pipeline":{"id":5,"project_id":77}}
`)

	withDefault := NewLoader(&config.StagingConfig{Dir: dir, Workers: 1}, "42", nil)
	batch, err := withDefault.LoadJobs(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}
	if len(batch.Events) != 2 || batch.Events[0].Project != "42" || batch.Events[1].Project != "77" {
		t.Fatalf("events = %+v", batch.Events)
	}

	batch, err = newTestLoader(t, dir).LoadJobs(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}
	if len(batch.Events) != 1 || batch.Skipped[reasonInvalid] != 1 {
		t.Errorf("without default: events=%d skipped=%v", len(batch.Events), batch.Skipped)
	}
}

func TestLoadPipelines(t *testing.T) {
	dir := t.TempDir()
	writeStaged(t, dir, models.SourcePipelines, "p.ndjson", `{"id":10,"project_id":42,"status":"success","ref":"main","sha":"abc","created_at":"2025-01-10T08:00:00Z","updated_at":"2025-01-10T08:30:00+01:00","duration":60}
{"id":11,"project_id":42,"status":"failed","created_at":"2025-01-10T07:00:00Z"}
{"id":0,"project_id":42,"status":"failed","created_at":"2025-01-10T07:00:00Z"}
`)

	batch, err := newTestLoader(t, dir).LoadPipelines(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadPipelines() error = %v", err)
	}
	if len(batch.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(batch.Events))
	}
	// id 11 falls back to created_at 07:00; id 10 was updated 07:30 UTC.
	if batch.Events[0].ID != 11 || batch.Events[1].ID != 10 {
		t.Errorf("order = [%d %d], want [11 10]", batch.Events[0].ID, batch.Events[1].ID)
	}
	if !batch.Events[1].UpdatedAt.Equal(time.Date(2025, 1, 10, 7, 30, 0, 0, time.UTC)) {
		t.Errorf("updated_at = %v", batch.Events[1].UpdatedAt)
	}
	if batch.Skipped[reasonInvalid] != 1 {
		t.Errorf("skipped = %v, want 1 invalid", batch.Skipped)
	}
}

func TestLoad_MissingSourceDir(t *testing.T) {
	batch, err := newTestLoader(t, t.TempDir()).LoadPipelines(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadPipelines() error = %v", err)
	}
	if len(batch.Events) != 0 || len(batch.Files) != 0 {
		t.Errorf("batch = %+v, want empty", batch)
	}
}

func TestLoad_BadArrayFileSkipped(t *testing.T) {
	dir := t.TempDir()
	writeStaged(t, dir, models.SourceJobs, "broken.json", `{"id":1}`)

	batch, err := newTestLoader(t, dir).LoadJobs(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}
	if batch.Skipped[reasonDecode] != 1 {
		t.Errorf("skipped = %v, want 1 decode", batch.Skipped)
	}
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	old := writeStaged(t, dir, models.SourceJobs, "old.ndjson",
		`{"id":1,"name":"a","status":"success","project_id":1,"created_at":"2025-01-10T09:00:00Z"}`+"\n")
	fresh := writeStaged(t, dir, models.SourceJobs, "new.ndjson",
		`{"id":2,"name":"a","status":"success","project_id":1,"created_at":"2025-01-10T12:00:00Z"}`+"\n")
	junk := writeStaged(t, dir, models.SourceJobs, "junk.ndjson", "garbage\n")

	l := newTestLoader(t, dir)
	batch, err := l.LoadJobs(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}

	moved, err := l.Archive(context.Background(), models.SourceJobs, batch.Files, time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if moved != 1 {
		t.Errorf("moved = %d, want 1", moved)
	}
	if _, err := os.Stat(filepath.Join(dir, models.SourceJobs, ConsumedDir, "old.ndjson")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
	for _, p := range []string{fresh, junk} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should stay in place: %v", p, err)
		}
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old file still present")
	}

	// Archived files are no longer listed.
	batch, err = l.LoadJobs(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].ID != 2 {
		t.Errorf("after archive events = %+v", batch.Events)
	}
}
