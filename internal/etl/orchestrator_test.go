// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/cipulse/internal/config"
	"github.com/tomtom215/cipulse/internal/database"
	"github.com/tomtom215/cipulse/internal/featureschema"
	"github.com/tomtom215/cipulse/internal/lock"
	"github.com/tomtom215/cipulse/internal/models"
	"github.com/tomtom215/cipulse/internal/staging"
)

const stagedPipelines = `{"id": 500, "project_id": 42, "status": "success", "ref": "main", "created_at": "2025-01-10T08:00:00Z", "updated_at": "2025-01-10T08:30:00Z"}
{"id": 501, "project_id": 42, "status": "failed", "ref": "main", "created_at": "2025-01-09T08:00:00Z"}
`

const stagedJobs = `{"id": 1, "project_id": 42, "pipeline_id": 500, "name": "unit", "stage": "test", "status": "success", "duration": 100, "created_at": "2025-01-10T08:01:00Z"}
{"id": 2, "project_id": 42, "pipeline_id": 500, "name": "unit", "stage": "test", "status": "failed", "duration": 300, "retry_count": 1, "failure_reason": "script_failure", "created_at": "2025-01-10T08:05:00Z"}
{"id": 3, "pipeline": {"id": 501, "project_id": 42}, "name": "build", "stage": "build", "status": "success", "duration": 50, "created_at": "2025-01-09T08:02:00Z"}
not json at all
`

func newTestOrchestrator(t *testing.T, cfg *config.Config, db *database.DB, locker lock.Locker) *Orchestrator {
	t.Helper()
	reg, err := featureschema.Load(cfg.Features.SchemaDir)
	checkNoError(t, err)
	loader := staging.NewLoader(&cfg.Staging, cfg.ETL.Project, nil)
	if locker == nil {
		locker = lock.NopLocker{}
	}
	return NewOrchestrator(cfg, db, loader, reg, locker, WithClock(fixedNow))
}

func TestRun_FullPipeline(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(t)
	ctx := context.Background()
	stage(t, cfg.Staging.Dir, models.SourcePipelines, "batch-001.ndjson", stagedPipelines)
	stage(t, cfg.Staging.Dir, models.SourceJobs, "batch-001.ndjson", stagedJobs)

	o := newTestOrchestrator(t, cfg, db, nil)
	stats, err := o.Run(ctx, DefaultParams(&cfg.ETL))
	checkNoError(t, err)

	if stats.State != string(StateDone) {
		t.Errorf("state = %s, want done", stats.State)
	}
	checkIntEqual(t, "pipelines inserted", stats.PipelinesInserted, 2)
	checkIntEqual(t, "jobs inserted", stats.JobsInserted, 3)
	checkIntEqual(t, "rows skipped", stats.RowsSkipped, 1)
	checkIntEqual(t, "metrics upserted", stats.MetricsUpserted, 2)
	checkIntEqual(t, "features written", stats.FeaturesWritten, 2)
	checkIntEqual(t, "feature version", stats.FeatureVersion, 1)

	wantJobsWM := time.Date(2025, 1, 10, 8, 5, 0, 0, time.UTC)
	wm, err := db.GetWatermark(ctx, models.SourceJobs)
	checkNoError(t, err)
	if wm == nil || !wm.Equal(wantJobsWM) {
		t.Errorf("jobs watermark = %v, want %v", wm, wantJobsWM)
	}
	wm, err = db.GetWatermark(ctx, models.SourcePipelines)
	checkNoError(t, err)
	if wm == nil || !wm.Equal(time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("pipelines watermark = %v", wm)
	}

	v, err := db.GetOnlineFeatures(ctx, "42:unit", featureschema.BuiltinV1())
	checkNoError(t, err)
	if v == nil {
		t.Fatal("online features for 42:unit missing")
	}
	checkFloatEqual(t, "fail_rate", v.Map()["fail_rate"], 1.0/3.0)

	last, err := db.LastRun(ctx)
	checkNoError(t, err)
	if last == nil || last.RunID != stats.RunID || last.State != string(StateDone) {
		t.Errorf("last run = %+v, want %s done", last, stats.RunID)
	}
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(t)
	ctx := context.Background()
	stage(t, cfg.Staging.Dir, models.SourceJobs, "batch-001.ndjson", stagedJobs)
	o := newTestOrchestrator(t, cfg, db, nil)

	_, err := o.Run(ctx, DefaultParams(&cfg.ETL))
	checkNoError(t, err)
	before, err := db.GetWatermark(ctx, models.SourceJobs)
	checkNoError(t, err)

	// A late file with an event older than the watermark is stale.
	stage(t, cfg.Staging.Dir, models.SourceJobs, "batch-000.ndjson",
		`{"id": 99, "project_id": 42, "name": "unit", "status": "failed", "created_at": "2025-01-08T00:00:00Z"}`+"\n")

	stats, err := o.Run(ctx, DefaultParams(&cfg.ETL))
	checkNoError(t, err)
	checkIntEqual(t, "jobs read", stats.JobsRead, 0)
	checkIntEqual(t, "jobs inserted", stats.JobsInserted, 0)
	if stats.JobsWatermark != nil {
		t.Errorf("jobs watermark advanced on empty batch: %v", stats.JobsWatermark)
	}

	after, err := db.GetWatermark(ctx, models.SourceJobs)
	checkNoError(t, err)
	if !after.Equal(*before) {
		t.Errorf("watermark moved: %v -> %v", before, after)
	}

	counts, err := db.TableCounts(ctx)
	checkNoError(t, err)
	if counts["raw_jobs"] != 3 {
		t.Errorf("raw_jobs = %d, want 3", counts["raw_jobs"])
	}
	if counts["etl_runs"] != 2 {
		t.Errorf("etl_runs = %d, want 2", counts["etl_runs"])
	}
}

func TestRun_LockHeld(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(t)
	ctx := context.Background()

	locker, err := lock.NewBadgerLocker("")
	checkNoError(t, err)
	t.Cleanup(func() { _ = locker.Close() })

	lease, err := locker.Acquire(ctx, cfg.Lock.Key, time.Minute)
	checkNoError(t, err)

	o := newTestOrchestrator(t, cfg, db, locker)
	stats, err := o.Run(ctx, DefaultParams(&cfg.ETL))
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Run error = %v, want ErrRunInProgress", err)
	}
	if stats.State != string(StateSkipped) {
		t.Errorf("state = %s, want skipped", stats.State)
	}
	last, err := db.LastRun(ctx)
	checkNoError(t, err)
	if last != nil {
		t.Errorf("skipped run was recorded: %+v", last)
	}

	checkNoError(t, lease.Release(ctx))
	_, err = o.Run(ctx, DefaultParams(&cfg.ETL))
	checkNoError(t, err)
}

func TestRun_FailsAtBuildFeatures(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(t)
	ctx := context.Background()
	stage(t, cfg.Staging.Dir, models.SourceJobs, "batch-001.ndjson", stagedJobs)

	p := DefaultParams(&cfg.ETL)
	p.FeatureVersion = 9
	stats, err := newTestOrchestrator(t, cfg, db, nil).Run(ctx, p)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("Run error = %v, want ErrSchemaMismatch", err)
	}
	if stats.State != string(StateFailed) || stats.FailedStage != string(StateBuildFeatures) {
		t.Errorf("state/stage = %s/%s, want failed/build_features", stats.State, stats.FailedStage)
	}
	checkIntEqual(t, "metrics upserted", stats.MetricsUpserted, 2)

	// Earlier stages committed.
	wm, err := db.GetWatermark(ctx, models.SourceJobs)
	checkNoError(t, err)
	if wm == nil {
		t.Error("jobs watermark not set after committed load")
	}
	last, err := db.LastRun(ctx)
	checkNoError(t, err)
	if last == nil || last.FailedStage != string(StateBuildFeatures) || last.Error == "" {
		t.Errorf("last run = %+v", last)
	}
}

func TestRun_DeadlineExceeded(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(t)
	cfg.ETL.RunTimeout = time.Nanosecond
	stage(t, cfg.Staging.Dir, models.SourceJobs, "batch-001.ndjson", stagedJobs)

	stats, err := newTestOrchestrator(t, cfg, db, nil).Run(context.Background(), DefaultParams(&cfg.ETL))
	if !errors.Is(err, ErrRunDeadlineExceeded) {
		t.Fatalf("Run error = %v, want ErrRunDeadlineExceeded", err)
	}
	if stats.State != string(StateFailed) || stats.FailedStage == "" {
		t.Errorf("state/stage = %s/%q", stats.State, stats.FailedStage)
	}
}

func TestRun_ArchivesConsumedFiles(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(t)
	cfg.Staging.ArchiveConsumed = true
	stage(t, cfg.Staging.Dir, models.SourceJobs, "batch-001.ndjson", stagedJobs)

	_, err := newTestOrchestrator(t, cfg, db, nil).Run(context.Background(), DefaultParams(&cfg.ETL))
	checkNoError(t, err)

	jobsDir := filepath.Join(cfg.Staging.Dir, models.SourceJobs)
	if _, err := os.Stat(filepath.Join(jobsDir, "batch-001.ndjson")); !os.IsNotExist(err) {
		t.Errorf("staged file still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(jobsDir, staging.ConsumedDir, "batch-001.ndjson")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
}

func TestDefaultParams(t *testing.T) {
	etl := config.ETLConfig{ReprocessWindowDays: 0, FeatureWindowDays: 30, FeatureVersion: 2}
	p := DefaultParams(&etl)
	if p.WindowDays != 0 || p.FeatureWindowDays != 0 || p.FeatureVersion != 2 {
		t.Errorf("DefaultParams = %+v", p)
	}
}

// failingAppendStore is a database whose job appends always fail.
type failingAppendStore struct {
	*database.DB
	err error
}

func (s *failingAppendStore) AppendJobEvents(context.Context, []models.JobEvent) (int, error) {
	return 0, s.err
}

func TestRun_AppendFailureKeepsWatermark(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(t)
	ctx := context.Background()
	stage(t, cfg.Staging.Dir, models.SourcePipelines, "batch-001.ndjson", stagedPipelines)
	stage(t, cfg.Staging.Dir, models.SourceJobs, "batch-001.ndjson", stagedJobs)

	reg, err := featureschema.Load(cfg.Features.SchemaDir)
	checkNoError(t, err)
	diskFull := errors.New("disk full")
	store := &failingAppendStore{DB: db, err: diskFull}
	o := NewOrchestrator(cfg, store, staging.NewLoader(&cfg.Staging, cfg.ETL.Project, nil), reg,
		lock.NopLocker{}, WithClock(fixedNow))

	stats, err := o.Run(ctx, DefaultParams(&cfg.ETL))
	if !errors.Is(err, diskFull) {
		t.Fatalf("Run error = %v, want disk full", err)
	}
	if stats.State != string(StateFailed) || stats.FailedStage != string(StateLoadJobs) {
		t.Errorf("state/stage = %s/%s, want failed/load_jobs", stats.State, stats.FailedStage)
	}
	if stats.JobsWatermark != nil {
		t.Errorf("stats jobs watermark = %v, want nil", stats.JobsWatermark)
	}

	wm, err := db.GetWatermark(ctx, models.SourceJobs)
	checkNoError(t, err)
	if wm != nil {
		t.Errorf("jobs watermark = %v, want nil after failed append", wm)
	}
	// The pipelines stage committed before the failure.
	wm, err = db.GetWatermark(ctx, models.SourcePipelines)
	checkNoError(t, err)
	if wm == nil {
		t.Error("pipelines watermark not set after committed load")
	}
	checkIntEqual(t, "metrics upserted", stats.MetricsUpserted, 0)
}
