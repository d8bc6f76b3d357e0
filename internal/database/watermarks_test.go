// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package database

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/cipulse/internal/models"
)

func TestGetWatermark_Absent(t *testing.T) {
	db := setupTestDB(t)

	ts, err := db.GetWatermark(context.Background(), models.SourceJobs)
	checkNoError(t, err)
	if ts != nil {
		t.Fatalf("GetWatermark() = %v, want nil for unprocessed source", ts)
	}
}

func TestSetWatermark_Monotonic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t1 := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)
	t2 := t1.Add(time.Hour)

	checkNoError(t, db.SetWatermark(ctx, models.SourceJobs, t1))
	checkNoError(t, db.SetWatermark(ctx, models.SourceJobs, t0))

	got, err := db.GetWatermark(ctx, models.SourceJobs)
	checkNoError(t, err)
	checkTimeEqual(t, "watermark after older write", *got, t1)

	checkNoError(t, db.SetWatermark(ctx, models.SourceJobs, t2))
	got, err = db.GetWatermark(ctx, models.SourceJobs)
	checkNoError(t, err)
	checkTimeEqual(t, "watermark after newer write", *got, t2)

	other, err := db.GetWatermark(ctx, models.SourcePipelines)
	checkNoError(t, err)
	if other != nil {
		t.Errorf("pipelines watermark = %v, want nil", other)
	}
}

func TestSetWatermark_NormalizesZone(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	est := time.FixedZone("EST", -5*60*60)
	local := time.Date(2025, 3, 1, 7, 30, 0, 0, est)
	checkNoError(t, db.SetWatermark(ctx, models.SourcePipelines, local))

	got, err := db.GetWatermark(ctx, models.SourcePipelines)
	checkNoError(t, err)
	checkTimeEqual(t, "watermark", *got, local)
	if got.Location() != time.UTC {
		t.Errorf("watermark location = %v, want UTC", got.Location())
	}
}

func TestListWatermarks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	fixedClock(db, time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC))

	ts := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	checkNoError(t, db.SetWatermark(ctx, models.SourcePipelines, ts))
	checkNoError(t, db.SetWatermark(ctx, models.SourceJobs, ts.Add(time.Minute)))

	wms, err := db.ListWatermarks(ctx)
	checkNoError(t, err)
	checkSliceLen(t, "watermarks", len(wms), 2)
	checkStringEqual(t, "first source", wms[0].Source, models.SourceJobs)
	checkTimeEqual(t, "jobs last_ts", wms[0].LastTS, ts.Add(time.Minute))
	checkStringEqual(t, "second source", wms[1].Source, models.SourcePipelines)
	checkTimeEqual(t, "updated_at", wms[1].UpdatedAt, time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC))
}
