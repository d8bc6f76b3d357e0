// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/cipulse/internal/models"
)

var testSchema = &models.FeatureSchema{
	Version:  1,
	Features: []string{"fail_rate", "max_retries"},
}

func testVector(key string, version int, eventTime time.Time, failRate, retries float64) *models.FeatureVector {
	return &models.FeatureVector{
		EntityKey:      key,
		FeatureVersion: version,
		EventTime:      eventTime,
		Values: []models.FeatureValue{
			{Name: "fail_rate", Value: failRate},
			{Name: "max_retries", Value: retries},
		},
	}
}

func TestGetOnlineFeatures_NeverComputed(t *testing.T) {
	db := setupTestDB(t)

	v, err := db.GetOnlineFeatures(context.Background(), "42:unit", testSchema)
	checkNoError(t, err)
	if v != nil {
		t.Fatalf("GetOnlineFeatures() = %+v, want nil", v)
	}
}

func TestWriteFeatureVector_OnlineOverwriteOfflineAccumulate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	day1 := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	checkNoError(t, db.WriteFeatureVector(ctx, testVector("42:unit", 1, day1, 0.1, 1)))
	checkNoError(t, db.WriteFeatureVector(ctx, testVector("42:unit", 1, day2, 0.2, 3)))

	online, err := db.GetOnlineFeatures(ctx, "42:unit", testSchema)
	checkNoError(t, err)
	if online == nil {
		t.Fatal("online vector missing")
	}
	checkTimeEqual(t, "online event_time", online.EventTime, day2)
	rate, _ := online.Get("fail_rate")
	checkFloatEqual(t, "online fail_rate", rate, 0.2)

	offline, err := db.ListOfflineFeatures(ctx, OfflineFilter{})
	checkNoError(t, err)
	checkSliceLen(t, "offline rows", len(offline), 2)
	checkTimeEqual(t, "first offline event_time", offline[0].EventTime, day1)
	checkStringEqual(t, "first offline payload", string(offline[0].Payload), `{"fail_rate":0.1,"max_retries":1}`)

	counts, err := db.TableCounts(ctx)
	checkNoError(t, err)
	if counts["online_features"] != 1 {
		t.Errorf("online rows = %d, want 1", counts["online_features"])
	}
}

func TestWriteFeatureVector_SameDayIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	checkNoError(t, db.WriteFeatureVector(ctx, testVector("42:unit", 1, day, 0.5, 0)))
	checkNoError(t, db.WriteFeatureVector(ctx, testVector("42:unit", 1, day, 0.25, 0)))

	offline, err := db.ListOfflineFeatures(ctx, OfflineFilter{})
	checkNoError(t, err)
	checkSliceLen(t, "offline rows", len(offline), 1)
	checkStringEqual(t, "payload", string(offline[0].Payload), `{"fail_rate":0.25,"max_retries":0}`)
}

func TestListOfflineFeatures_VersionsCoexist(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	checkNoError(t, db.WriteFeatureVector(ctx, testVector("42:unit", 1, day, 0.5, 0)))
	checkNoError(t, db.WriteFeatureVector(ctx, testVector("42:unit", 2, day, 0.5, 0)))
	checkNoError(t, db.WriteFeatureVector(ctx, testVector("42:lint", 1, day.AddDate(0, 0, 1), 0, 0)))

	v1, err := db.ListOfflineFeatures(ctx, OfflineFilter{Version: 1})
	checkNoError(t, err)
	checkSliceLen(t, "v1 rows", len(v1), 2)

	window, err := db.ListOfflineFeatures(ctx, OfflineFilter{From: day, To: day.AddDate(0, 0, 1)})
	checkNoError(t, err)
	checkSliceLen(t, "rows on day", len(window), 2)
	checkIntEqual(t, "first version", window[0].FeatureVersion, 1)
	checkIntEqual(t, "second version", window[1].FeatureVersion, 2)
}

func TestGetOnlineFeatures_SchemaMismatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	checkNoError(t, db.WriteFeatureVector(ctx, testVector("42:unit", 1, day, 0.5, 0)))

	t.Run("other version", func(t *testing.T) {
		_, err := db.GetOnlineFeatures(ctx, "42:unit", &models.FeatureSchema{Version: 2, Features: []string{"fail_rate", "max_retries"}})
		if !errors.Is(err, models.ErrSchemaMismatch) {
			t.Fatalf("err = %v, want ErrSchemaMismatch", err)
		}
	})

	t.Run("other fields", func(t *testing.T) {
		_, err := db.GetOnlineFeatures(ctx, "42:unit", &models.FeatureSchema{Version: 1, Features: []string{"fail_rate", "builds"}})
		if !errors.Is(err, models.ErrSchemaMismatch) {
			t.Fatalf("err = %v, want ErrSchemaMismatch", err)
		}
	})
}
