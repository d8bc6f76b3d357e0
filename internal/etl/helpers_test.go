// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/cipulse/internal/config"
	"github.com/tomtom215/cipulse/internal/database"
)

// testDBSemaphore serializes DuckDB usage across the package's tests.
var testDBSemaphore = make(chan struct{}, 1)

// testToday is the fixed "today" every test clock returns.
var testToday = time.Date(2025, 1, 10, 15, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return testToday }

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	type result struct {
		db  *database.DB
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB", Threads: 2})
		resultCh <- result{db: db, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		t.Cleanup(func() { _ = res.db.Close() })
		return res.db
	case <-time.After(120 * time.Second):
		t.Fatalf("Timeout: database creation took longer than 120s")
		return nil
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Staging.Dir = t.TempDir()
	cfg.Staging.Workers = 2
	cfg.Lock.Backend = "none"
	cfg.ETL.Project = ""
	return cfg
}

func stage(t *testing.T, dir, source, name, content string) {
	t.Helper()
	sub := filepath.Join(dir, source)
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func checkNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func checkIntEqual(t *testing.T, fieldName string, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %d, want %d", fieldName, got, want)
	}
}

func checkFloatEqual(t *testing.T, fieldName string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", fieldName, got, want)
	}
}

func ptrFloat(v float64) *float64 { return &v }
