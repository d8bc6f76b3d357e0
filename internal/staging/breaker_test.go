// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package staging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

func TestReadBreaker_MissingFileIsNotFailure(t *testing.T) {
	b := NewReadBreaker(BreakerSettings{MinRequests: 1, FailureRatio: 0.5, OpenTimeout: time.Minute})
	missing := filepath.Join(t.TempDir(), "gone.ndjson")

	for i := 0; i < 3; i++ {
		if _, err := b.ReadFile(missing); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("ReadFile() error = %v, want ErrNotExist", err)
		}
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestReadBreaker_OpensOnIOErrors(t *testing.T) {
	b := NewReadBreaker(BreakerSettings{MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Hour})
	// Reading a directory fails with an I/O error other than ErrNotExist.
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		if _, err := b.ReadFile(dir); err == nil {
			t.Fatal("ReadFile(dir) succeeded, want error")
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	ok := filepath.Join(dir, "ok.ndjson")
	if err := os.WriteFile(ok, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ReadFile(ok); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("ReadFile() while open error = %v, want ErrOpenState", err)
	}
}
