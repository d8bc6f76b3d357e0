// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package staging

import (
	"errors"
	"testing"
)

func TestDecodeJob_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"not json", `{"id":`, reasonDecode},
		{"missing id", `{"name":"a","status":"success","project_id":1,"created_at":"2025-01-10T00:00:00Z"}`, reasonInvalid},
		{"missing name", `{"id":1,"status":"success","project_id":1,"created_at":"2025-01-10T00:00:00Z"}`, reasonInvalid},
		{"negative duration", `{"id":1,"name":"a","status":"success","project_id":1,"duration":-1,"created_at":"2025-01-10T00:00:00Z"}`, reasonInvalid},
		{"fractional project", `{"id":1,"name":"a","status":"success","project_id":1.5,"created_at":"2025-01-10T00:00:00Z"}`, reasonDecode},
		{"bad created_at", `{"id":1,"name":"a","status":"success","project_id":1,"created_at":"soon"}`, reasonTimestamp},
		{"bad finished_at", `{"id":1,"name":"a","status":"success","project_id":1,"created_at":"2025-01-10T00:00:00Z","finished_at":"later"}`, reasonTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeJob([]byte(tt.raw), "")
			var rerr *recordError
			if !errors.As(err, &rerr) {
				t.Fatalf("decodeJob() error = %v, want recordError", err)
			}
			if rerr.reason != tt.reason {
				t.Errorf("reason = %q, want %q (%v)", rerr.reason, tt.reason, err)
			}
		})
	}
}

func TestDecodeJob_NullOptionalFields(t *testing.T) {
	e, err := decodeJob([]byte(`{"id":9,"name":"deploy","stage":"deploy","status":"canceled","project_id":"group/app",
		"duration":null,"started_at":null,"finished_at":"","retry_count":1,"retry":4,"created_at":"2025-01-10T00:00:00.123456Z"}`), "")
	if err != nil {
		t.Fatalf("decodeJob() error = %v", err)
	}
	if e.Duration != nil || e.StartedAt != nil || e.FinishedAt != nil {
		t.Errorf("optional fields = %v %v %v, want nil", e.Duration, e.StartedAt, e.FinishedAt)
	}
	if e.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1 (retry_count wins over retry)", e.RetryCount)
	}
	if e.Project != "group/app" {
		t.Errorf("project = %q", e.Project)
	}
	if e.CreatedAt.Nanosecond() != 123456000 {
		t.Errorf("created_at = %v, fractional seconds lost", e.CreatedAt)
	}
}
