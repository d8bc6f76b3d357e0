// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package models

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayouts are tried in order. Layouts without a zone are naive and read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// NormalizeUTC converts t to UTC at microsecond precision, the resolution
// of a stored TIMESTAMP. A time carrying no zone information (the
// zero-offset "naive" values legacy rows produce) is already UTC and is
// returned with the UTC location attached.
func NormalizeUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

// NormalizeUTCPtr is NormalizeUTC for optional timestamps.
func NormalizeUTCPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := NormalizeUTC(*t)
	return &n
}

// ParseTimestamp parses an RFC3339 or naive timestamp string into UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return NormalizeUTC(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Day returns the UTC calendar day containing t, at midnight.
func Day(t time.Time) time.Time {
	u := NormalizeUTC(t)
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
