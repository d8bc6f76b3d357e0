// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

// Package window computes the day ranges the ETL re-aggregates.
//
// A window of N days ending today covers [today-N, today] inclusive, i.e.
// N+1 calendar days. N = 0 means all history through today. Internally the
// range is held half-open as [Start, End) with End = today+1 so timestamp
// comparisons need no end-of-day arithmetic.
package window

import (
	"fmt"
	"time"

	"github.com/tomtom215/cipulse/internal/models"
)

// Window is a half-open UTC range of whole days.
type Window struct {
	// Start is the first included day at midnight UTC; zero when unbounded.
	Start time.Time
	// End is the day after the reference date, exclusive.
	End time.Time
	// Days is the requested size; 0 for all time.
	Days int
}

// ForDays returns the window of the given size ending on today's UTC date.
// Negative sizes are treated as 0.
func ForDays(days int, today time.Time) Window {
	ref := models.Day(today)
	w := Window{End: ref.AddDate(0, 0, 1), Days: days}
	if days > 0 {
		w.Start = ref.AddDate(0, 0, -days)
	} else {
		w.Days = 0
	}
	return w
}

// AllTime reports whether the window is unbounded at the start.
func (w Window) AllTime() bool {
	return w.Start.IsZero()
}

// ReferenceDate is the last included day (today at run time). Feature
// vectors are stamped with it as their event_time.
func (w Window) ReferenceDate() time.Time {
	return w.End.AddDate(0, 0, -1)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	u := models.NormalizeUTC(t)
	if !w.AllTime() && u.Before(w.Start) {
		return false
	}
	return u.Before(w.End)
}

// String renders the inclusive day range.
func (w Window) String() string {
	last := w.ReferenceDate().Format(time.DateOnly)
	if w.AllTime() {
		return fmt.Sprintf("[all .. %s]", last)
	}
	return fmt.Sprintf("[%s .. %s]", w.Start.Format(time.DateOnly), last)
}
