// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package models

import (
	"strings"
	"time"
)

// ReasonCount is one entry of the failure-reason histogram.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// DailyMetric aggregates the job executions of one entity on one UTC day.
// For a fixed key it is a pure function of the raw rows of that day.
//
// Builds counts executions that finished as success or failed; Fails counts
// the failed ones. Duration statistics are nil when no execution of the day
// reported a duration.
type DailyMetric struct {
	EntityGroup    string        `json:"entity_group"`
	EntityName     string        `json:"entity_name"`
	Day            time.Time     `json:"day"`
	Builds         int64         `json:"builds"`
	Fails          int64         `json:"fails"`
	P95Duration    *float64      `json:"p95_duration,omitempty"`
	P99Duration    *float64      `json:"p99_duration,omitempty"`
	AvgDuration    *float64      `json:"avg_duration,omitempty"`
	TotalDuration  float64       `json:"total_duration"`
	MaxRetries     int           `json:"max_retries"`
	FailureReasons []ReasonCount `json:"failure_reasons"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// EntityKey returns the "group:name" key used by the feature stores.
func (m *DailyMetric) EntityKey() string {
	return EntityKey(m.EntityGroup, m.EntityName)
}

// EntityKey joins an entity group and name.
func EntityKey(group, name string) string {
	return group + ":" + name
}

// SplitEntityKey is the inverse of EntityKey. Groups never contain ':',
// so the first separator splits; a key without one is all name.
func SplitEntityKey(key string) (group, name string) {
	group, name, ok := strings.Cut(key, ":")
	if !ok {
		return "", key
	}
	return group, name
}

// MetricsFilter selects daily metrics rows. Zero times leave that bound open.
type MetricsFilter struct {
	Project string
	From    time.Time // inclusive
	To      time.Time // exclusive
}
