// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"math"
	"sort"

	"github.com/tomtom215/cipulse/internal/models"
)

// quantile returns the q-quantile of sorted using linear interpolation
// between closest ranks (position q*(n-1)). sorted must be ascending and
// non-empty.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := math.Floor(pos)
	hi := math.Ceil(pos)
	loV := sorted[int(lo)]
	if lo == hi {
		return loV
	}
	return loV + (sorted[int(hi)]-loV)*(pos-lo)
}

// dayGroup accumulates the jobs of one (project, name, day).
type dayGroup struct {
	project, name string
	day           models.DailyMetric
	durations     []float64
	reasons       map[string]int64
}

func newDayGroup(e *models.JobEvent) *dayGroup {
	return &dayGroup{
		project: e.Project,
		name:    e.Name,
		day: models.DailyMetric{
			EntityGroup: e.Project,
			EntityName:  e.Name,
			Day:         models.Day(e.CreatedAt),
		},
		reasons: make(map[string]int64),
	}
}

func (g *dayGroup) matches(e *models.JobEvent) bool {
	return g.project == e.Project && g.name == e.Name && g.day.Day.Equal(models.Day(e.CreatedAt))
}

func (g *dayGroup) add(e *models.JobEvent) {
	switch e.Status {
	case models.StatusSuccess:
		g.day.Builds++
	case models.StatusFailed:
		g.day.Builds++
		g.day.Fails++
	}
	if e.Duration != nil && !math.IsNaN(*e.Duration) {
		g.durations = append(g.durations, *e.Duration)
	}
	if e.RetryCount > g.day.MaxRetries {
		g.day.MaxRetries = e.RetryCount
	}
	if e.FailureReason != "" {
		g.reasons[e.FailureReason]++
	}
}

// finish computes the derived columns. Durations are summed in ascending
// order so the result does not depend on row order.
func (g *dayGroup) finish(topN int) models.DailyMetric {
	m := g.day
	if n := len(g.durations); n > 0 {
		sort.Float64s(g.durations)
		var total float64
		for _, d := range g.durations {
			total += d
		}
		avg := total / float64(n)
		p95 := quantile(g.durations, 0.95)
		p99 := quantile(g.durations, 0.99)
		m.TotalDuration = total
		m.AvgDuration = &avg
		m.P95Duration = &p95
		m.P99Duration = &p99
	}
	m.FailureReasons = topReasons(g.reasons, topN)
	return m
}

// topReasons returns the n most frequent reasons, ties broken by reason.
func topReasons(counts map[string]int64, n int) []models.ReasonCount {
	out := make([]models.ReasonCount, 0, len(counts))
	for reason, count := range counts {
		out = append(out, models.ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
