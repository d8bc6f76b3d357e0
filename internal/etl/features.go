// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/cipulse/internal/config"
	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
	"github.com/tomtom215/cipulse/internal/window"
)

// StageRatios apportions an entity's mean duration across pipeline stages.
// Per-stage timing is not kept in daily metrics, so these fixed shares are
// an approximation, not a measurement.
var StageRatios = map[string]float64{
	"stage_build":  0.40,
	"stage_test":   0.50,
	"stage_deploy": 0.10,
}

// SchemaSource resolves feature schemas by version; 0 means current.
type SchemaSource interface {
	Get(version int) (*models.FeatureSchema, error)
}

// entityAggregate is one entity's daily metrics reduced over the window.
type entityAggregate struct {
	group, name   string
	builds, fails int64
	totalDuration float64
	maxRetries    int
	avg, p95, p99 meanAcc
}

// meanAcc averages the non-nil values it sees.
type meanAcc struct {
	sum float64
	n   int
}

func (m *meanAcc) add(v *float64) {
	if v != nil {
		m.sum += *v
		m.n++
	}
}

func (m *meanAcc) value() (float64, bool) {
	if m.n == 0 {
		return 0, false
	}
	return m.sum / float64(m.n), true
}

func (m *meanAcc) orZero() float64 {
	v, _ := m.value()
	return v
}

// featureFuncs lists every feature the builder can produce.
var featureFuncs = map[string]func(*entityAggregate) float64{
	"dur_total":      func(a *entityAggregate) float64 { return a.p95.orZero() },
	"stage_build":    stageFeature("stage_build"),
	"stage_test":     stageFeature("stage_test"),
	"stage_deploy":   stageFeature("stage_deploy"),
	"fail_rate":      func(a *entityAggregate) float64 { return failRate(a.fails, a.builds) },
	"max_retries":    func(a *entityAggregate) float64 { return float64(a.maxRetries) },
	"builds":         func(a *entityAggregate) float64 { return float64(a.builds) },
	"fails":          func(a *entityAggregate) float64 { return float64(a.fails) },
	"avg_duration":   func(a *entityAggregate) float64 { return a.avg.orZero() },
	"p95_duration":   func(a *entityAggregate) float64 { return a.p95.orZero() },
	"p99_duration":   func(a *entityAggregate) float64 { return a.p99.orZero() },
	"total_duration": func(a *entityAggregate) float64 { return a.totalDuration },
}

func stageFeature(name string) func(*entityAggregate) float64 {
	ratio := StageRatios[name]
	return func(a *entityAggregate) float64 { return a.avg.orZero() * ratio }
}

// failRate smooths the failure ratio with +1 so entities with no builds
// score 0 instead of dividing by zero.
func failRate(fails, builds int64) float64 {
	return float64(fails) / float64(builds+1)
}

// FeatureBuilder publishes per-entity feature vectors from daily metrics.
type FeatureBuilder struct {
	store   FeatureStore
	schemas SchemaSource
	project string
	now     func() time.Time
}

// NewFeatureBuilder creates a builder reading schemas from schemas.
func NewFeatureBuilder(store FeatureStore, schemas SchemaSource, cfg *config.ETLConfig) *FeatureBuilder {
	return &FeatureBuilder{
		store:   store,
		schemas: schemas,
		project: cfg.Project,
		now:     time.Now,
	}
}

// BuildFeatures reduces daily metrics in [today-windowDays, today] per
// entity, projects them onto the schema for featureVersion (0 = current)
// and writes each vector to the offline and online stores. windowDays 0
// uses all history. Returns the number of entities written.
func (b *FeatureBuilder) BuildFeatures(ctx context.Context, windowDays, featureVersion int) (int, error) {
	schema, err := b.schemas.Get(featureVersion)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if err := checkProducible(schema); err != nil {
		return 0, err
	}

	w := window.ForDays(windowDays, b.now())
	rows, err := b.store.ListDailyMetrics(ctx, models.MetricsFilter{Project: b.project, From: w.Start, To: w.End})
	if err != nil {
		return 0, fmt.Errorf("read daily metrics %s: %w", w, err)
	}
	entities := reduceEntities(rows)
	if len(entities) == 0 {
		logging.Ctx(ctx).Info().Str("window", w.String()).Msg("No daily metrics in window, no features built")
		return 0, nil
	}

	eventTime := w.ReferenceDate()
	versionLabel := strconv.Itoa(schema.Version)
	written := 0
	for _, agg := range entities {
		v := &models.FeatureVector{
			EntityKey:      models.EntityKey(agg.group, agg.name),
			FeatureVersion: schema.Version,
			EventTime:      eventTime,
			Values:         project(agg, schema),
		}
		if err := b.store.WriteFeatureVector(ctx, v); err != nil {
			return written, fmt.Errorf("write features for %s: %w", v.EntityKey, err)
		}
		written++
		metrics.FeaturesWritten.WithLabelValues(versionLabel).Inc()
	}

	logging.Ctx(ctx).Info().
		Str("window", w.String()).
		Int("feature_version", schema.Version).
		Int("entities", written).
		Msg("Feature vectors published")
	return written, nil
}

func checkProducible(schema *models.FeatureSchema) error {
	for _, name := range schema.Features {
		if _, ok := featureFuncs[name]; !ok {
			return fmt.Errorf("%w: schema v%d requires %q, which cannot be derived from daily metrics",
				ErrSchemaMismatch, schema.Version, name)
		}
	}
	return nil
}

// reduceEntities folds rows ordered by (group, name, day) into one
// aggregate per entity, preserving that order.
func reduceEntities(rows []models.DailyMetric) []*entityAggregate {
	var out []*entityAggregate
	var cur *entityAggregate
	for i := range rows {
		r := &rows[i]
		if cur == nil || cur.group != r.EntityGroup || cur.name != r.EntityName {
			cur = &entityAggregate{group: r.EntityGroup, name: r.EntityName}
			out = append(out, cur)
		}
		cur.builds += r.Builds
		cur.fails += r.Fails
		cur.totalDuration += r.TotalDuration
		if r.MaxRetries > cur.maxRetries {
			cur.maxRetries = r.MaxRetries
		}
		cur.avg.add(r.AvgDuration)
		cur.p95.add(r.P95Duration)
		cur.p99.add(r.P99Duration)
	}
	return out
}

func project(agg *entityAggregate, schema *models.FeatureSchema) []models.FeatureValue {
	values := make([]models.FeatureValue, len(schema.Features))
	for i, name := range schema.Features {
		values[i] = models.FeatureValue{Name: name, Value: featureFuncs[name](agg)}
	}
	return values
}
