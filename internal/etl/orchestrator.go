// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/cipulse/internal/config"
	"github.com/tomtom215/cipulse/internal/lock"
	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
	"github.com/tomtom215/cipulse/internal/staging"
)

// StateSkipped is recorded in RunStats when the run lock was held elsewhere.
// It is not a state of the run machine; the run never started.
const StateSkipped State = "skipped"

// finalizeTimeout bounds the bookkeeping done after a run, which must still
// happen when the run's own deadline has expired.
const finalizeTimeout = 10 * time.Second

// RunParams selects the windows and schema for one run.
type RunParams struct {
	// WindowDays is the metrics re-aggregation window; 0 = all history.
	WindowDays int
	// FeatureWindowDays is forced to 0 when WindowDays is 0.
	FeatureWindowDays int
	// FeatureVersion pins the schema; 0 = registry current.
	FeatureVersion int
}

// DefaultParams returns the run parameters configured in cfg.
func DefaultParams(cfg *config.ETLConfig) RunParams {
	return RunParams{
		WindowDays:        cfg.ReprocessWindowDays,
		FeatureWindowDays: cfg.EffectiveFeatureWindow(cfg.ReprocessWindowDays),
		FeatureVersion:    cfg.FeatureVersion,
	}
}

// Orchestrator drives one ETL run through its stages.
type Orchestrator struct {
	cfg        *config.Config
	store      Store
	loader     *staging.Loader
	schemas    SchemaSource
	locker     lock.Locker
	aggregator *Aggregator
	builder    *FeatureBuilder
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the clock used for windows and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the run stages. locker may be lock.NopLocker{}.
func NewOrchestrator(cfg *config.Config, store Store, loader *staging.Loader, schemas SchemaSource, locker lock.Locker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		loader:     loader,
		schemas:    schemas,
		locker:     locker,
		aggregator: NewAggregator(store, &cfg.ETL),
		builder:    NewFeatureBuilder(store, schemas, &cfg.ETL),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.aggregator.now = o.now
	o.builder.now = o.now
	return o
}

// pendingArchive remembers what a successful run may archive.
type pendingArchive struct {
	source    string
	files     []staging.FileSummary
	watermark *time.Time
}

// Run executes Idle → LoadPipelines → LoadJobs → Aggregate → BuildFeatures → Done.
// Any stage error moves the run to Failed; watermarks only advance after
// their batch committed, so a failed run is safe to retry unchanged. The
// returned stats are populated in both cases and persisted to etl_runs.
func (o *Orchestrator) Run(ctx context.Context, p RunParams) (*models.RunStats, error) {
	if p.WindowDays == 0 {
		p.FeatureWindowDays = 0
	}
	stats := &models.RunStats{
		RunID:             logging.GenerateRunID(),
		State:             string(StateIdle),
		StartedAt:         o.now().UTC(),
		WindowDays:        p.WindowDays,
		FeatureWindowDays: p.FeatureWindowDays,
		FeatureVersion:    p.FeatureVersion,
	}
	ctx = logging.ContextWithRunID(ctx, stats.RunID)
	log := logging.Ctx(ctx)

	lease, err := o.locker.Acquire(ctx, o.cfg.Lock.Key, o.cfg.Lock.TTL)
	if err != nil {
		stats.State = string(StateSkipped)
		stats.FinishedAt = o.now().UTC()
		if errors.Is(err, lock.ErrHeld) {
			metrics.RecordRun(string(StateSkipped), 0)
			log.Warn().Str("lock_key", o.cfg.Lock.Key).Msg("ETL run skipped, lock held by another run")
			return stats, ErrRunInProgress
		}
		stats.Error = err.Error()
		metrics.RecordRun(string(StateFailed), 0)
		return stats, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		if relErr := lease.Release(relCtx); relErr != nil {
			log.Warn().Err(relErr).Msg("Failed to release run lock")
		}
	}()

	log.Info().
		Int("window_days", p.WindowDays).
		Int("feature_window_days", p.FeatureWindowDays).
		Int("feature_version", p.FeatureVersion).
		Str("lock_backend", o.locker.Backend()).
		Msg("ETL run started")

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.ETL.RunTimeout)
	defer cancel()

	m := newMachine()
	var archives []pendingArchive
	runErr := o.execute(runCtx, m, p, stats, &archives)
	if runErr != nil {
		failed := m.fail()
		stats.FailedStage = string(failed)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			runErr = fmt.Errorf("%w after %s: %w", ErrRunDeadlineExceeded, o.cfg.ETL.RunTimeout, runErr)
		}
		stats.Error = runErr.Error()
	}
	stats.State = string(m.State())
	stats.FinishedAt = o.now().UTC()

	finCtx, finCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finCancel()

	if runErr == nil && o.cfg.Staging.ArchiveConsumed {
		o.archive(finCtx, archives)
	}
	if err := o.store.InsertRun(finCtx, stats); err != nil {
		log.Error().Err(err).Msg("Failed to record run history")
	}
	metrics.RecordRun(stats.State, stats.Duration())

	summary := log.Info()
	if runErr != nil {
		summary = log.Error().Err(runErr).Str("failed_stage", stats.FailedStage)
	}
	summary.
		Str("state", stats.State).
		Int("rows_read", stats.RowsRead()).
		Int("rows_skipped", stats.RowsSkipped).
		Int("rows_processed", stats.RowsProcessed()).
		Int("rows_written", stats.RowsWritten()).
		Dur("elapsed", stats.Duration()).
		Msg("ETL run finished")

	if runErr != nil {
		return stats, runErr
	}
	return stats, nil
}

// execute runs every stage in order, stopping at the first error.
func (o *Orchestrator) execute(ctx context.Context, m *machine, p RunParams, stats *models.RunStats, archives *[]pendingArchive) error {
	stages := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StateLoadPipelines, func(ctx context.Context) error {
			a, err := o.loadPipelines(ctx, stats)
			*archives = append(*archives, a)
			return err
		}},
		{StateLoadJobs, func(ctx context.Context) error {
			a, err := o.loadJobs(ctx, stats)
			*archives = append(*archives, a)
			return err
		}},
		{StateAggregate, func(ctx context.Context) error {
			n, err := o.aggregator.ComputeDailyMetrics(ctx, p.WindowDays)
			stats.MetricsUpserted = n
			return err
		}},
		{StateBuildFeatures, func(ctx context.Context) error {
			schema, err := o.schemas.Get(p.FeatureVersion)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
			}
			stats.FeatureVersion = schema.Version
			n, err := o.builder.BuildFeatures(ctx, p.FeatureWindowDays, schema.Version)
			stats.FeaturesWritten = n
			return err
		}},
	}

	for _, st := range stages {
		if err := m.transition(st.state); err != nil {
			return err
		}
		stageCtx := logging.ContextWithStage(ctx, string(st.state))
		start := time.Now()
		err := st.fn(stageCtx)
		metrics.RecordStage(string(st.state), time.Since(start), err)
		if err != nil {
			return fmt.Errorf("%s: %w", st.state, err)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", st.state, err)
		}
	}
	return m.transition(StateDone)
}

func (o *Orchestrator) loadPipelines(ctx context.Context, stats *models.RunStats) (pendingArchive, error) {
	pa := pendingArchive{source: models.SourcePipelines}
	since, err := o.store.GetWatermark(ctx, models.SourcePipelines)
	if err != nil {
		return pa, err
	}
	pa.watermark = since

	batch, err := o.loader.LoadPipelines(ctx, since)
	if err != nil {
		return pa, err
	}
	pa.files = batch.Files
	stats.PipelinesRead = len(batch.Events)
	stats.RowsSkipped += batch.SkippedTotal()

	inserted, err := o.store.AppendPipelineEvents(ctx, batch.Events)
	if err != nil {
		return pa, err
	}
	stats.PipelinesInserted = inserted
	metrics.RecordIngest(models.SourcePipelines, len(batch.Events), inserted)

	if maxTS := batch.MaxTS((*models.PipelineEvent).WatermarkTime); maxTS != nil {
		if err := o.advance(ctx, models.SourcePipelines, *maxTS); err != nil {
			return pa, err
		}
		stats.PipelinesWatermark = maxTS
		pa.watermark = maxTS
	}
	logging.Ctx(ctx).Info().
		Int("read", len(batch.Events)).
		Int("inserted", inserted).
		Int("stale", batch.Stale).
		Int("skipped", batch.SkippedTotal()).
		Msg("Pipelines ingested")
	return pa, nil
}

func (o *Orchestrator) loadJobs(ctx context.Context, stats *models.RunStats) (pendingArchive, error) {
	pa := pendingArchive{source: models.SourceJobs}
	since, err := o.store.GetWatermark(ctx, models.SourceJobs)
	if err != nil {
		return pa, err
	}
	pa.watermark = since

	batch, err := o.loader.LoadJobs(ctx, since)
	if err != nil {
		return pa, err
	}
	pa.files = batch.Files
	stats.JobsRead = len(batch.Events)
	stats.RowsSkipped += batch.SkippedTotal()

	inserted, err := o.store.AppendJobEvents(ctx, batch.Events)
	if err != nil {
		return pa, err
	}
	stats.JobsInserted = inserted
	metrics.RecordIngest(models.SourceJobs, len(batch.Events), inserted)

	if maxTS := batch.MaxTS((*models.JobEvent).WatermarkTime); maxTS != nil {
		if err := o.advance(ctx, models.SourceJobs, *maxTS); err != nil {
			return pa, err
		}
		stats.JobsWatermark = maxTS
		pa.watermark = maxTS
	}
	logging.Ctx(ctx).Info().
		Int("read", len(batch.Events)).
		Int("inserted", inserted).
		Int("stale", batch.Stale).
		Int("skipped", batch.SkippedTotal()).
		Msg("Jobs ingested")
	return pa, nil
}

// advance records the watermark after its batch committed.
func (o *Orchestrator) advance(ctx context.Context, source string, ts time.Time) error {
	if err := o.store.SetWatermark(ctx, source, ts); err != nil {
		return err
	}
	metrics.SetWatermark(source, ts)
	return nil
}

// archive moves fully consumed staged files aside. Failures are logged; the
// run has already succeeded.
func (o *Orchestrator) archive(ctx context.Context, archives []pendingArchive) {
	for _, a := range archives {
		if a.watermark == nil || len(a.files) == 0 {
			continue
		}
		if _, err := o.loader.Archive(ctx, a.source, a.files, *a.watermark); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("source", a.source).Msg("Failed to archive consumed staged files")
		}
	}
}
