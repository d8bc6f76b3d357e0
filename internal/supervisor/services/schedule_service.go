// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/cipulse/internal/etl"
	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/models"
)

// Runner executes one ETL run. Satisfied by *etl.Orchestrator.
type Runner interface {
	Run(ctx context.Context, p etl.RunParams) (*models.RunStats, error)
}

// ScheduleService triggers runs on a cron schedule.
type ScheduleService struct {
	runner     Runner
	spec       string
	params     etl.RunParams
	runOnStart bool
	name       string
}

// NewScheduleService creates a scheduler for runner. spec is a standard
// five-field expression or a descriptor such as "@every 15m", evaluated in UTC.
func NewScheduleService(runner Runner, spec string, params etl.RunParams, runOnStart bool) *ScheduleService {
	return &ScheduleService{
		runner:     runner,
		spec:       spec,
		params:     params,
		runOnStart: runOnStart,
		name:       "etl-scheduler",
	}
}

// Serve implements suture.Service. An invalid spec is returned as an
// error; run failures are logged and the schedule continues.
func (s *ScheduleService) Serve(ctx context.Context) error {
	sched, err := cron.ParseStandard(s.spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.spec, err)
	}

	c := cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{}))
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() { s.runOnce(ctx) }))
	c.Schedule(sched, job)
	c.Start()
	logging.Info().Str("schedule", s.spec).Time("next", sched.Next(time.Now().UTC())).Msg("ETL scheduler started")

	var startup sync.WaitGroup
	if s.runOnStart {
		startup.Add(1)
		go func() {
			defer startup.Done()
			job.Run()
		}()
	}

	<-ctx.Done()
	// Stop waits for a scheduled run in flight; the startup run is tracked separately.
	<-c.Stop().Done()
	startup.Wait()
	logging.Info().Msg("ETL scheduler stopped")
	return ctx.Err()
}

func (s *ScheduleService) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	stats, err := s.runner.Run(ctx, s.params)
	switch {
	case errors.Is(err, etl.ErrRunInProgress):
		logging.Warn().Msg("Scheduled run skipped, another run holds the lock")
	case err != nil:
		ev := logging.Error().Err(err)
		if stats != nil {
			ev = ev.Str("run_id", stats.RunID).Str("failed_stage", stats.FailedStage)
		}
		ev.Msg("Scheduled run failed")
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *ScheduleService) String() string {
	return s.name
}

// cronLogger routes robfig/cron's logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
