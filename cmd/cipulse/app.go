// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package main

import (
	"fmt"
	"os"

	"github.com/tomtom215/cipulse/internal/config"
	"github.com/tomtom215/cipulse/internal/database"
	"github.com/tomtom215/cipulse/internal/etl"
	"github.com/tomtom215/cipulse/internal/featureschema"
	"github.com/tomtom215/cipulse/internal/lock"
	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/staging"
)

// globalOptions are the persistent root flags.
type globalOptions struct {
	configPath string
	dbPath     string
}

// loadConfig loads configuration, applies flag overrides via apply and
// validates the result. Logging is initialised from the final config.
func loadConfig(opts *globalOptions, apply func(*config.Config)) (*config.Config, error) {
	if opts.configPath != "" {
		if _, err := os.Stat(opts.configPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := os.Setenv(config.ConfigPathEnvVar, opts.configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}

// openDatabase opens DuckDB; the caller closes it with closeDatabase.
func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	logging.Info().Str("db_path", cfg.Database.Path).Msg("Database initialized")
	return db, nil
}

func closeDatabase(db *database.DB) {
	if err := db.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing database")
	}
}

// pipeline is an orchestrator with the resources it owns.
type pipeline struct {
	orchestrator *etl.Orchestrator
	registry     *featureschema.Registry
	locker       lock.Locker
}

func (p *pipeline) Close() error {
	return p.locker.Close()
}

func newPipeline(cfg *config.Config, db *database.DB) (*pipeline, error) {
	registry, err := featureschema.Load(cfg.Features.SchemaDir)
	if err != nil {
		return nil, fmt.Errorf("load feature schemas: %w", err)
	}
	locker, err := lock.New(&cfg.Lock)
	if err != nil {
		return nil, fmt.Errorf("open run lock: %w", err)
	}
	loader := staging.NewLoader(&cfg.Staging, cfg.ETL.Project, nil)
	return &pipeline{
		orchestrator: etl.NewOrchestrator(cfg, db, loader, registry, locker),
		registry:     registry,
		locker:       locker,
	}, nil
}
