// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package config

import "time"

// Config holds all application configuration.
// It is passed explicitly to constructors; nothing reads it from globals.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Staging  StagingConfig  `koanf:"staging"`
	ETL      ETLConfig      `koanf:"etl"`
	Features FeaturesConfig `koanf:"features"`
	Lock     LockConfig     `koanf:"lock"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory" validate:"byte_size"`
	Threads   int    `koanf:"threads" validate:"gte=0,lte=256"` // 0 = runtime.NumCPU()
}

// StagingConfig describes where the source collector drops event batches.
type StagingConfig struct {
	Dir string `koanf:"dir" validate:"required"`
	// Workers bounds concurrent file parsing per source.
	Workers int `koanf:"workers" validate:"gte=1,lte=64"`
	// ArchiveConsumed moves fully ingested files into <source>/.consumed/ after a successful run.
	ArchiveConsumed bool `koanf:"archive_consumed"`
}

// ETLConfig holds run parameters.
type ETLConfig struct {
	// Project restricts aggregation to one project id. Empty means all projects.
	Project string `koanf:"project"`
	// ReprocessWindowDays is the metrics re-aggregation window. 0 = all history.
	ReprocessWindowDays int `koanf:"reprocess_window_days" validate:"gte=0,lte=3650"`
	// FeatureWindowDays is forced to 0 when ReprocessWindowDays is 0.
	FeatureWindowDays int `koanf:"feature_window_days" validate:"gte=0,lte=3650"`
	// FeatureVersion pins a schema version. 0 = registry current.
	FeatureVersion    int           `koanf:"feature_version" validate:"gte=0"`
	TopFailureReasons int           `koanf:"top_failure_reasons" validate:"gte=1,lte=100"`
	RunTimeout        time.Duration `koanf:"run_timeout" validate:"gt=0"`
}

// FeaturesConfig locates the model registry's feature schemas.
type FeaturesConfig struct {
	// SchemaDir holds feature_schema_v<N>.yaml files. Empty uses the built-in v1 schema.
	SchemaDir string `koanf:"schema_dir"`
}

// LockConfig selects the run lock backend.
type LockConfig struct {
	Backend   string        `koanf:"backend" validate:"oneof=badger redis none"`
	Path      string        `koanf:"path"`
	RedisAddr string        `koanf:"redis_addr"`
	Key       string        `koanf:"key" validate:"required"`
	TTL       time.Duration `koanf:"ttl" validate:"gt=0"`
}

// ScheduleConfig holds settings for `cipulse serve`.
type ScheduleConfig struct {
	Cron       string `koanf:"cron" validate:"omitempty,cron_spec"`
	ListenAddr string `koanf:"listen_addr" validate:"required"`
	// RunOnStart triggers one run as soon as the scheduler starts.
	RunOnStart bool `koanf:"run_on_start"`
	// FeatureCacheSize bounds cached online vectors behind GET /features. 0 disables the cache.
	FeatureCacheSize int           `koanf:"feature_cache_size" validate:"gte=0,lte=1000000"`
	FeatureCacheTTL  time.Duration `koanf:"feature_cache_ttl" validate:"gte=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// EffectiveFeatureWindow returns the feature window honouring the full-reprocess rule.
func (c *ETLConfig) EffectiveFeatureWindow(metricsWindow int) int {
	if metricsWindow == 0 {
		return 0
	}
	return c.FeatureWindowDays
}
