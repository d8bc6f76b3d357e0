// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"cipulse.yaml",
	"cipulse.yml",
	"/etc/cipulse/config.yaml",
	"/etc/cipulse/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all defaults applied.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:      "/data/cipulse.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Staging: StagingConfig{
			Dir:             "/data/staging",
			Workers:         4,
			ArchiveConsumed: false,
		},
		ETL: ETLConfig{
			Project:             "",
			ReprocessWindowDays: 3,
			FeatureWindowDays:   30,
			FeatureVersion:      0,
			TopFailureReasons:   5,
			RunTimeout:          30 * time.Minute,
		},
		Features: FeaturesConfig{
			SchemaDir: "",
		},
		Lock: LockConfig{
			Backend: "badger",
			Path:    "/data/lock",
			Key:     "cipulse/etl-run",
			TTL:     45 * time.Minute,
		},
		Schedule: ScheduleConfig{
			Cron:             "@every 15m",
			ListenAddr:       "127.0.0.1:9464",
			RunOnStart:       true,
			FeatureCacheSize: 1024,
			FeatureCacheTTL:  time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Default returns a copy of the built-in defaults.
func Default() *Config {
	return defaultConfig()
}

// LoadWithKoanf loads configuration in three layers:
//
//  1. Defaults from defaultConfig
//  2. Optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables (explicit mapping, highest priority)
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"cipulse_db_path":           "database.path",
	"duckdb_path":               "database.path",
	"duckdb_max_memory":         "database.max_memory",
	"duckdb_threads":            "database.threads",
	"cipulse_staging_dir":       "staging.dir",
	"cipulse_staging_workers":   "staging.workers",
	"cipulse_archive_consumed":  "staging.archive_consumed",
	"cipulse_project":           "etl.project",
	"cipulse_window_days":       "etl.reprocess_window_days",
	"cipulse_feature_window":    "etl.feature_window_days",
	"cipulse_feature_version":   "etl.feature_version",
	"cipulse_top_failures":      "etl.top_failure_reasons",
	"cipulse_run_timeout":       "etl.run_timeout",
	"cipulse_schema_dir":        "features.schema_dir",
	"cipulse_lock_backend":      "lock.backend",
	"cipulse_lock_path":         "lock.path",
	"cipulse_lock_key":          "lock.key",
	"cipulse_lock_ttl":          "lock.ttl",
	"redis_addr":                "lock.redis_addr",
	"cipulse_schedule":          "schedule.cron",
	"cipulse_listen_addr":       "schedule.listen_addr",
	"cipulse_run_on_start":      "schedule.run_on_start",
	"cipulse_feature_cache":     "schedule.feature_cache_size",
	"cipulse_feature_cache_ttl": "schedule.feature_cache_ttl",
	"log_level":                 "logging.level",
	"log_format":                "logging.format",
	"log_caller":                "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
//   - CIPULSE_DB_PATH -> database.path
//   - CIPULSE_WINDOW_DAYS -> etl.reprocess_window_days
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
