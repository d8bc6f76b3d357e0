// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

/*
Package config loads CIPulse configuration with koanf.

Precedence is environment > config file > defaults. The config file is the
first of CONFIG_PATH, ./cipulse.yaml, ./cipulse.yml, /etc/cipulse/config.yaml.

Sections:

  - database: DuckDB path, memory limit, threads
  - staging: collector drop directory, parse workers, archiving of consumed files
  - etl: project filter, metrics window (default 3 days, 0 = all history),
    feature window (default 30 days), feature version, top-N failure reasons,
    run timeout
  - features: feature schema registry directory
  - lock: run lock backend (badger, redis, none), path or address, key, TTL
  - schedule: cron expression and ops listen address for `cipulse serve`
  - logging: level, format, caller

Environment variables (selection):

	CIPULSE_DB_PATH        database.path
	CIPULSE_STAGING_DIR    staging.dir
	CIPULSE_WINDOW_DAYS    etl.reprocess_window_days
	CIPULSE_FEATURE_WINDOW etl.feature_window_days
	CIPULSE_LOCK_BACKEND   lock.backend
	REDIS_ADDR             lock.redis_addr
	LOG_LEVEL              logging.level

Example config file:

	database:
	  path: /var/lib/cipulse/cipulse.duckdb
	staging:
	  dir: /var/lib/cipulse/staging
	etl:
	  project: "4711"
	  reprocess_window_days: 3
	lock:
	  backend: redis
	  redis_addr: redis:6379
*/
package config
