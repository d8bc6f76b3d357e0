// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

// Command cipulse ingests CI/CD pipeline and job events, recomputes daily
// job metrics and publishes per-entity feature vectors for anomaly models.
//
// # Commands
//
//	cipulse run             one orchestrator pass
//	cipulse serve           scheduled runs plus /healthz, /metrics, /runs/last
//	cipulse export-offline  offline feature store to Parquet
//	cipulse watermarks      per-source watermarks and the last run
//
// # Configuration
//
// Configuration is loaded via koanf with layered sources (highest priority wins):
//   - Command-line flags
//   - Environment variables (CIPULSE_DB_PATH, CIPULSE_WINDOW_DAYS, LOG_LEVEL, ...)
//   - Config file (--config, CONFIG_PATH, ./cipulse.yaml, /etc/cipulse/config.yaml)
//   - Built-in defaults
//
// # Exit Codes
//
// 0 on success, 1 on any failure, including a run skipped because another
// run holds the lock.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "cipulse",
		Short: "CI/CD pipeline analytics and anomaly features",
		Long: `CIPulse appends staged pipeline and job events to DuckDB, recomputes
daily job metrics over a sliding window and publishes per-entity feature
vectors to an offline (history) and online (latest) store.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (overrides CONFIG_PATH)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "DuckDB database path (overrides database.path)")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newExportCmd(opts),
		newWatermarksCmd(opts),
	)
	return root
}
