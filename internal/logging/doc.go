// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

// Package logging provides the zerolog-based structured logger shared by every
// CIPulse component.
//
// A global logger is configured once at startup with Init and accessed through
// package-level helpers:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("source", "jobs").Int("inserted", n).Msg("Raw batch appended")
//
// ETL runs attach a run ID and the current orchestrator stage to the context;
// Ctx returns a logger that carries both fields:
//
//	ctx = logging.ContextWithRunID(ctx, runID)
//	logging.Ctx(ctx).Warn().Err(err).Msg("Stage failed")
//
// SlogHandler adapts the global logger to log/slog for libraries such as
// sutureslog that require a *slog.Logger.
//
// Environment variables read by the config package:
//
//	LOG_LEVEL   trace, debug, info, warn, error (default: info)
//	LOG_FORMAT  json, console (default: json)
//	LOG_CALLER  true, false (default: false)
package logging
