// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

// Package metrics registers the Prometheus collectors exported on /metrics.
//
// Collectors are package-level promauto variables; callers use the Record*
// helpers so label sets stay consistent. All metric names carry the
// cipulse_ prefix.
package metrics
