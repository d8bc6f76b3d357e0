// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

// Package export writes the offline feature store to Parquet for model
// training. Each row's payload is decoded against the schema of its own
// feature version, so a file never mixes an unknown layout in silently.
package export
