// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

// Package featureschema loads the versioned feature schemas published by the
// model registry. Files are named feature_schema_v<N>.json or .yaml and are
// never written by the ETL.
package featureschema
