// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

// Package middleware provides HTTP middleware for the ops endpoints.
//
// PrometheusMetrics instruments a chi router:
//
//	r := chi.NewRouter()
//	r.Use(middleware.PrometheusMetrics)
//
// Metrics are labelled by chi route pattern so path parameters do not
// create new series.
package middleware
