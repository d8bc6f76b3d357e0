// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cipulse_duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_duckdb_query_errors_total",
			Help: "Total number of failed DuckDB operations",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBTransactionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_duckdb_transaction_retries_total",
			Help: "Transactions retried after a DuckDB write-write conflict",
		},
		[]string{"table"},
	)

	// ETL Run Metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_etl_runs_total",
			Help: "Orchestrator runs by terminal state",
		},
		[]string{"state"}, // "done", "failed", "skipped"
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cipulse_etl_run_duration_seconds",
			Help:    "Wall time of orchestrator runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	RunLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cipulse_etl_last_success_timestamp_seconds",
			Help: "Unix time of the last run that reached Done",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cipulse_etl_stage_duration_seconds",
			Help:    "Wall time per orchestrator stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_etl_stage_failures_total",
			Help: "Stage executions that moved the run to Failed",
		},
		[]string{"stage"},
	)

	// Ingestion Metrics
	RawEventsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_raw_events_read_total",
			Help: "Staged events newer than the watermark",
		},
		[]string{"source"},
	)

	RawEventsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_raw_events_inserted_total",
			Help: "Raw rows newly appended (duplicates excluded)",
		},
		[]string{"source"},
	)

	RawEventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_raw_events_skipped_total",
			Help: "Malformed staged records skipped",
		},
		[]string{"source", "reason"}, // "decode", "invalid", "timestamp"
	)

	Watermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cipulse_watermark_timestamp_seconds",
			Help: "Current watermark per source as Unix time",
		},
		[]string{"source"},
	)

	StagedFilesArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_staged_files_archived_total",
			Help: "Fully consumed staged files moved to .consumed",
		},
		[]string{"source"},
	)

	// Derived Data Metrics
	MetricsRowsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cipulse_daily_metrics_upserted_total",
			Help: "Daily metric rows upserted",
		},
	)

	FeaturesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_features_written_total",
			Help: "Entity feature vectors written to both stores",
		},
		[]string{"feature_version"},
	)

	// Run Lock Metrics
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_run_lock_acquisitions_total",
			Help: "Run lock acquisition attempts by backend and result",
		},
		[]string{"backend", "result"}, // "acquired", "held", "error"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cipulse_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Export Metrics
	OfflineRowsExported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cipulse_offline_rows_exported_total",
			Help: "Offline feature rows written to Parquet",
		},
	)

	// Online Feature Cache Metrics
	OnlineCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_online_cache_lookups_total",
			Help: "Online feature lookups by cache result",
		},
		[]string{"result"}, // hit, miss
	)

	// Ops HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipulse_ops_http_requests_total",
			Help: "Ops endpoint requests by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cipulse_ops_http_request_duration_seconds",
			Help:    "Ops endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cipulse_ops_http_active_requests",
			Help: "Ops requests in flight",
		},
	)
)

// RecordDBQuery records a database operation.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table, classifyError(err)).Inc()
	}
}

// classifyError buckets errors into a small fixed label set.
func classifyError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "context canceled"):
		return "timeout"
	case strings.Contains(msg, "conflict"):
		return "conflict"
	case strings.Contains(msg, "constraint"):
		return "constraint"
	default:
		return "other"
	}
}

// RecordRun records the terminal state and duration of a run.
func RecordRun(state string, duration time.Duration) {
	RunsTotal.WithLabelValues(state).Inc()
	RunDuration.Observe(duration.Seconds())
	if state == "done" {
		RunLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordStage records a stage duration and, on error, a failure.
func RecordStage(stage string, duration time.Duration, err error) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		StageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordIngest records the outcome of one source load.
func RecordIngest(source string, read, inserted int) {
	RawEventsRead.WithLabelValues(source).Add(float64(read))
	RawEventsInserted.WithLabelValues(source).Add(float64(inserted))
}

// RecordSkipped records malformed staged records by reason.
func RecordSkipped(source, reason string, n int) {
	if n > 0 {
		RawEventsSkipped.WithLabelValues(source, reason).Add(float64(n))
	}
}

// SetWatermark publishes a source watermark.
func SetWatermark(source string, ts time.Time) {
	Watermark.WithLabelValues(source).Set(float64(ts.Unix()))
}

// RecordLockAttempt records a run lock acquisition attempt.
func RecordLockAttempt(backend, result string) {
	LockAcquisitions.WithLabelValues(backend, result).Inc()
}

// RecordHTTPRequest records one ops endpoint request.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
