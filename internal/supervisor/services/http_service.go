// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/middleware"
	"github.com/tomtom215/cipulse/internal/models"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

// HTTPServer matches the *http.Server lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under suture. ListenAndServe runs
// in a goroutine; context cancellation triggers Shutdown bounded by
// shutdownTimeout.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPServerService wraps server. A non-positive shutdownTimeout means 10s.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "ops-http",
	}
}

// Serve implements suture.Service. http.ErrServerClosed is not an error.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The Serve context is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logs.
func (h *HTTPServerService) String() string {
	return h.name
}

// OpsStore is the read side the ops endpoints need.
type OpsStore interface {
	Ping(ctx context.Context) error
	LastRun(ctx context.Context) (*models.RunStats, error)
	ListRuns(ctx context.Context, limit int) ([]models.RunStats, error)
	ListWatermarks(ctx context.Context) ([]models.Watermark, error)
	GetPipeline(ctx context.Context, id int64) (*models.PipelineEvent, error)
}

// FeatureLookup reads one entity's online feature vector; version 0 means
// the current schema. *cache.OnlineFeatures implements it.
type FeatureLookup interface {
	Lookup(ctx context.Context, entityKey string, version int) (*models.FeatureVector, error)
}

// RouterOption configures NewOpsRouter.
type RouterOption func(*opsHandler)

// WithFeatureLookup enables GET /features/{entity}.
func WithFeatureLookup(lookup FeatureLookup) RouterOption {
	return func(h *opsHandler) { h.features = lookup }
}

type opsHandler struct {
	store    OpsStore
	features FeatureLookup
	start    time.Time
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewOpsRouter builds the ops endpoints:
//
//	GET /healthz      200 when the database answers, 503 otherwise
//	GET /metrics      Prometheus exposition
//	GET /runs/last    most recent run, 404 before the first
//	GET /runs?limit=N run history, newest first
//	GET /watermarks   per-source watermarks
//	GET /pipelines/{id} raw pipeline event with its staged payload
//
// With WithFeatureLookup it also serves
//
//	GET /features/{entity}?version=N  online feature vector, 404 when never computed
func NewOpsRouter(store OpsStore, opts ...RouterOption) http.Handler {
	h := &opsHandler{store: store, start: time.Now()}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/runs", h.runs)
	r.Get("/runs/last", h.lastRun)
	r.Get("/watermarks", h.watermarks)
	r.Get("/pipelines/{id}", h.pipeline)
	if h.features != nil {
		r.Get("/features/{entity}", h.onlineFeatures)
	}
	return r
}

func (h *opsHandler) healthz(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		logging.Warn().Err(err).Msg("Health check: database unreachable")
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":         status,
		"uptime_seconds": time.Since(h.start).Seconds(),
	})
}

func (h *opsHandler) lastRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.LastRun(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to read run history", err)
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No runs recorded yet", nil)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (h *opsHandler) runs(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxRunsLimit {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("limit must be an integer between 1 and %d", maxRunsLimit), nil)
			return
		}
		limit = n
	}
	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to read run history", err)
		return
	}
	if runs == nil {
		runs = []models.RunStats{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (h *opsHandler) watermarks(w http.ResponseWriter, r *http.Request) {
	wms, err := h.store.ListWatermarks(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to read watermarks", err)
		return
	}
	if wms == nil {
		wms = []models.Watermark{}
	}
	respondJSON(w, http.StatusOK, wms)
}

// rawPipeline is a stored pipeline with the payload it was ingested from.
type rawPipeline struct {
	*models.PipelineEvent
	Payload json.RawMessage `json:"payload"`
}

func (h *opsHandler) pipeline(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "id must be a positive integer", nil)
		return
	}
	p, err := h.store.GetPipeline(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to read pipeline", err)
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Pipeline %d not ingested", id), nil)
		return
	}
	body := rawPipeline{PipelineEvent: p}
	if json.Valid(p.Payload) {
		body.Payload = p.Payload
	}
	respondJSON(w, http.StatusOK, body)
}

func (h *opsHandler) onlineFeatures(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	version := 0
	if s := r.URL.Query().Get("version"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "version must be a non-negative integer", nil)
			return
		}
		version = n
	}

	vec, err := h.features.Lookup(r.Context(), entity, version)
	switch {
	case errors.Is(err, models.ErrSchemaMismatch):
		respondError(w, http.StatusConflict, "SCHEMA_MISMATCH", err.Error(), nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to read online features", err)
	case vec == nil:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No features computed for "+entity, nil)
	default:
		respondJSON(w, http.StatusOK, vec)
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Err(err).Str("code", code).Msg("Ops API error")
	}
	respondJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}
