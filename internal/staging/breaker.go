// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package staging

import (
	"errors"
	"os"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
)

// BreakerName labels the staging breaker in metrics.
const BreakerName = "staging-fs"

// ReadBreaker guards reads of the staging directory, which is usually a
// network mount shared with the collector. When reads keep failing the
// breaker opens and later runs fail fast instead of stalling on I/O.
type ReadBreaker struct {
	cb *gobreaker.CircuitBreaker[[]byte]
}

// BreakerSettings tunes the read breaker.
type BreakerSettings struct {
	// MinRequests is the number of reads observed before the breaker may trip.
	MinRequests uint32
	// FailureRatio opens the breaker once failures/requests reaches it.
	FailureRatio float64
	// OpenTimeout is how long the breaker stays open before a trial read.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns the production breaker tuning.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:  5,
		FailureRatio: 0.6,
		OpenTimeout:  time.Minute,
	}
}

// NewReadBreaker creates a breaker around staged file reads.
func NewReadBreaker(s BreakerSettings) *ReadBreaker {
	metrics.CircuitBreakerState.WithLabelValues(BreakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        BreakerName,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRatio {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", ratio).Msg("Opening staging read breaker")
				return true
			}
			return false
		},
		// A missing file is the collector rotating it away, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, os.ErrNotExist)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &ReadBreaker{cb: cb}
}

// ReadFile reads path through the breaker.
func (b *ReadBreaker) ReadFile(path string) ([]byte, error) {
	data, err := b.cb.Execute(func() ([]byte, error) {
		return os.ReadFile(path) //nolint:gosec // path is built from the configured staging dir
	})
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(BreakerName, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(BreakerName, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(BreakerName, "failure").Inc()
	}
	return data, err
}

// State returns the current breaker state.
func (b *ReadBreaker) State() gobreaker.State {
	return b.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
