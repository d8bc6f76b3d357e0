// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

/*
database_utils.go - Database Utility Functions

Context Management:
  - ensureContext(): applies a 30-second timeout when the caller set no deadline

Write Retry:
  - withConflictRetry(): re-runs a transactional write on DuckDB write-write
    conflicts with exponential backoff (1ms, 2ms, 4ms, ...)

Maintenance:
  - Checkpoint(): forces a WAL checkpoint
  - TableCounts(): row counts for the ETL tables
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
)

const (
	defaultQueryTimeout = 30 * time.Second
	maxConflictRetries  = 5
)

// ensureContext creates a context with 30-second timeout if none provided.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), defaultQueryTimeout)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, defaultQueryTimeout)
	}
	return ctx, func() {}
}

// withConflictRetry runs fn until it succeeds, fails with a non-conflict
// error, or the retry budget is spent. fn must be a complete transaction.
func withConflictRetry(ctx context.Context, table string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("operation timed out or canceled: %w", err)
		}
		if isInternalError(err) || !isTransactionConflict(err) {
			return err
		}

		metrics.DBTransactionRetries.WithLabelValues(table).Inc()
		backoff := time.Millisecond * time.Duration(1<<uint(attempt))
		logging.Debug().Str("table", table).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("Transaction conflict, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Checkpoint forces a WAL checkpoint.
func (db *DB) Checkpoint(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// TableCounts returns the row count of every ETL table.
func (db *DB) TableCounts(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	counts := make(map[string]int64, len(etlTables))
	for _, table := range etlTables {
		var n int64
		// Table names come from a fixed internal list.
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
