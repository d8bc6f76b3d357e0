// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package lock

import (
	"context"
	"time"
)

// NopLocker always grants the lease. Use it when the scheduler already
// guarantees a single writer.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (Lease, error) {
	return nopLease{}, nil
}

func (NopLocker) Backend() string { return BackendNone }
func (NopLocker) Close() error    { return nil }

type nopLease struct{}

func (nopLease) Token() string                 { return "" }
func (nopLease) Release(context.Context) error { return nil }
