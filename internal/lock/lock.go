// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/cipulse/internal/config"
)

// ErrHeld is returned by Acquire when another owner holds the lock.
var ErrHeld = errors.New("lock is held by another owner")

// Backend names, matching config lock.backend.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Token() string
	Release(ctx context.Context) error
}

// Locker grants exclusive, expiring leases on a key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	Backend() string
	Close() error
}

// New creates the locker selected by cfg.Backend.
func New(cfg *config.LockConfig) (Locker, error) {
	switch cfg.Backend {
	case BackendBadger:
		return NewBadgerLocker(cfg.Path)
	case BackendRedis:
		return NewRedisLocker(cfg.RedisAddr)
	case BackendNone, "":
		return NopLocker{}, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

func newToken() string {
	return uuid.NewString()
}
