// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package lock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
)

// BadgerLocker stores leases as TTL'd keys in a local badger store.
// Badger's directory lock also stops a second process from opening the
// same store, so two cipulse processes on one host cannot both run.
type BadgerLocker struct {
	db *badger.DB
}

// NewBadgerLocker opens the lease store at path. An empty path opens an
// in-memory store, which only excludes runs within this process.
func NewBadgerLocker(path string) (*BadgerLocker, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.ValueLogFileSize = 1 << 20
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger lock store %q: %w", path, err)
	}
	return &BadgerLocker{db: db}, nil
}

// Backend implements Locker.
func (l *BadgerLocker) Backend() string { return BackendBadger }

// Acquire takes key for ttl, or returns ErrHeld if an unexpired lease exists.
func (l *BadgerLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token := newToken()
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return ErrHeld
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), []byte(token)).WithTTL(ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		err = ErrHeld
	}
	if err != nil {
		if errors.Is(err, ErrHeld) {
			metrics.RecordLockAttempt(BackendBadger, "held")
			return nil, ErrHeld
		}
		metrics.RecordLockAttempt(BackendBadger, "error")
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	metrics.RecordLockAttempt(BackendBadger, "acquired")
	return &badgerLease{db: l.db, key: key, token: token}, nil
}

// Close closes the lease store.
func (l *BadgerLocker) Close() error {
	return l.db.Close()
}

type badgerLease struct {
	db    *badger.DB
	key   string
	token string
	once  sync.Once
	err   error
}

func (b *badgerLease) Token() string { return b.token }

// Release deletes the key only if it still carries this lease's token.
func (b *badgerLease) Release(_ context.Context) error {
	b.once.Do(func() {
		b.err = b.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(b.key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			owned := false
			if err := item.Value(func(val []byte) error {
				owned = bytes.Equal(val, []byte(b.token))
				return nil
			}); err != nil {
				return err
			}
			if !owned {
				logging.Warn().Str("key", b.key).Msg("Lease expired and was taken over before release")
				return nil
			}
			return txn.Delete([]byte(b.key))
		})
	})
	return b.err
}
