// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tomtom215/cipulse/internal/metrics"
)

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker grants leases with SET NX PX, for schedules spread across hosts.
type RedisLocker struct {
	client  goredis.UniversalClient
	release *goredis.Script
}

// NewRedisLocker connects to the Redis server at addr.
func NewRedisLocker(addr string) (*RedisLocker, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return NewRedisLockerFromClient(client), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(client goredis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, release: goredis.NewScript(releaseScript)}
}

// Backend implements Locker.
func (l *RedisLocker) Backend() string { return BackendRedis }

// Acquire takes key for ttl, or returns ErrHeld if it is already set.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := newToken()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		metrics.RecordLockAttempt(BackendRedis, "error")
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		metrics.RecordLockAttempt(BackendRedis, "held")
		return nil, ErrHeld
	}
	metrics.RecordLockAttempt(BackendRedis, "acquired")
	return &redisLease{locker: l, key: key, token: token}, nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
	once   sync.Once
	err    error
}

func (r *redisLease) Token() string { return r.token }

func (r *redisLease) Release(ctx context.Context) error {
	r.once.Do(func() {
		if err := r.locker.release.Run(ctx, r.locker.client, []string{r.key}, r.token).Err(); err != nil {
			r.err = fmt.Errorf("release %s: %w", r.key, err)
		}
	})
	return r.err
}
