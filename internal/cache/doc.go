// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

/*
Package cache fronts online feature reads with an in-memory LRU.

LRU is a generic least recently used cache with a per-entry TTL and lazy
expiration. OnlineFeatures combines it with the online store and the
feature schema registry to serve GET /features/{entity} on the ops router.

# Usage

	online := cache.NewOnlineFeatures(db, registry, 1024, time.Minute)

	vec, err := online.Lookup(ctx, "42:unit", 0) // 0 = current schema
	switch {
	case errors.Is(err, models.ErrSchemaMismatch):
	    // unknown version, or stored under another version
	case vec == nil:
	    // never computed
	}

Keys include the schema version, so lookups for different versions of the
same entity never share an entry. Misses are not cached.

# Thread Safety

All methods are safe for concurrent use.
*/
package cache
