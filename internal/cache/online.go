// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
)

// OnlineStore reads the latest feature vector for an entity.
// *database.DB implements it.
type OnlineStore interface {
	GetOnlineFeatures(ctx context.Context, entityKey string, schema *models.FeatureSchema) (*models.FeatureVector, error)
}

// SchemaSource resolves a feature schema version; 0 means current.
type SchemaSource interface {
	Get(version int) (*models.FeatureSchema, error)
}

// OnlineFeatures serves online feature lookups through an LRU. Only found
// vectors are cached, so an entity computed after a miss shows up on the
// next lookup. A cached vector may lag a later run by up to the TTL.
type OnlineFeatures struct {
	store   OnlineStore
	schemas SchemaSource
	lru     *LRU[*models.FeatureVector]
}

// NewOnlineFeatures wraps store. A non-positive capacity disables caching.
func NewOnlineFeatures(store OnlineStore, schemas SchemaSource, capacity int, ttl time.Duration) *OnlineFeatures {
	o := &OnlineFeatures{store: store, schemas: schemas}
	if capacity > 0 {
		o.lru = NewLRU[*models.FeatureVector](capacity, ttl)
	}
	return o
}

// Lookup returns the entity's online vector decoded against version.
// It returns nil, nil for an entity that was never computed. An unknown
// version or a vector stored under another version yields an error
// wrapping models.ErrSchemaMismatch.
func (o *OnlineFeatures) Lookup(ctx context.Context, entityKey string, version int) (*models.FeatureVector, error) {
	schema, err := o.schemas.Get(version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSchemaMismatch, err)
	}

	key := entityKey + "@v" + strconv.Itoa(schema.Version)
	if o.lru != nil {
		if v, ok := o.lru.Get(key); ok {
			metrics.OnlineCacheLookups.WithLabelValues("hit").Inc()
			return v, nil
		}
		metrics.OnlineCacheLookups.WithLabelValues("miss").Inc()
	}

	v, err := o.store.GetOnlineFeatures(ctx, entityKey, schema)
	if err != nil {
		return nil, err
	}
	if v != nil && o.lru != nil {
		o.lru.Add(key, v)
	}
	return v, nil
}

// Purge drops every cached vector.
func (o *OnlineFeatures) Purge() {
	if o.lru != nil {
		o.lru.Purge()
	}
}
