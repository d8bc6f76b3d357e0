// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package models

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrSchemaMismatch reports a feature payload whose fields differ from the
// active FeatureSchema. Consumers must not score such a payload.
var ErrSchemaMismatch = errors.New("feature payload does not match schema")

// FeatureSchema is the model registry's description of a feature payload.
// Features is the authoritative field list and order.
type FeatureSchema struct {
	Version    int               `json:"version" yaml:"version"`
	Features   []string          `json:"features" yaml:"features"`
	DTypes     map[string]string `json:"dtypes,omitempty" yaml:"dtypes,omitempty"`
	Transforms map[string]string `json:"transforms,omitempty" yaml:"transforms,omitempty"`
}

// Validate checks the schema is usable: positive version, non-empty and
// duplicate-free feature list, dtypes and transforms only for listed features.
func (s *FeatureSchema) Validate() error {
	if s.Version <= 0 {
		return fmt.Errorf("feature schema version must be positive, got %d", s.Version)
	}
	if len(s.Features) == 0 {
		return fmt.Errorf("feature schema v%d lists no features", s.Version)
	}
	seen := make(map[string]struct{}, len(s.Features))
	for _, f := range s.Features {
		if f == "" {
			return fmt.Errorf("feature schema v%d has an empty feature name", s.Version)
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("feature schema v%d lists %q twice", s.Version, f)
		}
		seen[f] = struct{}{}
	}
	for name := range s.DTypes {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("feature schema v%d: dtype for unlisted feature %q", s.Version, name)
		}
	}
	for name := range s.Transforms {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("feature schema v%d: transform for unlisted feature %q", s.Version, name)
		}
	}
	return nil
}

// FeatureValue is one named feature.
type FeatureValue struct {
	Name  string
	Value float64
}

// FeatureVector is one entity's features for one schema version.
// Values are kept in schema order.
type FeatureVector struct {
	EntityKey      string         `json:"entity_key"`
	FeatureVersion int            `json:"feature_version"`
	EventTime      time.Time      `json:"event_time"`
	Values         []FeatureValue `json:"-"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
}

// Get returns the named feature value.
func (v *FeatureVector) Get(name string) (float64, bool) {
	for _, fv := range v.Values {
		if fv.Name == name {
			return fv.Value, true
		}
	}
	return 0, false
}

// Map returns the values keyed by feature name.
func (v *FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.Values))
	for _, fv := range v.Values {
		m[fv.Name] = fv.Value
	}
	return m
}

// MarshalPayload encodes Values as a JSON object with keys in schema order.
// Identical values always produce identical bytes.
func (v *FeatureVector) MarshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fv := range v.Values {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(fv.Name)
		if err != nil {
			return nil, fmt.Errorf("encode feature name %q: %w", fv.Name, err)
		}
		val, err := json.Marshal(fv.Value)
		if err != nil {
			return nil, fmt.Errorf("encode feature %q: %w", fv.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders the vector with its payload inlined as "features".
func (v FeatureVector) MarshalJSON() ([]byte, error) {
	payload, err := v.MarshalPayload()
	if err != nil {
		return nil, err
	}
	type alias FeatureVector
	return json.Marshal(struct {
		alias
		Features json.RawMessage `json:"features"`
	}{alias: alias(v), Features: payload})
}

// DecodePayload parses a stored payload against schema. The payload's key
// set must equal schema.Features exactly; otherwise ErrSchemaMismatch.
func DecodePayload(payload []byte, schema *FeatureSchema) ([]FeatureValue, error) {
	var raw map[string]float64
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: payload is not a numeric object: %v", ErrSchemaMismatch, err)
	}
	if len(raw) != len(schema.Features) {
		return nil, fmt.Errorf("%w: payload has %d fields, schema v%d expects %d",
			ErrSchemaMismatch, len(raw), schema.Version, len(schema.Features))
	}
	values := make([]FeatureValue, 0, len(schema.Features))
	for _, name := range schema.Features {
		val, ok := raw[name]
		if !ok {
			return nil, fmt.Errorf("%w: payload lacks %q required by schema v%d", ErrSchemaMismatch, name, schema.Version)
		}
		values = append(values, FeatureValue{Name: name, Value: val})
	}
	return values, nil
}
