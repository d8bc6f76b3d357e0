// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package featureschema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/models"
)

// ErrUnknownVersion is returned by Get for a version the registry does not hold.
var ErrUnknownVersion = errors.New("unknown feature schema version")

var schemaFileRE = regexp.MustCompile(`^feature_schema_v([0-9]+)\.(json|ya?ml)$`)

// BuiltinV1 is used when no registry directory is configured.
func BuiltinV1() *models.FeatureSchema {
	features := []string{"dur_total", "stage_build", "stage_test", "stage_deploy", "fail_rate", "max_retries"}
	dtypes := make(map[string]string, len(features))
	for _, f := range features {
		dtypes[f] = "float64"
	}
	return &models.FeatureSchema{Version: 1, Features: features, DTypes: dtypes}
}

// Registry is a read-only set of feature schemas keyed by version.
type Registry struct {
	schemas map[int]*models.FeatureSchema
	current int
}

// fileSchema is the on-disk layout. Older files list the feature order
// under "order" instead of "features".
type fileSchema struct {
	Version    int               `json:"version" yaml:"version"`
	Features   []string          `json:"features" yaml:"features"`
	Order      []string          `json:"order" yaml:"order"`
	DTypes     map[string]string `json:"dtypes" yaml:"dtypes"`
	Transforms map[string]string `json:"transforms" yaml:"transforms"`
}

// Load reads every feature_schema_v<N>.{json,yaml,yml} file in dir. An empty
// dir yields a registry holding only the built-in v1 schema.
func Load(dir string) (*Registry, error) {
	if dir == "" {
		return NewRegistry(BuiltinV1())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read feature schema dir %s: %w", dir, err)
	}

	var schemas []*models.FeatureSchema
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := schemaFileRE.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		fileVersion, _ := strconv.Atoi(m[1])
		s, err := loadFile(filepath.Join(dir, entry.Name()), m[2])
		if err != nil {
			return nil, err
		}
		if s.Version == 0 {
			s.Version = fileVersion
		}
		if s.Version != fileVersion {
			return nil, fmt.Errorf("%s declares version %d", entry.Name(), s.Version)
		}
		schemas = append(schemas, s)
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no feature schema files in %s", dir)
	}

	reg, err := NewRegistry(schemas...)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("dir", dir).Ints("versions", reg.Versions()).Int("current", reg.current).Msg("Feature schemas loaded")
	return reg, nil
}

func loadFile(path, ext string) (*models.FeatureSchema, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the configured registry dir
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var fs fileSchema
	if strings.EqualFold(ext, "json") {
		err = json.Unmarshal(data, &fs)
	} else {
		err = yaml.Unmarshal(data, &fs)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	features := fs.Features
	if len(features) == 0 {
		features = fs.Order
	}
	return &models.FeatureSchema{
		Version:    fs.Version,
		Features:   features,
		DTypes:     fs.DTypes,
		Transforms: fs.Transforms,
	}, nil
}

// NewRegistry builds a registry from validated schemas. The highest version
// becomes current.
func NewRegistry(schemas ...*models.FeatureSchema) (*Registry, error) {
	reg := &Registry{schemas: make(map[int]*models.FeatureSchema, len(schemas))}
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := reg.schemas[s.Version]; dup {
			return nil, fmt.Errorf("feature schema v%d defined twice", s.Version)
		}
		reg.schemas[s.Version] = s
		if s.Version > reg.current {
			reg.current = s.Version
		}
	}
	if len(reg.schemas) == 0 {
		return nil, errors.New("feature schema registry is empty")
	}
	return reg, nil
}

// Get returns the schema for version; 0 means the current version.
func (r *Registry) Get(version int) (*models.FeatureSchema, error) {
	if version == 0 {
		version = r.current
	}
	s, ok := r.schemas[version]
	if !ok {
		return nil, fmt.Errorf("%w: v%d", ErrUnknownVersion, version)
	}
	return s, nil
}

// Current returns the highest registered schema.
func (r *Registry) Current() *models.FeatureSchema {
	return r.schemas[r.current]
}

// Versions lists registered versions in ascending order.
func (r *Registry) Versions() []int {
	out := make([]int, 0, len(r.schemas))
	for v := range r.schemas {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
