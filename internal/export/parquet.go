// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/tomtom215/cipulse/internal/database"
	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
)

// OfflineSource lists offline feature rows.
type OfflineSource interface {
	ListOfflineFeatures(ctx context.Context, filter database.OfflineFilter) ([]database.OfflineFeatureRow, error)
}

// SchemaSource resolves feature schemas by version.
type SchemaSource interface {
	Get(version int) (*models.FeatureSchema, error)
}

// featureCell is one named feature value, kept in schema order.
type featureCell struct {
	Name  string  `parquet:"name"`
	Value float64 `parquet:"value"`
}

// offlineRow is the Parquet row layout. Timestamps are Unix microseconds, UTC.
type offlineRow struct {
	EntityKey      string        `parquet:"entity_key"`
	EntityGroup    string        `parquet:"entity_group"`
	EntityName     string        `parquet:"entity_name"`
	FeatureVersion int32         `parquet:"feature_version"`
	EventTime      int64         `parquet:"event_time"`
	UpdatedAt      int64         `parquet:"updated_at"`
	Features       []featureCell `parquet:"features"`
}

// Exporter writes offline feature rows as Parquet.
type Exporter struct {
	store   OfflineSource
	schemas SchemaSource
}

// NewExporter creates an exporter decoding payloads with schemas.
func NewExporter(store OfflineSource, schemas SchemaSource) *Exporter {
	return &Exporter{store: store, schemas: schemas}
}

// Write encodes the offline rows matching filter to w with Snappy
// compression. A row whose version is not registered, or whose payload
// does not fit its schema, aborts the export with models.ErrSchemaMismatch.
// Returns the number of rows written.
func (e *Exporter) Write(ctx context.Context, w io.Writer, filter database.OfflineFilter) (int, error) {
	stored, err := e.store.ListOfflineFeatures(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list offline features: %w", err)
	}

	rows := make([]offlineRow, 0, len(stored))
	for i := range stored {
		row, err := e.toRow(&stored[i])
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	pw := parquet.NewGenericWriter[offlineRow](w, parquet.Compression(&parquet.Snappy))
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			return 0, fmt.Errorf("parquet write rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return 0, fmt.Errorf("parquet close: %w", err)
	}
	metrics.OfflineRowsExported.Add(float64(len(rows)))
	return len(rows), nil
}

// WriteFile exports to path through a temporary file in the same
// directory, so readers never see a partial file.
func (e *Exporter) WriteFile(ctx context.Context, path string, filter database.OfflineFilter) (n int, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create export directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*.parquet")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err = e.Write(ctx, tmp, filter)
	if err != nil {
		return 0, err
	}
	if err = tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync export: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("close export: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("publish export: %w", err)
	}

	logging.Info().
		Str("path", path).
		Int("rows", n).
		Int("feature_version", filter.Version).
		Msg("Offline features exported")
	return n, nil
}

func (e *Exporter) toRow(r *database.OfflineFeatureRow) (offlineRow, error) {
	schema, err := e.schemas.Get(r.FeatureVersion)
	if err != nil {
		return offlineRow{}, fmt.Errorf("%w: %s v%d: %v", models.ErrSchemaMismatch, r.EntityKey, r.FeatureVersion, err)
	}
	if schema.Version != r.FeatureVersion {
		return offlineRow{}, fmt.Errorf("%w: %s stored as v%d, registry resolved v%d",
			models.ErrSchemaMismatch, r.EntityKey, r.FeatureVersion, schema.Version)
	}
	values, err := models.DecodePayload(r.Payload, schema)
	if err != nil {
		return offlineRow{}, fmt.Errorf("%s v%d: %w", r.EntityKey, r.FeatureVersion, err)
	}

	group, name := models.SplitEntityKey(r.EntityKey)
	cells := make([]featureCell, len(values))
	for i, v := range values {
		cells[i] = featureCell{Name: v.Name, Value: v.Value}
	}
	return offlineRow{
		EntityKey:      r.EntityKey,
		EntityGroup:    group,
		EntityName:     name,
		FeatureVersion: int32(r.FeatureVersion), //nolint:gosec // versions are small positive ints
		EventTime:      r.EventTime.UTC().UnixMicro(),
		UpdatedAt:      r.UpdatedAt.UTC().UnixMicro(),
		Features:       cells,
	}, nil
}

// ErrVerify means a published export does not hold the rows written to it.
var ErrVerify = errors.New("export verification failed")

// VerifyFile re-reads a published export and checks it holds want rows
// that all decode against a registered schema version.
func VerifyFile(path string, want int, schemas SchemaSource) error {
	rows, err := ReadRows(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrVerify, path, err)
	}
	if len(rows) != want {
		return fmt.Errorf("%w: %s holds %d rows, wrote %d", ErrVerify, path, len(rows), want)
	}
	for i := range rows {
		schema, err := schemas.Get(rows[i].FeatureVersion)
		if err != nil {
			return fmt.Errorf("%w: %s v%d: %w", ErrVerify, rows[i].EntityKey, rows[i].FeatureVersion, err)
		}
		if len(rows[i].Values) != len(schema.Features) {
			return fmt.Errorf("%w: %s v%d has %d features, schema has %d", ErrVerify,
				rows[i].EntityKey, rows[i].FeatureVersion, len(rows[i].Values), len(schema.Features))
		}
	}
	return nil
}

// ReadRows decodes an exported file.
func ReadRows(path string) ([]models.FeatureVector, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("parquet open: %w", err)
	}

	r := parquet.NewGenericReader[offlineRow](pf)
	defer func() { _ = r.Close() }()
	rows := make([]offlineRow, r.NumRows())
	n, err := r.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parquet read: %w", err)
	}

	out := make([]models.FeatureVector, 0, n)
	for _, row := range rows[:n] {
		v := models.FeatureVector{
			EntityKey:      row.EntityKey,
			FeatureVersion: int(row.FeatureVersion),
			EventTime:      time.UnixMicro(row.EventTime).UTC(),
			UpdatedAt:      time.UnixMicro(row.UpdatedAt).UTC(),
			Values:         make([]models.FeatureValue, len(row.Features)),
		}
		for i, c := range row.Features {
			v.Values[i] = models.FeatureValue{Name: c.Name, Value: c.Value}
		}
		out = append(out, v)
	}
	return out, nil
}
