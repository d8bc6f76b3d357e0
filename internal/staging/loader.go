// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package staging

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/cipulse/internal/config"
	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
	"github.com/tomtom215/cipulse/internal/models"
)

// ConsumedDir is the per-source subdirectory that archived files move into.
const ConsumedDir = ".consumed"

const maxLineBytes = 16 << 20

// FileSummary describes one staged file read during a load.
type FileSummary struct {
	Path string
	// MaxTS is the newest watermark timestamp among the file's valid records.
	MaxTS time.Time
	// Records counts valid records, including those at or before the watermark.
	Records int
	Skipped int
}

// Batch is the result of loading one source.
type Batch[T any] struct {
	// Events holds records newer than the watermark, sorted by (timestamp, id).
	Events []T
	// Stale counts valid records at or before the watermark.
	Stale int
	// Skipped counts malformed records by reason.
	Skipped map[string]int
	Files   []FileSummary
}

// SkippedTotal returns the number of malformed records.
func (b *Batch[T]) SkippedTotal() int {
	n := 0
	for _, c := range b.Skipped {
		n += c
	}
	return n
}

// MaxTS returns the newest event timestamp in the batch, or nil when empty.
func (b *Batch[T]) MaxTS(ts func(*T) time.Time) *time.Time {
	if len(b.Events) == 0 {
		return nil
	}
	last := ts(&b.Events[len(b.Events)-1])
	return &last
}

// Loader reads collector batches staged under <dir>/<source>/.
type Loader struct {
	dir            string
	workers        int
	defaultProject string
	breaker        *ReadBreaker
}

// NewLoader creates a loader for the configured staging directory.
// defaultProject is used for records that carry no project id.
func NewLoader(cfg *config.StagingConfig, defaultProject string, breaker *ReadBreaker) *Loader {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if breaker == nil {
		breaker = NewReadBreaker(DefaultBreakerSettings())
	}
	return &Loader{
		dir:            cfg.Dir,
		workers:        workers,
		defaultProject: defaultProject,
		breaker:        breaker,
	}
}

// Dir returns the staging root.
func (l *Loader) Dir() string {
	return l.dir
}

// LoadPipelines returns staged pipeline events updated strictly after since.
// A nil since returns every valid event.
func (l *Loader) LoadPipelines(ctx context.Context, since *time.Time) (*Batch[models.PipelineEvent], error) {
	batch, err := load(ctx, l, models.SourcePipelines, since, decodePipeline,
		(*models.PipelineEvent).WatermarkTime,
		func(e *models.PipelineEvent) int64 { return e.ID })
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// LoadJobs returns staged job events created strictly after since.
// A nil since returns every valid event.
func (l *Loader) LoadJobs(ctx context.Context, since *time.Time) (*Batch[models.JobEvent], error) {
	batch, err := load(ctx, l, models.SourceJobs, since, decodeJob,
		(*models.JobEvent).WatermarkTime,
		func(e *models.JobEvent) int64 { return e.ID })
	if err != nil {
		return nil, err
	}
	return batch, nil
}

type fileResult[T any] struct {
	events  []T
	summary FileSummary
	stale   int
	skipped map[string]int
}

func load[T any](
	ctx context.Context,
	l *Loader,
	source string,
	since *time.Time,
	decode func([]byte, string) (T, error),
	tsOf func(*T) time.Time,
	idOf func(*T) int64,
) (*Batch[T], error) {
	files, err := l.listFiles(source)
	if err != nil {
		return nil, err
	}

	results := make([]fileResult[T], len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := parseFile(l, path, since, decode, tsOf)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}

	batch := &Batch[T]{Skipped: make(map[string]int)}
	for _, res := range results {
		batch.Events = append(batch.Events, res.events...)
		batch.Stale += res.stale
		for reason, n := range res.skipped {
			batch.Skipped[reason] += n
		}
		batch.Files = append(batch.Files, res.summary)
	}
	sort.SliceStable(batch.Events, func(i, j int) bool {
		ti, tj := tsOf(&batch.Events[i]), tsOf(&batch.Events[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idOf(&batch.Events[i]) < idOf(&batch.Events[j])
	})

	for reason, n := range batch.Skipped {
		metrics.RecordSkipped(source, reason, n)
	}
	logging.Ctx(ctx).Debug().
		Str("source", source).
		Int("files", len(files)).
		Int("events", len(batch.Events)).
		Int("stale", batch.Stale).
		Int("skipped", batch.SkippedTotal()).
		Msg("Staged files loaded")
	return batch, nil
}

// listFiles returns the staged files of source in name order. A missing
// source directory means nothing has been staged yet.
func (l *Loader) listFiles(source string) ([]string, error) {
	dir := filepath.Join(l.dir, source)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list staging dir %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".ndjson", ".jsonl", ".json":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// parseFile decodes every record of one staged file. Malformed records are
// counted and skipped; only I/O failures are returned.
func parseFile[T any](
	l *Loader,
	path string,
	since *time.Time,
	decode func([]byte, string) (T, error),
	tsOf func(*T) time.Time,
) (fileResult[T], error) {
	res := fileResult[T]{
		summary: FileSummary{Path: path},
		skipped: make(map[string]int),
	}

	data, err := l.breaker.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	records, err := splitRecords(path, data)
	if err != nil {
		logging.Warn().Err(err).Str("file", path).Msg("Staged file is not a JSON array, skipping")
		res.skipped[reasonDecode]++
		res.summary.Skipped++
		return res, nil
	}

	for _, raw := range records {
		event, err := decode(raw, l.defaultProject)
		if err != nil {
			var rerr *recordError
			if !errors.As(err, &rerr) {
				return res, err
			}
			res.skipped[rerr.reason]++
			res.summary.Skipped++
			logging.Debug().Err(err).Str("file", path).Msg("Skipping malformed staged record")
			continue
		}

		ts := tsOf(&event)
		res.summary.Records++
		if ts.After(res.summary.MaxTS) {
			res.summary.MaxTS = ts
		}
		if since != nil && !ts.After(*since) {
			res.stale++
			continue
		}
		res.events = append(res.events, event)
	}
	return res, nil
}

// splitRecords returns the raw JSON objects of a staged file: one per
// non-blank line for .ndjson/.jsonl, array elements for .json.
func splitRecords(path string, data []byte) ([][]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		records := make([][]byte, len(items))
		for i, item := range items {
			records[i] = []byte(item)
		}
		return records, nil
	}

	var records [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		records = append(records, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
