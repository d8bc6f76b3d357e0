// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/metrics"
)

// Archive moves files of source whose valid records are all at or before
// watermark into <source>/.consumed/. Files with no valid record are left
// in place for an operator to inspect. Returns the number of files moved.
func (l *Loader) Archive(ctx context.Context, source string, files []FileSummary, watermark time.Time) (int, error) {
	dest := filepath.Join(l.dir, source, ConsumedDir)
	moved := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		if f.Records == 0 || f.MaxTS.After(watermark) {
			continue
		}
		if moved == 0 {
			if err := os.MkdirAll(dest, 0o750); err != nil {
				return 0, fmt.Errorf("create archive dir %s: %w", dest, err)
			}
		}
		target := filepath.Join(dest, filepath.Base(f.Path))
		if err := os.Rename(f.Path, target); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return moved, fmt.Errorf("archive %s: %w", f.Path, err)
		}
		moved++
	}
	if moved > 0 {
		metrics.StagedFilesArchived.WithLabelValues(source).Add(float64(moved))
		logging.Ctx(ctx).Info().Str("source", source).Int("files", moved).Msg("Archived consumed staged files")
	}
	return moved, nil
}
