// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

/*
Package etl runs the CIPulse pipeline: staged collector batches are
appended to the raw tables, daily job metrics are recomputed over a
sliding window, and per-entity feature vectors are published to the
offline and online stores.

# Run lifecycle

A run is a small state machine:

	idle -> load_pipelines -> load_jobs -> aggregate -> build_features -> done
	                    \___________\__________\______________\-> failed

Each source's watermark advances only after its batch committed, so a
failed run can be retried as is. Raw inserts ignore duplicate ids and
aggregation replaces whole (project, job, day) rows, which makes reruns
idempotent.

# Usage

	o := etl.NewOrchestrator(cfg, db, loader, registry, locker)
	stats, err := o.Run(ctx, etl.DefaultParams(&cfg.ETL))
	if errors.Is(err, etl.ErrRunInProgress) {
	    // another run holds the lock
	}
*/
package etl
