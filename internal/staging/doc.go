// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

/*
Package staging reads the JSON batches a CI collector drops on disk.

Layout:

	<staging.dir>/pipelines/*.ndjson|*.jsonl|*.json
	<staging.dir>/jobs/*.ndjson|*.jsonl|*.json

Line-delimited files carry one JSON object per line; .json files carry a
JSON array. Files are parsed concurrently with a bounded errgroup and merged
into one slice ordered by (watermark timestamp, id), so the result does not
depend on file names or worker scheduling.

Records that cannot be decoded, fail validation or carry an unparsable
timestamp are skipped and counted by reason. Only I/O failures abort a load.
All reads go through a gobreaker circuit breaker.
*/
package staging
