// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

/*
Package services provides suture.Service wrappers for `cipulse serve`.

Each wrapper translates a component's lifecycle into suture's
Serve(ctx) error pattern and implements fmt.Stringer so supervisor events
name the service.

# Available Services

ScheduleService:
  - Triggers orchestrator runs from a robfig/cron spec (UTC)
  - Never overlaps runs in this process (cron.SkipIfStillRunning); the run
    lock covers other processes
  - Optionally runs once at start

HTTPServerService:
  - Wraps *http.Server with graceful shutdown
  - NewOpsRouter builds the chi router it serves: /healthz, /metrics,
    /runs, /runs/last, /watermarks, /pipelines/{id}, and /features/{entity} when given a
    FeatureLookup (WithFeatureLookup)
*/
package services
