// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

/*
Package supervisor provides process supervision for `cipulse serve` using suture v4.

# Overview

Services are organized into two layers for failure isolation:

	RootSupervisor ("cipulse")
	├── ETLSupervisor ("etl-layer")
	│   └── ScheduleService (cron-triggered orchestrator runs)
	└── OpsSupervisor ("ops-layer")
	    └── HTTPServerService (/healthz, /metrics, /runs/last)

A crashed service is restarted with suture's backoff; failures in one layer
do not restart the other. Supervisor events are logged through sutureslog,
backed by the zerolog adapter in internal/logging.

# Usage Example

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddETLService(services.NewScheduleService(orch, cfg.Schedule.Cron, params, cfg.Schedule.RunOnStart))
	tree.AddOpsService(services.NewHTTPServerService(server, 10*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return tree.Serve(ctx)

# Shutdown

Cancelling the context stops the scheduler and the HTTP server together;
an in-flight run sees its context cancelled, records a failed run and
releases the run lock. ShutdownTimeout bounds how long the tree waits.

# See Also

  - internal/supervisor/services: service wrappers
  - github.com/thejerf/suture/v4
*/
package supervisor
