// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"errors"

	"github.com/tomtom215/cipulse/internal/models"
)

var (
	// ErrRunInProgress is returned when another run holds the run lock.
	ErrRunInProgress = errors.New("another ETL run is in progress")

	// ErrSchemaMismatch means a feature payload cannot be produced for, or
	// decoded with, the requested schema. Fatal for the feature stage.
	ErrSchemaMismatch = models.ErrSchemaMismatch

	// ErrInvalidTransition is returned by the run state machine.
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrRunDeadlineExceeded means the run outlived etl.run_timeout.
	ErrRunDeadlineExceeded = errors.New("ETL run deadline exceeded")
)
