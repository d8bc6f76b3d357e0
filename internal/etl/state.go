// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"fmt"
	"slices"
)

// State is a step of one ETL run.
type State string

const (
	StateIdle          State = "idle"
	StateLoadPipelines State = "load_pipelines"
	StateLoadJobs      State = "load_jobs"
	StateAggregate     State = "aggregate"
	StateBuildFeatures State = "build_features"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Transition table: from -> allowed tos
var validTransitions = map[State][]State{
	StateIdle:          {StateLoadPipelines, StateFailed},
	StateLoadPipelines: {StateLoadJobs, StateFailed},
	StateLoadJobs:      {StateAggregate, StateFailed},
	StateAggregate:     {StateBuildFeatures, StateFailed},
	StateBuildFeatures: {StateDone, StateFailed},
	StateDone:          {},
	StateFailed:        {},
}

// CanTransition checks if moving from one state to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// IsTerminal returns true for Done and Failed.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// machine tracks the state of a single run.
type machine struct {
	current State
	// lastActive is the last non-terminal state entered; it names the
	// failing stage once the run reaches Failed.
	lastActive State
}

func newMachine() *machine {
	return &machine{current: StateIdle, lastActive: StateIdle}
}

func (m *machine) State() State { return m.current }

func (m *machine) transition(to State) error {
	if !CanTransition(m.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
	}
	m.current = to
	if !to.IsTerminal() {
		m.lastActive = to
	}
	return nil
}

// fail moves to Failed from any non-terminal state and returns the stage
// that was executing.
func (m *machine) fail() State {
	if !m.current.IsTerminal() {
		m.current = StateFailed
	}
	return m.lastActive
}
