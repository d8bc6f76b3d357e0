// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package etl

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateLoadPipelines, true},
		{StateLoadPipelines, StateLoadJobs, true},
		{StateLoadJobs, StateAggregate, true},
		{StateAggregate, StateBuildFeatures, true},
		{StateBuildFeatures, StateDone, true},
		{StateIdle, StateFailed, true},
		{StateAggregate, StateFailed, true},
		{StateIdle, StateAggregate, false},
		{StateLoadJobs, StateLoadPipelines, false},
		{StateDone, StateFailed, false},
		{StateFailed, StateIdle, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMachine(t *testing.T) {
	m := newMachine()
	if err := m.transition(StateLoadPipelines); err != nil {
		t.Fatal(err)
	}
	if err := m.transition(StateAggregate); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("skip ahead error = %v, want ErrInvalidTransition", err)
	}
	if err := m.transition(StateLoadJobs); err != nil {
		t.Fatal(err)
	}

	failed := m.fail()
	if failed != StateLoadJobs {
		t.Errorf("fail() = %s, want %s", failed, StateLoadJobs)
	}
	if m.State() != StateFailed || !m.State().IsTerminal() {
		t.Errorf("state = %s, want terminal failed", m.State())
	}
	if err := m.transition(StateAggregate); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("transition out of failed error = %v", err)
	}
}
