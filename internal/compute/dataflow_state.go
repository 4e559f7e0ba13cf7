// Copyright 2024 Greptime Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package compute

import (
	"sync"

	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/errorsx"
	"github.com/GreptimeTeam/greptime-flownode/internal/plan"
	"github.com/GreptimeTeam/greptime-flownode/internal/render"
)

// Phase names a point in the ActiveDataflowState lifecycle:
// Building -> Ready -> Running <-> Idle -> Dropped.
type Phase int

const (
	PhaseBuilding Phase = iota
	PhaseReady
	PhaseRunning
	PhaseIdle
	PhaseDropped
)

func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "Building"
	case PhaseReady:
		return "Ready"
	case PhaseRunning:
		return "Running"
	case PhaseIdle:
		return "Idle"
	case PhaseDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// ActiveDataflowState owns one installed dataflow's render graph, its
// arrangements (held inside each operator's CollectionBundle), its
// clock, and its wakeup set. It exclusively owns all of the above; the
// manager shares only the source/sink broadcast ports.
type ActiveDataflowState struct {
	mu sync.Mutex

	TaskID plan.TaskId

	Clock   *Clock
	Wakeup  *WakeupSet
	Bundle  *render.CollectionBundle
	Ops     []render.Operator
	Errs    *ErrorCollector
	phase   Phase
}

// NewActiveDataflowState constructs a dataflow in PhaseBuilding.
func NewActiveDataflowState(taskID plan.TaskId, errRingSize int) *ActiveDataflowState {
	return &ActiveDataflowState{
		TaskID: taskID,
		Clock:  NewClock(),
		Wakeup: NewWakeupSet(),
		Errs:   NewErrorCollector(errRingSize),
		phase:  PhaseBuilding,
	}
}

// Install attaches the rendered graph and transitions Building -> Ready.
// Errors during build must never reach here (the caller rolls back on
// render failure before ever constructing or installing state); calling
// Install from any phase other than Building is a programming error.
func (s *ActiveDataflowState) Install(bundle *render.CollectionBundle, ops []render.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseBuilding {
		return errorsx.Internal("compute: Install called on dataflow in phase %s, want Building", s.phase)
	}
	s.Bundle = bundle
	s.Ops = ops
	for _, op := range ops {
		op := op
		s.Wakeup.Add(op.SchdAt)
	}
	s.phase = PhaseReady
	return nil
}

// Phase reports the current lifecycle phase.
func (s *ActiveDataflowState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Tick advances the clock to now and schedules every operator in
// dependency order, transitioning Ready/Idle -> Running -> Idle.
// Per-row errors recorded by operators into Errs do not abort the tick;
// the first operator-returned (structural) error does, and leaves the
// dataflow back in Idle rather than Running.
func (s *ActiveDataflowState) Tick(now diff.Timestamp) error {
	s.mu.Lock()
	if s.phase != PhaseReady && s.phase != PhaseIdle {
		s.mu.Unlock()
		return errorsx.Internal("compute: Tick called on dataflow in phase %s, want Ready or Idle", s.phase)
	}
	s.phase = PhaseRunning
	ops := s.Ops
	s.mu.Unlock()

	s.Clock.Advance(now)
	for _, op := range ops {
		if err := op.Schedule(now); err != nil {
			s.mu.Lock()
			s.phase = PhaseIdle
			s.mu.Unlock()
			return err
		}
	}

	s.mu.Lock()
	s.phase = PhaseIdle
	s.mu.Unlock()
	return nil
}

// Drop transitions the dataflow to Dropped. The manager releases the
// dataflow's arrangements by simply dropping its reference to this
// ActiveDataflowState after calling Drop.
func (s *ActiveDataflowState) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseDropped
}
