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

// Package compute implements the single shared-mutable "current time"
// for a dataflow and its state machine: one clock held behind the tick
// loop instead of every consumer tracking its own notion of now.
package compute

import (
	"sync"

	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
)

// Clock is the single current-time location for one dataflow: written
// only by the manager between ticks, read by operators during a tick.
// No concurrent mutation happens within a tick, but the manager's tick
// fan-out (one goroutine per dataflow via errgroup) still needs the
// write itself to be safe to observe from that dataflow's own
// goroutine, hence the mutex rather than a bare field.
type Clock struct {
	mu  sync.Mutex
	now diff.Timestamp
}

// NewClock constructs a Clock starting at diff.Min, before any tick has
// run.
func NewClock() *Clock { return &Clock{now: diff.Min} }

// Advance sets the current time. Called by the manager once per tick,
// before any operator in the dataflow runs.
func (c *Clock) Advance(now diff.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Now reads the current time.
func (c *Clock) Now() diff.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// WakeupSet composes the "next wake-up time" of many scheduled-state
// handles (TemporalFilterState, ExpiringKeyValueState, ...) behind a
// single per-dataflow value, so an operator with several independent
// scheduled-state machines can report one combined deadline.
type WakeupSet struct {
	sources []func() (diff.Timestamp, bool)
}

// NewWakeupSet constructs an empty set.
func NewWakeupSet() *WakeupSet { return &WakeupSet{} }

// Add registers a scheduled-state handle's SchdAt method.
func (w *WakeupSet) Add(schdAt func() (diff.Timestamp, bool)) {
	w.sources = append(w.sources, schdAt)
}

// Earliest returns the minimum wake-up time across every registered
// source, and false if none has pending work.
func (w *WakeupSet) Earliest() (diff.Timestamp, bool) {
	var earliest diff.Timestamp
	found := false
	for _, src := range w.sources {
		ts, ok := src()
		if !ok {
			continue
		}
		if !found || ts < earliest {
			earliest = ts
			found = true
		}
	}
	return earliest, found
}
