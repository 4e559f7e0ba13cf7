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

// Package state implements the two scheduled-state machines that back
// time-aware operators: TemporalFilterState (future-dated row events)
// and ExpiringKeyValueState (event-time-keyed key/value state with TTL
// eviction). Both expose a next-wake-up-time deadline a driver can use
// to schedule its own tick loop instead of polling on a fixed interval.
package state

import (
	"sort"

	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

// bucket holds the pending (row, diff) contributions scheduled for a
// single timestamp, coalesced by row so repeated edits to the same row
// within one bucket net out to a single diff.
type bucket struct {
	order []string
	diffs map[string]diff.Diff
	rows  map[string]value.Row
}

func newBucket() *bucket {
	return &bucket{diffs: make(map[string]diff.Diff), rows: make(map[string]value.Row)}
}

// TemporalFilterState maintains a time-indexed multiset of pending
// (Row, Diff) contributions not yet due to be released.
type TemporalFilterState struct {
	buckets map[diff.Timestamp]*bucket
}

// NewTemporalFilterState constructs an empty TemporalFilterState.
func NewTemporalFilterState() *TemporalFilterState {
	return &TemporalFilterState{buckets: make(map[diff.Timestamp]*bucket)}
}

// AppendDeltaRow records a pending contribution for row at t. Repeated
// calls for the same (t, row) coalesce: a net-zero diff removes the
// entry entirely rather than leaving a zero-diff record behind.
func (s *TemporalFilterState) AppendDeltaRow(t diff.Timestamp, row value.Row, d diff.Diff) {
	b, ok := s.buckets[t]
	if !ok {
		b = newBucket()
		s.buckets[t] = b
	}
	key := row.Key()
	if _, seen := b.diffs[key]; !seen {
		b.order = append(b.order, key)
		b.rows[key] = row
	}
	b.diffs[key] += d
	if b.diffs[key] == 0 {
		delete(b.diffs, key)
		delete(b.rows, key)
		// order keeps the stale key; TruncUntilInclusive filters zero-sum
		// entries out when it drains, so a later re-insert of the same
		// key within this bucket isn't lost ahead of prior emissions.
	}
	if len(b.diffs) == 0 {
		delete(s.buckets, t)
	}
}

// TruncUntilInclusive returns and removes every entry with timestamp <=
// t, with emission order: ascending timestamp, then original insertion
// order within each timestamp's bucket.
func (s *TemporalFilterState) TruncUntilInclusive(t diff.Timestamp) []diff.DiffRow {
	var due []diff.Timestamp
	for ts := range s.buckets {
		if ts <= t {
			due = append(due, ts)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	var out []diff.DiffRow
	for _, ts := range due {
		b := s.buckets[ts]
		for _, key := range b.order {
			d, ok := b.diffs[key]
			if !ok {
				// Coalesced away to zero before this drain, or already
				// emitted via an earlier order entry after a zero-sum
				// round trip re-appended the key.
				continue
			}
			out = append(out, diff.DiffRow{Row: b.rows[key], Time: ts, Diff: d})
			delete(b.diffs, key)
		}
		delete(s.buckets, ts)
	}
	return out
}

// SchdAt returns the earliest pending timestamp and whether any entry is
// pending at all.
func (s *TemporalFilterState) SchdAt() (diff.Timestamp, bool) {
	var earliest diff.Timestamp
	found := false
	for ts := range s.buckets {
		if !found || ts < earliest {
			earliest = ts
			found = true
		}
	}
	return earliest, found
}

// Len reports the number of distinct pending (time, row) entries, for
// test assertions.
func (s *TemporalFilterState) Len() int {
	n := 0
	for _, b := range s.buckets {
		n += len(b.diffs)
	}
	return n
}
