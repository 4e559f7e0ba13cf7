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

package state

import (
	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/diffmap"
	"github.com/GreptimeTeam/greptime-flownode/internal/errorsx"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

// EventTimeFunc extracts the event timestamp from a key row. The render
// layer supplies this from the plan's declared event-time scalar
// expression when it builds an ExpiringKeyValueState-backed operator.
type EventTimeFunc func(key value.Row) diff.Timestamp

// ExpiringKeyValueState is a DiffMap<Row,Row> plus a reverse event-time
// index, with inserts/removes rejected once their key's event time falls
// behind the TTL horizon.
type ExpiringKeyValueState struct {
	inner       *diffmap.DiffMap[string, entry]
	eventTimeOf EventTimeFunc
	ttl         diff.Timestamp
	byEventTime map[diff.Timestamp]map[string]bool
}

type entry struct {
	key value.Row
	val value.Row
}

// NewExpiringKeyValueState constructs state with the given TTL (in the
// same units as Timestamp) and event-time extractor.
func NewExpiringKeyValueState(ttl diff.Timestamp, eventTimeOf EventTimeFunc) *ExpiringKeyValueState {
	return &ExpiringKeyValueState{
		inner:       diffmap.New[string, entry](),
		eventTimeOf: eventTimeOf,
		ttl:         ttl,
		byEventTime: make(map[diff.Timestamp]map[string]bool),
	}
}

func (s *ExpiringKeyValueState) horizon(current diff.Timestamp) diff.Timestamp {
	return current - s.ttl
}

// Insert records k -> v, rejecting keys whose event time has already
// expired relative to current.
func (s *ExpiringKeyValueState) Insert(current diff.Timestamp, k, v value.Row) error {
	et := s.eventTimeOf(k)
	if et < s.horizon(current) {
		return errorsx.LateDataDiscarded(int64(s.horizon(current) - et))
	}
	key := k.Key()
	s.inner.Insert(key, entry{key: k, val: v})
	s.index(et, key)
	return nil
}

// Remove deletes k, rejecting keys whose event time has already expired.
func (s *ExpiringKeyValueState) Remove(current diff.Timestamp, k value.Row) error {
	et := s.eventTimeOf(k)
	if et < s.horizon(current) {
		return errorsx.LateDataDiscarded(int64(s.horizon(current) - et))
	}
	key := k.Key()
	s.inner.Remove(key)
	s.deindex(et, key)
	return nil
}

// Get reads the current value for key row k.
func (s *ExpiringKeyValueState) Get(k value.Row) (value.Row, bool) {
	e, ok := s.inner.Get(k.Key())
	if !ok {
		return nil, false
	}
	return e.val, true
}

// GenDiff drains the underlying DiffMap's transition buffer at time t.
func (s *ExpiringKeyValueState) GenDiff(t diff.Timestamp) []diff.DiffRow {
	entries := s.inner.GenDiff(t)
	out := make([]diff.DiffRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, diff.DiffRow{Row: e.Val.val, Time: t, Diff: e.Diff})
	}
	return out
}

// TruncExpired silently removes every key whose event time is at or
// before current-TTL, without emitting retractions: those rows are no
// longer observable, not retracted from a still-valid view.
func (s *ExpiringKeyValueState) TruncExpired(current diff.Timestamp) {
	horizon := s.horizon(current)
	for et, keys := range s.byEventTime {
		if et > horizon {
			continue
		}
		for key := range keys {
			// Forget, not Remove: expiry must not surface as a DiffRow,
			// and any still-pending transition for the key dies with it.
			s.inner.Forget(key)
		}
		delete(s.byEventTime, et)
	}
}

// SchdAt returns the earliest event time plus TTL: the soonest any
// currently-held bucket will expire.
func (s *ExpiringKeyValueState) SchdAt() (diff.Timestamp, bool) {
	var earliest diff.Timestamp
	found := false
	for et := range s.byEventTime {
		if !found || et < earliest {
			earliest = et
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return earliest + s.ttl, true
}

func (s *ExpiringKeyValueState) index(et diff.Timestamp, key string) {
	set, ok := s.byEventTime[et]
	if !ok {
		set = make(map[string]bool)
		s.byEventTime[et] = set
	}
	set[key] = true
}

func (s *ExpiringKeyValueState) deindex(et diff.Timestamp, key string) {
	set, ok := s.byEventTime[et]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(s.byEventTime, et)
	}
}
