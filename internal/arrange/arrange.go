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

// Package arrange implements Arrangement, a time-indexed Row->Diff
// structure supporting point-in-time range reads and monotonic
// compaction. It is the indexed-snapshot building block the render
// layer's Source operator holds onto across ticks.
//
// The single-writer/multi-reader split and the "future-only clone" used
// to avoid re-emitting already-observed updates mirror a resolver that
// advances a watermark which many downstream readers observe without
// re-consuming what's already past it.
package arrange

import (
	"sort"
	"sync"

	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/errorsx"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

// contribution is a single (time, diff) pair recorded against a key.
type contribution struct {
	time diff.Timestamp
	d    diff.Diff
}

// Arrangement maps row keys to ordered (time, diff) contribution lists,
// with a monotonically advancing compaction frontier.
type Arrangement struct {
	mu           sync.RWMutex
	byKey        map[string][]contribution
	keyRow       map[string]value.Row
	compactedTo  diff.Timestamp
	hasCompacted bool
	owner        bool // true for the writer that created this Arrangement
}

// New constructs an empty Arrangement owned by its creator.
func New() *Arrangement {
	return &Arrangement{
		byKey:  make(map[string][]contribution),
		keyRow: make(map[string]value.Row),
		owner:  true,
	}
}

// Insert records a (row, t, d) contribution. Only the owning writer may
// call Insert; see WriteLock.
func (a *Arrangement) Insert(row value.Row, t diff.Timestamp, d diff.Diff) error {
	if !a.owner {
		return errorsx.Internal("arrange: Insert called on a non-owning handle")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hasCompacted && t <= a.compactedTo {
		return errorsx.Internal("arrange: update at t=%d at or behind compacted frontier t=%d", t, a.compactedTo)
	}
	key := row.Key()
	a.byKey[key] = append(a.byKey[key], contribution{time: t, d: d})
	a.keyRow[key] = row
	return nil
}

// GetUpdatesInRange returns all (row, time, diff) contributions with
// time <= t, in ascending time order. The order among contributions of
// different keys at the same time is not defined.
func (a *Arrangement) GetUpdatesInRange(t diff.Timestamp) []diff.DiffRow {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []diff.DiffRow
	for key, contribs := range a.byKey {
		row := a.keyRow[key]
		for _, c := range contribs {
			if c.time <= t {
				out = append(out, diff.DiffRow{Row: row, Time: c.time, Diff: c.d})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// CompactionTo coalesces every contribution with time <= t into a
// single (t, sum) entry per key, dropping any key whose summed diff is
// zero. Compaction only ever advances: compacting to a t behind the
// current frontier fails with an Internal error, and compacting to the
// frontier itself is allowed.
func (a *Arrangement) CompactionTo(t diff.Timestamp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hasCompacted && t < a.compactedTo {
		return errorsx.Internal("arrange: compaction_to(%d) is behind current frontier %d", t, a.compactedTo)
	}
	for key, contribs := range a.byKey {
		var sum diff.Diff
		var future []contribution
		for _, c := range contribs {
			if c.time <= t {
				sum += c.d
			} else {
				future = append(future, c)
			}
		}
		if sum == 0 {
			if len(future) == 0 {
				delete(a.byKey, key)
				delete(a.keyRow, key)
				continue
			}
			a.byKey[key] = future
			continue
		}
		merged := append([]contribution{{time: t, d: sum}}, future...)
		a.byKey[key] = merged
	}
	a.compactedTo = t
	a.hasCompacted = true
	return nil
}

// Len reports the number of distinct keys currently held.
func (a *Arrangement) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byKey)
}

// CompactedTo reports the current compaction frontier.
func (a *Arrangement) CompactedTo() (diff.Timestamp, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.compactedTo, a.hasCompacted
}

// ReadLock returns a read-only handle holding a point-in-time copy of
// this Arrangement's data. Multiple readers may hold a snapshot
// concurrently, and none of them observe writes the owner makes after
// the snapshot is taken.
func (a *Arrangement) ReadLock() *Arrangement {
	a.mu.RLock()
	defer a.mu.RUnlock()
	byKey := make(map[string][]contribution, len(a.byKey))
	for k, v := range a.byKey {
		byKey[k] = append([]contribution(nil), v...)
	}
	keyRow := make(map[string]value.Row, len(a.keyRow))
	for k, v := range a.keyRow {
		keyRow[k] = append(value.Row(nil), v...)
	}
	return &Arrangement{byKey: byKey, keyRow: keyRow, owner: false, compactedTo: a.compactedTo, hasCompacted: a.hasCompacted}
}

// WriteLock returns the writer handle if this Arrangement is the
// owner, or an error otherwise. Only the creating operator may write.
func (a *Arrangement) WriteLock() (*Arrangement, error) {
	if !a.owner {
		return nil, errorsx.Internal("arrange: WriteLock called on a non-owning handle")
	}
	return a, nil
}

// CloneFutureOnly returns a fresh writer-owned Arrangement that starts
// empty but shares this Arrangement's compaction frontier, so inserts
// made before the clone are not re-observed through it.
func (a *Arrangement) CloneFutureOnly() *Arrangement {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return &Arrangement{
		byKey:        make(map[string][]contribution),
		keyRow:       make(map[string]value.Row),
		compactedTo:  a.compactedTo,
		hasCompacted: a.hasCompacted,
		owner:        true,
	}
}
