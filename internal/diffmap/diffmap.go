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

// Package diffmap implements DiffMap, a key->value mapping that records
// per-key (old, new) transitions since the last drain and materializes
// them as diff-conservation-respecting DiffRow batches on demand.
//
// The coalescing discipline (only the first old and the latest new value
// survive repeated edits to the same key within one generation) is a
// last-write-wins pattern generalized from a sort-then-dedup batch
// operation to an incremental, always-live map.
package diffmap

import "github.com/GreptimeTeam/greptime-flownode/internal/diff"

// transition records the value a key held before this generation's first
// edit (old, nilable) and the value it holds after its latest edit (new,
// nilable). Both unset means the key was absent before the generation's
// first edit and is absent again after its latest one. A key set back to
// its original value keeps both set and still yields a retract/insert pair.
type transition[V any] struct {
	hasOld bool
	old    V
	hasNew bool
	new_   V
}

// DiffMap is a key->value map that tracks per-key transitions for later
// materialization as a diff batch. K must be a Go-comparable type; in
// this module K is almost always value.Row.Key() (a string) since Row
// itself is a slice and cannot be a map key directly.
type DiffMap[K comparable, V any] struct {
	current     map[K]V
	transitions map[K]*transition[V]
}

// New constructs an empty DiffMap.
func New[K comparable, V any]() *DiffMap[K, V] {
	return &DiffMap[K, V]{
		current:     make(map[K]V),
		transitions: make(map[K]*transition[V]),
	}
}

func (m *DiffMap[K, V]) touch(k K) *transition[V] {
	t, ok := m.transitions[k]
	if !ok {
		t = &transition[V]{}
		if old, present := m.current[k]; present {
			t.hasOld = true
			t.old = old
		}
		m.transitions[k] = t
	}
	return t
}

// Insert sets the value for k, recording the transition.
func (m *DiffMap[K, V]) Insert(k K, v V) {
	t := m.touch(k)
	t.hasNew = true
	t.new_ = v
	m.current[k] = v
}

// Remove deletes k if present, recording the transition. Removing an
// absent key is a no-op on current state but still records the attempt
// (harmless: old/new both stay empty, so GenDiff emits nothing for it).
func (m *DiffMap[K, V]) Remove(k K) {
	t := m.touch(k)
	t.hasNew = false
	var zero V
	t.new_ = zero
	delete(m.current, k)
}

// Forget deletes k from the live map and discards any pending transition
// for it, so neither a retraction nor an insertion is ever emitted. Used
// for TTL expiry, where a vanished row must not surface as a diff.
func (m *DiffMap[K, V]) Forget(k K) {
	delete(m.current, k)
	delete(m.transitions, k)
}

// Get reads the current value for k.
func (m *DiffMap[K, V]) Get(k K) (V, bool) {
	v, ok := m.current[k]
	return v, ok
}

// Len reports the number of live keys.
func (m *DiffMap[K, V]) Len() int { return len(m.current) }

// Entry is one (key, value) pair surfaced by GenDiff with its timestamp
// and signed multiplicity: +1 is an insert, -1 is a retraction of a
// prior value.
type Entry[K comparable, V any] struct {
	Key  K
	Val  V
	Time diff.Timestamp
	Diff diff.Diff
}

// GenDiff drains the transition buffer and returns the flat set of
// retract-old/insert-new records at time t, at most two per touched key.
// The buffer is empty after this call (idempotence: calling GenDiff
// again immediately yields nothing).
func (m *DiffMap[K, V]) GenDiff(t diff.Timestamp) []Entry[K, V] {
	out := make([]Entry[K, V], 0, len(m.transitions)*2)
	for k, tr := range m.transitions {
		switch {
		case tr.hasOld && tr.hasNew:
			out = append(out, Entry[K, V]{Key: k, Val: tr.old, Time: t, Diff: -1})
			out = append(out, Entry[K, V]{Key: k, Val: tr.new_, Time: t, Diff: 1})
		case tr.hasOld && !tr.hasNew:
			out = append(out, Entry[K, V]{Key: k, Val: tr.old, Time: t, Diff: -1})
		case !tr.hasOld && tr.hasNew:
			out = append(out, Entry[K, V]{Key: k, Val: tr.new_, Time: t, Diff: 1})
		default:
			// Touched and reverted within the same generation: nothing
			// observable changed.
		}
	}
	m.transitions = make(map[K]*transition[V])
	return out
}

// PendingLen reports how many keys have unresolved transitions, useful
// for tests asserting the buffer drains to empty.
func (m *DiffMap[K, V]) PendingLen() int { return len(m.transitions) }
