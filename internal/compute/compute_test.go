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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
)

func TestClockAdvanceAndNow(t *testing.T) {
	c := NewClock()
	require.Equal(t, diff.Min, c.Now())
	c.Advance(42)
	require.Equal(t, diff.Timestamp(42), c.Now())
}

func TestWakeupSetEarliest(t *testing.T) {
	w := NewWakeupSet()
	_, ok := w.Earliest()
	require.False(t, ok)

	w.Add(func() (diff.Timestamp, bool) { return 10, true })
	w.Add(func() (diff.Timestamp, bool) { return 3, true })
	w.Add(func() (diff.Timestamp, bool) { return 0, false })

	ts, ok := w.Earliest()
	require.True(t, ok)
	require.Equal(t, diff.Timestamp(3), ts)
}

func TestErrorCollectorRingBuffer(t *testing.T) {
	c := NewErrorCollector(2)
	c.Record(errFor("a"))
	c.Record(errFor("b"))
	c.Record(errFor("c"))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "b", snap[0].Error())
	require.Equal(t, "c", snap[1].Error())
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func errFor(s string) error { return simpleErr(s) }
