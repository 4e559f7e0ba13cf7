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

// Package diff defines the unit of change that flows through the dataflow
// runtime: a row tagged with a logical timestamp and a signed multiplicity.
package diff

import (
	"fmt"

	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

// Timestamp is milliseconds since the epoch, monotonic within one worker.
// It is set by the worker once per tick and read by operators during that
// tick; see internal/compute.Clock for the single shared-mutable location.
type Timestamp int64

// Min is a sentinel Timestamp (-2^62, below any tick time) used by
// Constant operators to emit rows that are valid at every time. It is not
// the smallest int64 value.
const Min Timestamp = Timestamp(-1 << 62)

// Diff is a signed multiplicity: positive means insert, negative means
// retract, zero is a no-op that operators should drop rather than forward.
type Diff int64

// DiffRow is the unit of change flowing through handoffs: a row, the time
// it took effect, and its signed multiplicity.
type DiffRow struct {
	Row  value.Row
	Time Timestamp
	Diff Diff
}

func (d DiffRow) String() string {
	return fmt.Sprintf("%s@%d[%+d]", d.Row, d.Time, d.Diff)
}

// Negate returns a copy of the DiffRow with its diff sign flipped, used to
// emit a retraction for a previously-emitted insertion.
func (d DiffRow) Negate() DiffRow {
	return DiffRow{Row: d.Row, Time: d.Time, Diff: -d.Diff}
}
