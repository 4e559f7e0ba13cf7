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

package render

import (
	"sync"

	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
)

// Port is a handoff point between operators: a FIFO queue of DiffRow
// batches. It is mutex-guarded rather than channel-based because a
// Port's producer (another operator within the same tick, or the
// manager's push_source) and consumer (the next Schedule call) run on
// the same cooperative worker; a channel's blocking semantics would be
// the wrong tool where a non-blocking drain is what every Schedule call
// needs.
type Port struct {
	mu      sync.Mutex
	pending [][]diff.DiffRow
	closed  bool
}

// NewPort constructs an empty, open Port.
func NewPort() *Port { return &Port{} }

// Send enqueues a batch for the next DrainAll.
func (p *Port) Send(batch []diff.DiffRow) {
	if len(batch) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, batch)
}

// DrainAll removes and returns every queued row across all pending
// batches, flattened and in enqueue order.
func (p *Port) DrainAll() []diff.DiffRow {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	var out []diff.DiffRow
	for _, b := range p.pending {
		out = append(out, b...)
	}
	p.pending = nil
	return out
}

// Close marks the port as closed; operators observe this as
// end-of-stream and stop emitting through it.
func (p *Port) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Closed reports whether Close has been called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
