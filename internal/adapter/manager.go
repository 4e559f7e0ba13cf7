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

package adapter

import (
	"strconv"
	"sync"
	"time"

	"github.com/GreptimeTeam/greptime-flownode/internal/compute"
	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/errorsx"
	"github.com/GreptimeTeam/greptime-flownode/internal/metrics"
	"github.com/GreptimeTeam/greptime-flownode/internal/plan"
	"github.com/GreptimeTeam/greptime-flownode/internal/render"
	"github.com/GreptimeTeam/greptime-flownode/internal/util/notify"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// TaskInfo is the introspection view of one installed dataflow: enough
// to answer "what is running and what does it depend on" without
// reaching into the manager's internal maps.
type TaskInfo struct {
	ID        plan.TaskId
	SinkTable string
	Sources   []string
	Phase     compute.Phase
}

// task bundles everything the manager owns about one installed
// dataflow: its scheduled state, its sink broadcast, and the
// subscriptions it participates in.
type task struct {
	state     *compute.ActiveDataflowState
	sinkPort  *render.Port // the dataflow's own terminal output port
	recvPorts map[string]*render.Port
	sinkTable string
	sources   []string
}

// Manager is the flow node manager: it owns every installed dataflow on
// one cooperative worker, routes push_source writes to the per-table
// broadcast fan-out, and exposes a sink fan-in per dataflow. It is
// wired the way a changefeed server wires its own stages: a
// mutex-guarded map of state plus an errgroup-driven tick fan-out.
type Manager struct {
	mu sync.Mutex

	cfg Config

	nextID     plan.TaskId
	tasks      map[plan.TaskId]*task
	sourceSubs map[string][]*render.Port // table name -> every dataflow's receive port for it
	sinkSubs   map[plan.TaskId][]*render.Port

	wakeup *notify.Var[WakeupHint]
}

// WakeupHint is the manager-wide "next time any dataflow needs to run"
// signal: the minimum of every installed dataflow's WakeupSet.Earliest,
// or At==0, Has==false if nothing has pending scheduled work.
type WakeupHint struct {
	At  diff.Timestamp
	Has bool
}

// NewManager constructs an empty Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:        cfg,
		tasks:      map[plan.TaskId]*task{},
		sourceSubs: map[string][]*render.Port{},
		sinkSubs:   map[plan.TaskId][]*render.Port{},
		wakeup:     notify.New(WakeupHint{}),
	}
}

// NextWakeup exposes the manager's "when do I next need to tick" hint
// (the shortest schd_at across every installed dataflow's scheduled
// state) as a notify.Var. cmd/flownoded's tickLoop reads it after each
// Tick to time the next one; the Var's channel also lets a caller block
// until the hint changes.
func (m *Manager) NextWakeup() *notify.Var[WakeupHint] {
	return m.wakeup
}

// buildContext implements render.DataflowContext during CreateTask's
// build phase. It hands out a fresh receive Port per distinct source
// name and records which names were resolved, so CreateTask can wire
// push_source fan-out for exactly those tables once the build succeeds.
// Resolution always succeeds: a source name becomes "known" the moment
// a plan references it, the same way push_source can target any table
// id without the manager maintaining a separate schema registry.
type buildContext struct {
	created map[string]*render.Port
}

func newBuildContext() *buildContext {
	return &buildContext{created: map[string]*render.Port{}}
}

func (b *buildContext) ResolveSource(name string) (*render.Port, bool) {
	if p, ok := b.created[name]; ok {
		return p, true
	}
	p := render.NewPort()
	b.created[name] = p
	return p, true
}

// CreateTask translates, renders, and installs a dataflow. If
// createIfNotExist is true and id is already installed, this is a no-op
// returning (id, false, nil). Otherwise it builds the full render graph
// first and only registers the new task into every manager map under a
// single lock once the build has fully succeeded, so a failed or
// partial render never leaves a half-installed task behind.
func (m *Manager) CreateTask(
	id plan.TaskId, sinkTable string, createIfNotExist bool, node *plan.Node,
) (plan.TaskId, bool, error) {
	m.mu.Lock()
	if _, exists := m.tasks[id]; exists {
		m.mu.Unlock()
		if createIfNotExist {
			return id, false, nil
		}
		return 0, false, errorsx.Internal("adapter: task %d already installed", id)
	}
	m.mu.Unlock()

	state := compute.NewActiveDataflowState(id, m.cfg.ErrorRingSize)
	ctx := newBuildContext()
	bundle, ops, err := render.Render(node, ctx, state.Errs)
	if err != nil {
		log.WithFields(log.Fields{"task_id": id, "error": err}).Warn("adapter: dataflow build failed, not installed")
		return 0, false, err
	}

	if err := state.Install(bundle, ops); err != nil {
		return 0, false, err
	}

	sources := make([]string, 0, len(ctx.created))
	for name := range ctx.created {
		sources = append(sources, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[id]; exists {
		// Lost a race with a concurrent CreateTask(id); the dataflow we
		// just built is simply discarded, since nothing else references
		// it yet.
		if createIfNotExist {
			return id, false, nil
		}
		return 0, false, errorsx.Internal("adapter: task %d already installed", id)
	}
	m.tasks[id] = &task{
		state:     state,
		sinkPort:  bundle.Output,
		recvPorts: ctx.created,
		sinkTable: sinkTable,
		sources:   sources,
	}
	for _, name := range sources {
		m.sourceSubs[name] = append(m.sourceSubs[name], ctx.created[name])
	}
	if id >= m.nextID {
		m.nextID = id + 1
	}
	metrics.TasksInstalled.Inc()
	log.WithFields(log.Fields{"task_id": id, "sink_table": sinkTable, "sources": sources}).Info("adapter: task installed")
	return id, true, nil
}

// DropTask detaches the dataflow from every source it subscribed to,
// transitions it to Dropped, and releases its arrangements by dropping
// the manager's own reference to its ActiveDataflowState.
func (m *Manager) DropTask(id plan.TaskId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errorsx.Internal("adapter: unknown task %d", id)
	}
	for name, port := range t.recvPorts {
		subs := m.sourceSubs[name]
		for i, p := range subs {
			if p == port {
				m.sourceSubs[name] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	t.state.Drop()
	delete(m.tasks, id)
	delete(m.sinkSubs, id)
	metrics.TasksInstalled.Dec()
	log.WithFields(log.Fields{"task_id": id}).Info("adapter: task dropped")
	return nil
}

// PushSource enqueues a batch onto every dataflow currently subscribed
// to table.
func (m *Manager) PushSource(table string, rows []diff.DiffRow) {
	m.mu.Lock()
	ports := append([]*render.Port(nil), m.sourceSubs[table]...)
	m.mu.Unlock()
	for _, p := range ports {
		p.Send(rows)
	}
}

// SubscribeSink obtains a fresh broadcast receiver for a task's sink
// fan-out. Every distinct subscriber gets its own Port so each reads
// the full output stream independently.
func (m *Manager) SubscribeSink(id plan.TaskId) (*render.Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return nil, errorsx.Internal("adapter: unknown task %d", id)
	}
	p := render.NewPort()
	m.sinkSubs[id] = append(m.sinkSubs[id], p)
	return p, nil
}

// Tick advances every installed dataflow to now, fanning the ticks out
// concurrently via errgroup, then rebroadcasts each dataflow's drained
// sink output to every subscriber registered via SubscribeSink.
func (m *Manager) Tick(now diff.Timestamp) error {
	m.mu.Lock()
	tasks := make(map[plan.TaskId]*task, len(m.tasks))
	for id, t := range m.tasks {
		tasks[id] = t
	}
	m.mu.Unlock()

	var g errgroup.Group
	for id, t := range tasks {
		id, t := id, t
		g.Go(func() error {
			label := strconv.FormatUint(uint64(id), 10)
			start := time.Now()
			rowErrsBefore := t.state.Errs.Total()
			err := t.state.Tick(now)
			metrics.TickDurations.WithLabelValues(label).Observe(time.Since(start).Seconds())
			if delta := t.state.Errs.Total() - rowErrsBefore; delta > 0 {
				metrics.OperatorRowErrors.WithLabelValues(label).Add(float64(delta))
			}
			size := 0
			for _, arr := range t.state.Bundle.Indexes {
				size += arr.Len()
			}
			metrics.ArrangementSize.WithLabelValues(label).Set(float64(size))
			if err != nil {
				t.state.Errs.Record(err)
				metrics.TickErrors.WithLabelValues(label).Inc()
				log.WithFields(log.Fields{"task_id": id, "error": err}).Error("adapter: tick failed")
				return err
			}
			return nil
		})
	}
	tickErr := g.Wait()

	for id, t := range tasks {
		rows := t.sinkPort.DrainAll()
		if len(rows) == 0 {
			continue
		}
		m.mu.Lock()
		subs := append([]*render.Port(nil), m.sinkSubs[id]...)
		m.mu.Unlock()
		for _, sub := range subs {
			sub.Send(rows)
		}
	}

	var hint WakeupHint
	for _, t := range tasks {
		ts, ok := t.state.Wakeup.Earliest()
		if !ok {
			continue
		}
		if !hint.Has || ts < hint.At {
			hint = WakeupHint{At: ts, Has: true}
		}
	}
	m.wakeup.Set(hint)

	return tickErr
}

// ListTasks reports every installed dataflow's identity, phase, sink
// table, and source dependencies, ordered by TaskId so callers (and
// tests) get a deterministic listing rather than Go's randomized map
// iteration order.
func (m *Manager) ListTasks() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := maps.Keys(m.tasks)
	slices.Sort(ids)
	out := make([]TaskInfo, 0, len(ids))
	for _, id := range ids {
		t := m.tasks[id]
		out = append(out, TaskInfo{
			ID:        id,
			SinkTable: t.sinkTable,
			Sources:   append([]string(nil), t.sources...),
			Phase:     t.state.Phase(),
		})
	}
	return out
}

// NextTaskId allocates a TaskId higher than any id installed so far, for
// callers that don't already have an externally-assigned task_id to
// install under.
func (m *Manager) NextTaskId() plan.TaskId {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	return id
}

// Errors returns the most recently recorded per-row/per-batch errors
// for a task.
func (m *Manager) Errors(id plan.TaskId) ([]error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errorsx.Internal("adapter: unknown task %d", id)
	}
	return t.state.Errs.Snapshot(), nil
}
