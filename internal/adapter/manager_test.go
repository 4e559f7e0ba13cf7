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
	"testing"
	"time"

	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/plan"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{TickInterval: 10 * time.Millisecond, ErrorRingSize: 8, BroadcastSize: 64}
}

func passthroughPlan() *plan.Node {
	src := &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "orders"}}
	return &plan.Node{Kind: plan.KindSink, Sink: &plan.SinkNode{Input: src, Name: "out"}}
}

func TestCreateTaskInstallsAndLists(t *testing.T) {
	m := NewManager(testConfig())
	id, installed, err := m.CreateTask(1, "out", false, passthroughPlan())
	require.NoError(t, err)
	require.True(t, installed)
	require.Equal(t, plan.TaskId(1), id)

	tasks := m.ListTasks()
	require.Len(t, tasks, 1)
	require.Equal(t, "out", tasks[0].SinkTable)
	require.Equal(t, []string{"orders"}, tasks[0].Sources)
}

func TestCreateTaskCreateIfNotExistNoOp(t *testing.T) {
	m := NewManager(testConfig())
	_, installed, err := m.CreateTask(1, "out", false, passthroughPlan())
	require.NoError(t, err)
	require.True(t, installed)

	id, installed, err := m.CreateTask(1, "different", true, passthroughPlan())
	require.NoError(t, err)
	require.False(t, installed)
	require.Equal(t, plan.TaskId(1), id)

	tasks := m.ListTasks()
	require.Len(t, tasks, 1)
	require.Equal(t, "out", tasks[0].SinkTable) // unchanged: the no-op never touched the original
}

func TestCreateTaskRejectsDuplicateWithoutCreateIfNotExist(t *testing.T) {
	m := NewManager(testConfig())
	_, _, err := m.CreateTask(1, "out", false, passthroughPlan())
	require.NoError(t, err)

	_, _, err = m.CreateTask(1, "out", false, passthroughPlan())
	require.Error(t, err)
}

func TestCreateTaskRollsBackOnRenderFailure(t *testing.T) {
	m := NewManager(testConfig())
	badPlan := &plan.Node{Kind: plan.KindReduce, Reduce: &plan.ReduceNode{
		Input: &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "orders"}},
		Aggs:  nil, // Reduce with zero aggregates is rejected by render.Render
	}}
	_, installed, err := m.CreateTask(1, "out", false, badPlan)
	require.Error(t, err)
	require.False(t, installed)
	require.Empty(t, m.ListTasks())
}

func TestPushSourceAndTickDeliversToSink(t *testing.T) {
	m := NewManager(testConfig())
	_, _, err := m.CreateTask(1, "out", false, passthroughPlan())
	require.NoError(t, err)

	sub, err := m.SubscribeSink(1)
	require.NoError(t, err)

	row := value.Row{value.NewInt64(42)}
	m.PushSource("orders", []diff.DiffRow{{Row: row, Time: 1, Diff: 1}})

	require.NoError(t, m.Tick(1))

	got := sub.DrainAll()
	require.Len(t, got, 1)
	require.Equal(t, row, got[0].Row)
}

func TestSubscribeSinkUnknownTask(t *testing.T) {
	m := NewManager(testConfig())
	_, err := m.SubscribeSink(99)
	require.Error(t, err)
}

func TestDropTaskDetachesSourcesAndSinks(t *testing.T) {
	m := NewManager(testConfig())
	_, _, err := m.CreateTask(1, "out", false, passthroughPlan())
	require.NoError(t, err)
	sub, err := m.SubscribeSink(1)
	require.NoError(t, err)

	require.NoError(t, m.DropTask(1))
	require.Empty(t, m.ListTasks())

	// A push after drop must not panic or deliver anywhere; the sink
	// subscription is gone along with the task.
	m.PushSource("orders", []diff.DiffRow{{Row: value.Row{value.NewInt64(1)}, Time: 2, Diff: 1}})
	require.NoError(t, m.Tick(2))
	require.Empty(t, sub.DrainAll())

	_, err = m.SubscribeSink(1)
	require.Error(t, err)
}

func TestErrorsReportsUnknownTask(t *testing.T) {
	m := NewManager(testConfig())
	_, err := m.Errors(7)
	require.Error(t, err)
}

func TestTickFansOutAcrossMultipleTasks(t *testing.T) {
	m := NewManager(testConfig())
	_, _, err := m.CreateTask(1, "out1", false, passthroughPlan())
	require.NoError(t, err)
	_, _, err = m.CreateTask(2, "out2", false, passthroughPlan())
	require.NoError(t, err)

	sub1, err := m.SubscribeSink(1)
	require.NoError(t, err)
	sub2, err := m.SubscribeSink(2)
	require.NoError(t, err)

	m.PushSource("orders", []diff.DiffRow{{Row: value.Row{value.NewInt64(1)}, Time: 1, Diff: 1}})
	require.NoError(t, m.Tick(1))

	require.Len(t, sub1.DrainAll(), 1)
	require.Len(t, sub2.DrainAll(), 1)
}

func TestNextTaskIdMonotonic(t *testing.T) {
	m := NewManager(testConfig())
	first := m.NextTaskId()
	_, _, err := m.CreateTask(first, "out", false, passthroughPlan())
	require.NoError(t, err)

	second := m.NextTaskId()
	require.Greater(t, second, first)
}
