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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GreptimeTeam/greptime-flownode/internal/accum"
	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/errorsx"
	"github.com/GreptimeTeam/greptime-flownode/internal/plan"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

type recordingCollector struct{ errs []error }

func (c *recordingCollector) Record(err error) { c.errs = append(c.errs, err) }

type mapContext struct{ sources map[string]*Port }

func (m *mapContext) ResolveSource(name string) (*Port, bool) {
	p, ok := m.sources[name]
	return p, ok
}

func runAll(t *testing.T, ops []Operator, now diff.Timestamp) {
	t.Helper()
	for _, op := range ops {
		require.NoError(t, op.Schedule(now))
	}
}

func TestRenderSourceUnknownTableFails(t *testing.T) {
	ctx := &mapContext{sources: map[string]*Port{}}
	node := &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "missing"}}
	_, _, err := Render(node, ctx, &recordingCollector{})
	require.Error(t, err)
	var e *errorsx.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errorsx.KindTableNotFound, e.Kind)
}

func TestSourceMfpSinkPipeline(t *testing.T) {
	recv := NewPort()
	ctx := &mapContext{sources: map[string]*Port{"t": recv}}
	errs := &recordingCollector{}

	sourceNode := &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "t"}}
	mfpNode := &plan.Node{
		Kind: plan.KindMapFilterProject,
		Mfp: &plan.MfpNode{
			Input:      sourceNode,
			Predicates: []plan.Expr{plan.Binary{Op: plan.OpGt, Left: plan.ColumnRef{Index: 0}, Right: plan.Literal{Val: value.NewInt32(1)}}},
			Projection: []plan.Expr{plan.ColumnRef{Index: 0}},
		},
	}
	sinkNode := &plan.Node{Kind: plan.KindSink, Sink: &plan.SinkNode{Input: mfpNode, Name: "out"}}

	bundle, ops, err := Render(sinkNode, ctx, errs)
	require.NoError(t, err)
	require.Len(t, ops, 3) // source, mfp, sink

	recv.Send([]diff.DiffRow{
		{Row: value.Row{value.NewInt32(1)}, Time: 1, Diff: 1},
		{Row: value.Row{value.NewInt32(5)}, Time: 1, Diff: 1},
	})
	runAll(t, ops, 1)

	out := bundle.Output.DrainAll()
	require.Len(t, out, 1)
	require.Equal(t, value.Row{value.NewInt32(5)}, out[0].Row)
}

func TestReduceSumEmitsRetractAndInsertAcrossTicks(t *testing.T) {
	recv := NewPort()
	ctx := &mapContext{sources: map[string]*Port{"t": recv}}
	errs := &recordingCollector{}

	sourceNode := &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "t"}}
	reduceNode := &plan.Node{
		Kind: plan.KindReduce,
		Reduce: &plan.ReduceNode{
			Input:    sourceNode,
			KeyExprs: []plan.Expr{plan.ColumnRef{Index: 0}},
			Aggs:     []plan.AggCall{{Func: accum.FuncSum, Arg: plan.ColumnRef{Index: 1}}},
		},
	}

	bundle, ops, err := Render(reduceNode, ctx, errs)
	require.NoError(t, err)

	recv.Send([]diff.DiffRow{{Row: value.Row{value.NewInt32(1), value.NewInt64(10)}, Time: 1, Diff: 1}})
	runAll(t, ops, 1)
	first := bundle.Output.DrainAll()
	require.Len(t, first, 1)
	require.Equal(t, value.NewInt32(1), first[0].Row[0])
	require.Equal(t, value.NewInt64(10), first[0].Row[1])
	require.Equal(t, diff.Diff(1), first[0].Diff)

	recv.Send([]diff.DiffRow{{Row: value.Row{value.NewInt32(1), value.NewInt64(5)}, Time: 2, Diff: 1}})
	runAll(t, ops, 2)
	second := bundle.Output.DrainAll()
	require.Len(t, second, 2)
	retract, insert := second[0], second[1]
	if retract.Diff > 0 {
		retract, insert = insert, retract
	}
	require.Equal(t, value.NewInt64(10), retract.Row[1])
	require.Equal(t, diff.Diff(-1), retract.Diff)
	require.Equal(t, value.NewInt64(15), insert.Row[1])
	require.Equal(t, diff.Diff(1), insert.Diff)
	require.Empty(t, errs.errs)
}

func TestConstantEmitsOnceAtMinTimestamp(t *testing.T) {
	node := &plan.Node{Kind: plan.KindConstant, Constant: &plan.ConstantNode{Rows: []value.Row{{value.NewInt32(1)}}}}
	bundle, ops, err := Render(node, &mapContext{sources: map[string]*Port{}}, &recordingCollector{})
	require.NoError(t, err)

	runAll(t, ops, 0)
	out := bundle.Output.DrainAll()
	require.Len(t, out, 1)
	require.Equal(t, diff.Min, out[0].Time)

	runAll(t, ops, 100)
	require.Empty(t, bundle.Output.DrainAll(), "constant emits only once")
}

func TestFilterWithholdsUntilReleaseTime(t *testing.T) {
	recv := NewPort()
	ctx := &mapContext{sources: map[string]*Port{"t": recv}}
	sourceNode := &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "t"}}
	filterNode := &plan.Node{
		Kind:   plan.KindFilter,
		Filter: &plan.FilterNode{Input: sourceNode, ReleaseAtExpr: plan.ColumnRef{Index: 0}},
	}
	bundle, ops, err := Render(filterNode, ctx, &recordingCollector{})
	require.NoError(t, err)

	recv.Send([]diff.DiffRow{{Row: value.Row{value.NewInt64(5)}, Time: 1, Diff: 1}})
	runAll(t, ops, 1)
	require.Empty(t, bundle.Output.DrainAll(), "row due at t=5 must not be released at now=1")

	runAll(t, ops, 5)
	out := bundle.Output.DrainAll()
	require.Len(t, out, 1)
	require.Equal(t, value.NewInt64(5), out[0].Row[0])
}

func TestFilterSchdAtReportsEarliestPending(t *testing.T) {
	recv := NewPort()
	ctx := &mapContext{sources: map[string]*Port{"t": recv}}
	sourceNode := &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "t"}}
	filterNode := &plan.Node{
		Kind:   plan.KindFilter,
		Filter: &plan.FilterNode{Input: sourceNode, ReleaseAtExpr: plan.ColumnRef{Index: 0}},
	}
	_, ops, err := Render(filterNode, ctx, &recordingCollector{})
	require.NoError(t, err)
	filterOp := ops[len(ops)-1]

	_, ok := filterOp.SchdAt()
	require.False(t, ok, "nothing pending before the first Schedule")

	recv.Send([]diff.DiffRow{{Row: value.Row{value.NewInt64(5)}, Time: 1, Diff: 1}})
	require.NoError(t, ops[0].Schedule(1)) // source
	require.NoError(t, filterOp.Schedule(1))
	ts, ok := filterOp.SchdAt()
	require.True(t, ok)
	require.Equal(t, diff.Timestamp(5), ts)
}

func TestReduceWithTTLEvictsExpiredGroups(t *testing.T) {
	recv := NewPort()
	ctx := &mapContext{sources: map[string]*Port{"t": recv}}
	errs := &recordingCollector{}

	sourceNode := &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "t"}}
	reduceNode := &plan.Node{
		Kind: plan.KindReduce,
		Reduce: &plan.ReduceNode{
			Input:         sourceNode,
			KeyExprs:      []plan.Expr{plan.ColumnRef{Index: 0}},
			Aggs:          []plan.AggCall{{Func: accum.FuncCount, Arg: plan.ColumnRef{Index: 0}}},
			EventTimeExpr: plan.ColumnRef{Index: 0},
			TTL:           5,
		},
	}
	bundle, ops, err := Render(reduceNode, ctx, errs)
	require.NoError(t, err)
	reduceOp := ops[len(ops)-1]

	recv.Send([]diff.DiffRow{{Row: value.Row{value.NewInt64(0)}, Time: 0, Diff: 1}})
	runAll(t, ops, 0)
	require.Len(t, bundle.Output.DrainAll(), 1)

	ts, ok := reduceOp.SchdAt()
	require.True(t, ok)
	require.Equal(t, diff.Timestamp(5), ts)

	// Advance well past the TTL horizon with no further activity on the
	// group; TruncExpired silently drops it (no retraction surfaces).
	recv.Send(nil)
	runAll(t, ops, 100)
	require.Empty(t, bundle.Output.DrainAll())
	require.Empty(t, errs.errs)

	_, ok = reduceOp.SchdAt()
	require.False(t, ok, "no groups remain pending after eviction")
}

func TestReduceWithTTLRejectsLateData(t *testing.T) {
	recv := NewPort()
	ctx := &mapContext{sources: map[string]*Port{"t": recv}}
	errs := &recordingCollector{}

	sourceNode := &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "t"}}
	reduceNode := &plan.Node{
		Kind: plan.KindReduce,
		Reduce: &plan.ReduceNode{
			Input:         sourceNode,
			KeyExprs:      []plan.Expr{plan.ColumnRef{Index: 0}},
			Aggs:          []plan.AggCall{{Func: accum.FuncCount, Arg: plan.ColumnRef{Index: 0}}},
			EventTimeExpr: plan.ColumnRef{Index: 0},
			TTL:           5,
		},
	}
	_, ops, err := Render(reduceNode, ctx, errs)
	require.NoError(t, err)

	// A row keyed at event time 0 arriving when now=100 is far behind the
	// TTL=5 horizon; it must be rejected, not silently aggregated.
	recv.Send([]diff.DiffRow{{Row: value.Row{value.NewInt64(0)}, Time: 100, Diff: 1}})
	runAll(t, ops, 100)
	require.NotEmpty(t, errs.errs)
	var e *errorsx.Error
	require.ErrorAs(t, errs.errs[0], &e)
	require.Equal(t, errorsx.KindLateDataDiscarded, e.Kind)
}

func TestFlatmapExpandsRows(t *testing.T) {
	recv := NewPort()
	ctx := &mapContext{sources: map[string]*Port{"t": recv}}
	sourceNode := &plan.Node{Kind: plan.KindSource, Source: &plan.SourceNode{Name: "t"}}
	flatNode := &plan.Node{
		Kind: plan.KindFlatmap,
		Flatmap: &plan.FlatmapNode{
			Input: sourceNode,
			Expand: func(r value.Row) ([]value.Row, error) {
				return []value.Row{r, r}, nil
			},
		},
	}
	bundle, ops, err := Render(flatNode, ctx, &recordingCollector{})
	require.NoError(t, err)

	recv.Send([]diff.DiffRow{{Row: value.Row{value.NewInt32(1)}, Time: 1, Diff: 1}})
	runAll(t, ops, 1)
	out := bundle.Output.DrainAll()
	require.Len(t, out, 2)
}
