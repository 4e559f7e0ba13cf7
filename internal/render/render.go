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

// Package render translates a typed plan into a tree of scheduled
// operators wired together by Ports, the way a pipeline wires a chain
// of processing stages together with channels. Rendering is purely
// structural: it never runs an operator, only builds the graph and
// returns the operators in dependency (source-first) order for the
// caller's tick loop to drive.
package render

import (
	"github.com/GreptimeTeam/greptime-flownode/internal/arrange"
	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/errorsx"
	"github.com/GreptimeTeam/greptime-flownode/internal/plan"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

// ErrorCollector receives per-row errors that must not abort the
// subgraph they occurred in.
type ErrorCollector interface {
	Record(err error)
}

// CollectionBundle is a rendered plan node's output: a stream port plus
// the named index arrangements built along the way. Source nodes
// introduce an arrangement under their table name; every downstream
// node carries its input's indexes through so the installed dataflow's
// terminal bundle exposes all of them.
type CollectionBundle struct {
	Output  *Port
	Indexes map[string]*arrange.Arrangement
}

// Operator is a schedulable unit of the rendered graph.
type Operator interface {
	// Schedule runs the operator for logical time now, draining its
	// input port(s) and producing output on its own port.
	Schedule(now diff.Timestamp) error
	// SchdAt reports the earliest time this operator next needs to run,
	// if it has pending scheduled-state work (Filter's TemporalFilterState,
	// a TTL-backed Reduce's ExpiringKeyValueState); every other operator
	// always reports not-scheduled,
	// since they only run in response to upstream data.
	SchdAt() (diff.Timestamp, bool)
}

// DataflowContext resolves a named source table to its receive port,
// the broadcast end the manager feeds via push_source.
type DataflowContext interface {
	ResolveSource(name string) (*Port, bool)
}

// Render lowers a plan node into a CollectionBundle and the flat,
// dependency-ordered (source-first) list of operators that produce it.
func Render(node *plan.Node, ctx DataflowContext, errs ErrorCollector) (*CollectionBundle, []Operator, error) {
	if node == nil {
		return nil, nil, errorsx.Plan("nil plan node")
	}
	switch node.Kind {
	case plan.KindSource:
		return renderSource(node.Source, ctx)
	case plan.KindConstant:
		return renderConstant(node.Constant)
	case plan.KindMapFilterProject:
		return renderMfp(node.Mfp, ctx, errs)
	case plan.KindReduce:
		return renderReduce(node.Reduce, ctx, errs)
	case plan.KindTopK:
		return renderTopK(node.TopK, ctx, errs)
	case plan.KindFlatmap:
		return renderFlatmap(node.Flatmap, ctx, errs)
	case plan.KindFilter:
		return renderFilter(node.Filter, ctx, errs)
	case plan.KindSink:
		return renderSink(node.Sink, ctx, errs)
	default:
		return nil, nil, errorsx.NotImplemented("unknown plan node kind")
	}
}

func renderSource(n *plan.SourceNode, ctx DataflowContext) (*CollectionBundle, []Operator, error) {
	if n == nil {
		return nil, nil, errorsx.Plan("Source node missing its SourceNode payload")
	}
	recv, ok := ctx.ResolveSource(n.Name)
	if !ok {
		return nil, nil, errorsx.TableNotFound(n.Name)
	}
	out := NewPort()
	arr := arrange.New()
	op := &sourceOperator{recv: recv, arr: arr, out: out}
	bundle := &CollectionBundle{Output: out, Indexes: map[string]*arrange.Arrangement{n.Name: arr}}
	return bundle, []Operator{op}, nil
}

func renderConstant(n *plan.ConstantNode) (*CollectionBundle, []Operator, error) {
	if n == nil {
		return nil, nil, errorsx.Plan("Constant node missing its ConstantNode payload")
	}
	out := NewPort()
	op := &constantOperator{rows: n.Rows, out: out}
	return &CollectionBundle{Output: out, Indexes: map[string]*arrange.Arrangement{}}, []Operator{op}, nil
}

func renderMfp(n *plan.MfpNode, ctx DataflowContext, errs ErrorCollector) (*CollectionBundle, []Operator, error) {
	if n == nil {
		return nil, nil, errorsx.Plan("MapFilterProject node missing its MfpNode payload")
	}
	inBundle, inOps, err := Render(n.Input, ctx, errs)
	if err != nil {
		return nil, nil, err
	}
	out := NewPort()
	op := &mfpOperator{in: inBundle.Output, out: out, predicates: n.Predicates, projection: n.Projection, errs: errs}
	return &CollectionBundle{Output: out, Indexes: inBundle.Indexes}, append(inOps, op), nil
}

func renderReduce(n *plan.ReduceNode, ctx DataflowContext, errs ErrorCollector) (*CollectionBundle, []Operator, error) {
	if n == nil {
		return nil, nil, errorsx.Plan("Reduce node missing its ReduceNode payload")
	}
	if len(n.Aggs) == 0 {
		return nil, nil, errorsx.InvalidQuery("Reduce requires at least one aggregate")
	}
	inBundle, inOps, err := Render(n.Input, ctx, errs)
	if err != nil {
		return nil, nil, err
	}
	out := NewPort()
	op := newReduceOperator(inBundle.Output, out, n.KeyExprs, n.Aggs, n.EventTimeExpr, n.TTL, errs)
	return &CollectionBundle{Output: out, Indexes: inBundle.Indexes}, append(inOps, op), nil
}

func renderTopK(n *plan.TopKNode, ctx DataflowContext, errs ErrorCollector) (*CollectionBundle, []Operator, error) {
	if n == nil {
		return nil, nil, errorsx.Plan("TopK node missing its TopKNode payload")
	}
	if n.Limit <= 0 {
		return nil, nil, errorsx.InvalidQuery("TopK limit must be positive")
	}
	inBundle, inOps, err := Render(n.Input, ctx, errs)
	if err != nil {
		return nil, nil, err
	}
	out := NewPort()
	op := newTopKOperator(inBundle.Output, out, n.GroupKey, n.OrderBy, n.Limit, errs)
	return &CollectionBundle{Output: out, Indexes: inBundle.Indexes}, append(inOps, op), nil
}

func renderFlatmap(n *plan.FlatmapNode, ctx DataflowContext, errs ErrorCollector) (*CollectionBundle, []Operator, error) {
	if n == nil {
		return nil, nil, errorsx.Plan("Flatmap node missing its FlatmapNode payload")
	}
	if n.Expand == nil {
		return nil, nil, errorsx.NotImplemented("Flatmap node has no Expand function")
	}
	inBundle, inOps, err := Render(n.Input, ctx, errs)
	if err != nil {
		return nil, nil, err
	}
	out := NewPort()
	op := &flatmapOperator{in: inBundle.Output, out: out, expand: n.Expand, errs: errs}
	return &CollectionBundle{Output: out, Indexes: inBundle.Indexes}, append(inOps, op), nil
}

func renderFilter(n *plan.FilterNode, ctx DataflowContext, errs ErrorCollector) (*CollectionBundle, []Operator, error) {
	if n == nil {
		return nil, nil, errorsx.Plan("Filter node missing its FilterNode payload")
	}
	if n.ReleaseAtExpr == nil {
		return nil, nil, errorsx.NotImplemented("Filter node has no ReleaseAtExpr")
	}
	inBundle, inOps, err := Render(n.Input, ctx, errs)
	if err != nil {
		return nil, nil, err
	}
	out := NewPort()
	op := newFilterOperator(inBundle.Output, out, n.ReleaseAtExpr, errs)
	return &CollectionBundle{Output: out, Indexes: inBundle.Indexes}, append(inOps, op), nil
}

func renderSink(n *plan.SinkNode, ctx DataflowContext, errs ErrorCollector) (*CollectionBundle, []Operator, error) {
	if n == nil {
		return nil, nil, errorsx.Plan("Sink node missing its SinkNode payload")
	}
	inBundle, inOps, err := Render(n.Input, ctx, errs)
	if err != nil {
		return nil, nil, err
	}
	out := NewPort() // the sink's own broadcast; the manager attaches subscribers to it
	op := &sinkOperator{in: inBundle.Output, broadcast: out}
	return &CollectionBundle{Output: out, Indexes: inBundle.Indexes}, append(inOps, op), nil
}

func evalRow(exprs []plan.Expr, row value.Row) (value.Row, error) {
	out := make(value.Row, len(exprs))
	for i, e := range exprs {
		v, err := e.Eval(row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func groupKeyString(keyExprs []plan.Expr, row value.Row) (value.Row, string, error) {
	key, err := evalRow(keyExprs, row)
	if err != nil {
		return nil, "", err
	}
	return key, key.Key(), nil
}

