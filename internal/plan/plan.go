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

// Package plan defines the typed plan IR the render layer consumes:
// scalar expressions, aggregate calls, and dataflow plan nodes (Source,
// Constant, MapFilterProject, Reduce, TopK, Flatmap, Filter, Sink).
//
// Nodes form an arena-style tree addressed by ordinary Go pointers
// rather than a separately-indexed id table, since plans are DAGs built
// once at install time and never mutated concurrently — the "arena
// node identifiers plus port handles" design note applies to the
// render layer's live graph, not to this static, build-time IR.
package plan

import (
	"github.com/GreptimeTeam/greptime-flownode/internal/accum"
	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

// GlobalId stably identifies a source, sink, or intermediate collection
// across the whole manager.
type GlobalId uint64

// LocalId identifies a let-bound collection within one render scope.
type LocalId uint64

// TaskId identifies an installed dataflow within the manager.
type TaskId uint64

// Expr is a scalar expression evaluated per-row.
type Expr interface {
	Eval(row value.Row) (value.Value, error)
}

// ColumnRef reads column Index from the input row.
type ColumnRef struct {
	Index int
}

func (c ColumnRef) Eval(row value.Row) (value.Value, error) {
	if c.Index < 0 || c.Index >= len(row) {
		return value.Null(), nil
	}
	return row[c.Index], nil
}

// Literal always evaluates to a fixed value.
type Literal struct {
	Val value.Value
}

func (l Literal) Eval(value.Row) (value.Value, error) { return l.Val, nil }

// BinOp names a binary scalar operator.
type BinOp int

const (
	OpEq BinOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
)

// Binary applies a binary operator to two sub-expressions.
type Binary struct {
	Op          BinOp
	Left, Right Expr
}

func (b Binary) Eval(row value.Row) (value.Value, error) {
	lv, err := b.Left.Eval(row)
	if err != nil {
		return value.Null(), err
	}
	rv, err := b.Right.Eval(row)
	if err != nil {
		return value.Null(), err
	}
	switch b.Op {
	case OpAnd, OpOr:
		lb, _ := lv.AsBool()
		rb, _ := rv.AsBool()
		if b.Op == OpAnd {
			return value.NewBool(lb && rb), nil
		}
		return value.NewBool(lb || rb), nil
	default:
		c := lv.Compare(rv)
		switch b.Op {
		case OpEq:
			return value.NewBool(c == 0), nil
		case OpNeq:
			return value.NewBool(c != 0), nil
		case OpLt:
			return value.NewBool(c < 0), nil
		case OpLte:
			return value.NewBool(c <= 0), nil
		case OpGt:
			return value.NewBool(c > 0), nil
		case OpGte:
			return value.NewBool(c >= 0), nil
		}
	}
	return value.Null(), nil
}

// Not negates a boolean sub-expression.
type Not struct {
	Inner Expr
}

func (n Not) Eval(row value.Row) (value.Value, error) {
	v, err := n.Inner.Eval(row)
	if err != nil {
		return value.Null(), err
	}
	b, _ := v.AsBool()
	return value.NewBool(!b), nil
}

// AggCall names one aggregate computed per reduce group: the function
// and the column it draws from.
type AggCall struct {
	Func accum.Func
	Arg  Expr
}

// OrderKey names one TopK ordering column and its direction.
type OrderKey struct {
	Col  int
	Desc bool
}

// Kind tags which variant a Node holds.
type Kind int

const (
	KindSource Kind = iota
	KindConstant
	KindMapFilterProject
	KindReduce
	KindTopK
	KindFlatmap
	KindFilter
	KindSink
)

// Node is a single plan node, tagged by Kind. Only the field matching
// Kind is populated, mirroring internal/accum's tagged-variant style
// rather than an interface hierarchy.
type Node struct {
	Kind Kind

	Source   *SourceNode
	Constant *ConstantNode
	Mfp      *MfpNode
	Reduce   *ReduceNode
	TopK     *TopKNode
	Flatmap  *FlatmapNode
	Filter   *FilterNode
	Sink     *SinkNode
}

// SourceNode reads from a named source table.
type SourceNode struct {
	Table GlobalId
	Name  string
}

// ConstantNode emits a fixed set of rows at Timestamp::MIN.
type ConstantNode struct {
	Rows []value.Row
}

// MfpNode stateless per-row project/filter. Predicates are evaluated in
// order with short-circuit on the first failing predicate; Projection
// names the output columns as expressions over the input row.
type MfpNode struct {
	Input      *Node
	Predicates []Expr
	Projection []Expr
}

// ReduceNode groups rows by KeyExprs and applies one AggCall per output
// aggregate column. EventTimeExpr and TTL are optional: when EventTimeExpr
// is set and TTL is positive, the group's output is backed by an
// internal/state.ExpiringKeyValueState instead of a plain DiffMap, so a
// group whose key row's event time (EventTimeExpr evaluated over the
// key row) falls behind current-TTL is silently evicted rather than
// held forever, bounding the Reduce operator's memory under an
// unbounded-cardinality key.
type ReduceNode struct {
	Input         *Node
	KeyExprs      []Expr
	Aggs          []AggCall
	EventTimeExpr Expr
	TTL           diff.Timestamp
}

// TopKNode keeps, per group, the top Limit rows ordered by OrderBy.
type TopKNode struct {
	Input    *Node
	GroupKey []Expr
	OrderBy  []OrderKey
	Limit    int
}

// FlatmapNode expands each input row into zero or more output rows via
// Expand (e.g. unnesting an array column).
type FlatmapNode struct {
	Input  *Node
	Expand func(value.Row) ([]value.Row, error)
}

// FilterNode delays each input row until its event time has arrived:
// ReleaseAtExpr computes a per-row release timestamp, and the row is
// withheld (buffered in an internal/state.TemporalFilterState) until
// the dataflow's current time reaches it.
type FilterNode struct {
	Input         *Node
	ReleaseAtExpr Expr
}

// SinkNode is the terminal node writing a dataflow's output to its sink
// broadcast.
type SinkNode struct {
	Input *Node
	Name  string
}
