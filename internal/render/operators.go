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
	"sort"
	"strconv"

	"github.com/GreptimeTeam/greptime-flownode/internal/accum"
	"github.com/GreptimeTeam/greptime-flownode/internal/arrange"
	"github.com/GreptimeTeam/greptime-flownode/internal/diff"
	"github.com/GreptimeTeam/greptime-flownode/internal/diffmap"
	"github.com/GreptimeTeam/greptime-flownode/internal/errorsx"
	"github.com/GreptimeTeam/greptime-flownode/internal/plan"
	"github.com/GreptimeTeam/greptime-flownode/internal/state"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

var errTemporalFilterReleaseAtNotInt = errorsx.TypeMismatch("integer timestamp", "non-integer ReleaseAtExpr result")

// sourceOperator buffers a broadcast receive port in an Arrangement and
// releases everything at or before now, compacting the arrangement to
// now on every schedule. The arrangement remains the authoritative
// history for late-attaching readers; the released frontier is what
// keeps already-handed-off updates from being emitted again on the
// next tick.
type sourceOperator struct {
	recv *Port
	arr  *arrange.Arrangement
	out  *Port

	released    diff.Timestamp
	hasReleased bool
}

func (o *sourceOperator) Schedule(now diff.Timestamp) error {
	for _, dr := range o.recv.DrainAll() {
		if err := o.arr.Insert(dr.Row, dr.Time, dr.Diff); err != nil {
			return err
		}
	}
	var due []diff.DiffRow
	for _, dr := range o.arr.GetUpdatesInRange(now) {
		if o.hasReleased && dr.Time <= o.released {
			continue
		}
		due = append(due, dr)
	}
	if err := o.arr.CompactionTo(now); err != nil {
		return err
	}
	o.released = now
	o.hasReleased = true
	o.out.Send(due)
	return nil
}

func (o *sourceOperator) SchdAt() (diff.Timestamp, bool) { return 0, false }

// sinkOperator forwards every row it receives to its broadcast port,
// best-effort: a Port never blocks or errors on a full/closed
// subscriber, so a lagging or gone subscriber never stalls the
// dataflow.
type sinkOperator struct {
	in        *Port
	broadcast *Port
}

func (o *sinkOperator) Schedule(diff.Timestamp) error {
	batch := o.in.DrainAll()
	if o.broadcast.Closed() {
		return nil
	}
	o.broadcast.Send(batch)
	return nil
}

func (o *sinkOperator) SchdAt() (diff.Timestamp, bool) { return 0, false }

// constantOperator emits its fixed row set once, at Timestamp::MIN,
// and never again.
type constantOperator struct {
	rows    []value.Row
	out     *Port
	emitted bool
}

func (o *constantOperator) Schedule(diff.Timestamp) error {
	if o.emitted {
		return nil
	}
	batch := make([]diff.DiffRow, 0, len(o.rows))
	for _, r := range o.rows {
		batch = append(batch, diff.DiffRow{Row: r, Time: diff.Min, Diff: 1})
	}
	o.out.Send(batch)
	o.emitted = true
	return nil
}

func (o *constantOperator) SchdAt() (diff.Timestamp, bool) { return 0, false }

// mfpOperator evaluates Predicates in order with short-circuit on the
// first failing predicate, then projects surviving rows through
// Projection. Per-row evaluation errors go to the collector; the batch
// continues.
type mfpOperator struct {
	in         *Port
	out        *Port
	predicates []plan.Expr
	projection []plan.Expr
	errs       ErrorCollector
}

func (o *mfpOperator) Schedule(diff.Timestamp) error {
	batch := o.in.DrainAll()
	if len(batch) == 0 {
		return nil
	}
	out := make([]diff.DiffRow, 0, len(batch))
	for _, dr := range batch {
		keep := true
		for _, p := range o.predicates {
			v, err := p.Eval(dr.Row)
			if err != nil {
				o.errs.Record(err)
				keep = false
				break
			}
			b, _ := v.AsBool()
			if !b {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		var projected value.Row
		if len(o.projection) > 0 {
			var err error
			projected, err = evalRow(o.projection, dr.Row)
			if err != nil {
				o.errs.Record(err)
				continue
			}
		} else {
			projected = dr.Row
		}
		out = append(out, diff.DiffRow{Row: projected, Time: dr.Time, Diff: dr.Diff})
	}
	o.out.Send(out)
	return nil
}

func (o *mfpOperator) SchdAt() (diff.Timestamp, bool) { return 0, false }

// filterOperator withholds each input row in a TemporalFilterState
// until the dataflow's current time reaches the row's computed release
// timestamp, then releases it. Its SchdAt is the state's next pending
// release time, composed by the caller into the dataflow's WakeupSet so
// the manager's tick loop wakes exactly when a row becomes due rather
// than polling.
type filterOperator struct {
	in        *Port
	out       *Port
	releaseAt plan.Expr
	errs      ErrorCollector

	pending *state.TemporalFilterState
}

func newFilterOperator(in, out *Port, releaseAt plan.Expr, errs ErrorCollector) *filterOperator {
	return &filterOperator{in: in, out: out, releaseAt: releaseAt, errs: errs, pending: state.NewTemporalFilterState()}
}

func (o *filterOperator) Schedule(now diff.Timestamp) error {
	for _, dr := range o.in.DrainAll() {
		v, err := o.releaseAt.Eval(dr.Row)
		if err != nil {
			o.errs.Record(err)
			continue
		}
		ts, ok := v.AsInt64()
		if !ok {
			o.errs.Record(errTemporalFilterReleaseAtNotInt)
			continue
		}
		o.pending.AppendDeltaRow(diff.Timestamp(ts), dr.Row, dr.Diff)
	}
	o.out.Send(o.pending.TruncUntilInclusive(now))
	return nil
}

func (o *filterOperator) SchdAt() (diff.Timestamp, bool) { return o.pending.SchdAt() }

// flatmapOperator expands each input row into zero or more output rows
// at the same time/diff.
type flatmapOperator struct {
	in     *Port
	out    *Port
	expand func(value.Row) ([]value.Row, error)
	errs   ErrorCollector
}

func (o *flatmapOperator) Schedule(diff.Timestamp) error {
	batch := o.in.DrainAll()
	if len(batch) == 0 {
		return nil
	}
	var out []diff.DiffRow
	for _, dr := range batch {
		expanded, err := o.expand(dr.Row)
		if err != nil {
			o.errs.Record(err)
			continue
		}
		for _, r := range expanded {
			out = append(out, diff.DiffRow{Row: r, Time: dr.Time, Diff: dr.Diff})
		}
	}
	o.out.Send(out)
	return nil
}

func (o *flatmapOperator) SchdAt() (diff.Timestamp, bool) { return 0, false }

// reduceOperator groups rows by KeyExprs, updates one accum.Accum per
// (group, agg) pair, and emits retract-old/insert-new output rows
// through a DiffMap keyed by the group's row key. When eventTimeExpr is
// set and ttl > 0, group output is instead backed by an
// ExpiringKeyValueState keyed by the group's key row, so a group whose
// key row's event time falls behind current-TTL is evicted (both its
// output row and its in-memory accumulator state) rather than retained
// forever; SchdAt then reports the TTL state's next expiry deadline.
type reduceOperator struct {
	in            *Port
	out           *Port
	keyExprs      []plan.Expr
	aggs          []plan.AggCall
	eventTimeExpr plan.Expr
	ttl           diff.Timestamp
	errs          ErrorCollector

	groupAccums map[string][]*accum.Accum
	groupKeys   map[string]value.Row
	groupState  *diffmap.DiffMap[string, value.Row]
	ttlState    *state.ExpiringKeyValueState
}

func newReduceOperator(
	in, out *Port, keyExprs []plan.Expr, aggs []plan.AggCall, eventTimeExpr plan.Expr, ttl diff.Timestamp, errs ErrorCollector,
) *reduceOperator {
	o := &reduceOperator{
		in:            in,
		out:           out,
		keyExprs:      keyExprs,
		aggs:          aggs,
		eventTimeExpr: eventTimeExpr,
		ttl:           ttl,
		errs:          errs,
		groupAccums:   make(map[string][]*accum.Accum),
		groupKeys:     make(map[string]value.Row),
	}
	if eventTimeExpr != nil && ttl > 0 {
		o.ttlState = state.NewExpiringKeyValueState(ttl, func(key value.Row) diff.Timestamp {
			v, err := eventTimeExpr.Eval(key)
			if err != nil {
				return 0
			}
			ts, _ := v.AsInt64()
			return diff.Timestamp(ts)
		})
	} else {
		o.groupState = diffmap.New[string, value.Row]()
	}
	return o
}

func (o *reduceOperator) Schedule(now diff.Timestamp) error {
	batch := o.in.DrainAll()
	touched := make(map[string]bool)
	for _, dr := range batch {
		key, keyStr, err := groupKeyString(o.keyExprs, dr.Row)
		if err != nil {
			o.errs.Record(err)
			continue
		}
		accums, ok := o.groupAccums[keyStr]
		if !ok {
			accums = make([]*accum.Accum, len(o.aggs))
			o.groupKeys[keyStr] = key
			o.groupAccums[keyStr] = accums
		}
		for i, call := range o.aggs {
			argVal, err := call.Arg.Eval(dr.Row)
			if err != nil {
				o.errs.Record(err)
				continue
			}
			if accums[i] == nil {
				a, err := accum.New(call.Func, argVal.Kind())
				if err != nil {
					o.errs.Record(err)
					continue
				}
				accums[i] = a
			}
			if err := accums[i].Update(argVal, int64(dr.Diff)); err != nil {
				o.errs.Record(err)
				continue
			}
		}
		touched[keyStr] = true
	}

	if o.ttlState != nil {
		o.ttlState.TruncExpired(now)
		for keyStr, key := range o.groupKeys {
			if touched[keyStr] {
				continue // not yet inserted into ttlState this tick; nothing to check
			}
			if _, ok := o.ttlState.Get(key); !ok {
				delete(o.groupAccums, keyStr)
				delete(o.groupKeys, keyStr)
			}
		}
	}

	for keyStr := range touched {
		accums := o.groupAccums[keyStr]
		key := o.groupKeys[keyStr]
		outRow := make(value.Row, 0, len(key)+len(accums))
		outRow = append(outRow, key...)
		ok := true
		for _, a := range accums {
			if a == nil {
				ok = false
				break
			}
			v, err := a.Eval()
			if err != nil {
				o.errs.Record(err)
				ok = false
				break
			}
			outRow = append(outRow, v)
		}
		if !ok {
			continue
		}
		if o.ttlState != nil {
			if err := o.ttlState.Insert(now, key, outRow); err != nil {
				o.errs.Record(err)
				delete(o.groupAccums, keyStr)
				delete(o.groupKeys, keyStr)
			}
			continue
		}
		o.groupState.Insert(keyStr, outRow)
	}

	if o.ttlState != nil {
		o.out.Send(o.ttlState.GenDiff(now))
		return nil
	}
	entries := o.groupState.GenDiff(now)
	out := make([]diff.DiffRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, diff.DiffRow{Row: e.Val, Time: e.Time, Diff: e.Diff})
	}
	o.out.Send(out)
	return nil
}

func (o *reduceOperator) SchdAt() (diff.Timestamp, bool) {
	if o.ttlState != nil {
		return o.ttlState.SchdAt()
	}
	return 0, false
}

// topKOperator maintains, per group, a live running count per distinct
// row and recomputes the top Limit rows by OrderBy whenever a group is
// touched, emitting slot changes through a DiffMap keyed by
// "groupKey#rank".
type topKOperator struct {
	in       *Port
	out      *Port
	groupKey []plan.Expr
	orderBy  []plan.OrderKey
	limit    int
	errs     ErrorCollector

	counts    map[string]map[string]int64  // groupKeyStr -> rowKeyStr -> net count
	rows      map[string]map[string]value.Row
	prevSlots map[string]int
	slots     *diffmap.DiffMap[string, value.Row]
}

func newTopKOperator(in, out *Port, groupKey []plan.Expr, orderBy []plan.OrderKey, limit int, errs ErrorCollector) *topKOperator {
	return &topKOperator{
		in:        in,
		out:       out,
		groupKey:  groupKey,
		orderBy:   orderBy,
		limit:     limit,
		errs:      errs,
		counts:    make(map[string]map[string]int64),
		rows:      make(map[string]map[string]value.Row),
		prevSlots: make(map[string]int),
		slots:     diffmap.New[string, value.Row](),
	}
}

func (o *topKOperator) Schedule(now diff.Timestamp) error {
	batch := o.in.DrainAll()
	touched := make(map[string]bool)
	for _, dr := range batch {
		_, gStr, err := groupKeyString(o.groupKey, dr.Row)
		if err != nil {
			o.errs.Record(err)
			continue
		}
		rowKey := dr.Row.Key()
		if o.counts[gStr] == nil {
			o.counts[gStr] = make(map[string]int64)
			o.rows[gStr] = make(map[string]value.Row)
		}
		o.counts[gStr][rowKey] += int64(dr.Diff)
		o.rows[gStr][rowKey] = dr.Row
		if o.counts[gStr][rowKey] == 0 {
			delete(o.counts[gStr], rowKey)
			delete(o.rows[gStr], rowKey)
		}
		touched[gStr] = true
	}

	for gStr := range touched {
		live := make([]value.Row, 0, len(o.counts[gStr]))
		for rowKey, c := range o.counts[gStr] {
			if c > 0 {
				live = append(live, o.rows[gStr][rowKey])
			}
		}
		sort.Slice(live, func(i, j int) bool { return o.less(live[i], live[j]) })
		if len(live) > o.limit {
			live = live[:o.limit]
		}
		for i, row := range live {
			slotKey := gStr + "#" + strconv.Itoa(i)
			if cur, ok := o.slots.Get(slotKey); !ok || !cur.Equal(row) {
				o.slots.Insert(slotKey, row)
			}
		}
		for i := len(live); i < o.prevSlots[gStr]; i++ {
			o.slots.Remove(gStr + "#" + strconv.Itoa(i))
		}
		o.prevSlots[gStr] = len(live)
	}

	entries := o.slots.GenDiff(now)
	out := make([]diff.DiffRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, diff.DiffRow{Row: e.Val, Time: e.Time, Diff: e.Diff})
	}
	o.out.Send(out)
	return nil
}

func (o *topKOperator) less(a, b value.Row) bool {
	for _, ok := range o.orderBy {
		if ok.Col >= len(a) || ok.Col >= len(b) {
			continue
		}
		c := a[ok.Col].Compare(b[ok.Col])
		if c == 0 {
			continue
		}
		if ok.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func (o *topKOperator) SchdAt() (diff.Timestamp, bool) { return 0, false }
