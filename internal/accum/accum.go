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

// Package accum implements the accumulator algebra: state machines that
// make aggregate functions incrementally updatable under signed diffs.
//
// Accum is a tagged variant (Bool, SimpleNumber, Float, OrdValue) rather
// than an interface, so that updating an accumulator switches on a
// variant tag instead of dispatching through a vtable in the hot per-row
// path (SimpleNumber's math/big arithmetic may still allocate). The Reduce
// operator in internal/render is the caller that drives Accum.Update on
// every incoming DiffRow.
package accum

import (
	"math"
	"math/big"

	"github.com/GreptimeTeam/greptime-flownode/internal/errorsx"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

// Func names the aggregate function an Accum was constructed for.
type Func int

const (
	FuncSum Func = iota
	FuncCount
	FuncMin
	FuncMax
	FuncAny
	FuncAll
	FuncMaxBool
	FuncMinBool
	FuncFirstValue
	FuncLastValue
)

// Variant is the concrete state-machine shape backing an Accum.
type Variant int

const (
	VariantBool Variant = iota
	VariantSimpleNumber
	VariantFloat
	VariantOrdValue
)

// Accum is a single aggregate's incremental state. The zero value is not
// meaningful; construct with New.
type Accum struct {
	variant Variant
	fn      Func

	// Bool: trues/falses are signed running counts.
	trues  int64
	falses int64

	// SimpleNumber: accum is the widened 128-bit running sum; signed
	// indicates whether Eval casts to int64 or uint64.
	accum128 big.Int
	signed   bool
	nonNulls int64

	// Float: wide selects float64 (true) vs float32 (false) on Eval.
	fAccum  float64
	posInfs int64
	negInfs int64
	nans    int64
	wide    bool

	// OrdValue: val/ordSet back Count's running value (unused) and every
	// Min/Max/FirstValue/LastValue.
	val    value.Value
	ordSet bool
}

// New constructs an empty Accum for fn over values of the given kind,
// selecting the variant that can represent that combination.
// TypeMismatch is returned immediately if fn cannot operate over kind.
func New(fn Func, kind value.Kind) (*Accum, error) {
	a := &Accum{fn: fn}
	switch fn {
	case FuncAny, FuncAll, FuncMaxBool, FuncMinBool:
		if kind != value.KindBool {
			return nil, errorsx.TypeMismatch("bool", kind.String())
		}
		a.variant = VariantBool
	case FuncSum:
		switch kind {
		case value.KindInt8, value.KindInt16, value.KindInt32, value.KindInt64:
			a.variant = VariantSimpleNumber
			a.signed = true
		case value.KindUint8, value.KindUint16, value.KindUint32, value.KindUint64:
			a.variant = VariantSimpleNumber
			a.signed = false
		case value.KindFloat32:
			a.variant = VariantFloat
			a.wide = false
		case value.KindFloat64:
			a.variant = VariantFloat
			a.wide = true
		default:
			return nil, errorsx.TypeMismatch("numeric", kind.String())
		}
	case FuncCount, FuncMin, FuncMax, FuncFirstValue, FuncLastValue:
		a.variant = VariantOrdValue
	default:
		return nil, errorsx.Internal("accum: unsupported function %d", fn)
	}
	return a, nil
}

// Update folds a single (value, diff) pair into the accumulator. diff may
// be negative (a retraction) except for Min/Max/FirstValue/LastValue,
// which reject non-positive diffs to preserve monotonicity.
func (a *Accum) Update(v value.Value, d int64) error {
	switch a.variant {
	case VariantBool:
		return a.updateBool(v, d)
	case VariantSimpleNumber:
		return a.updateSimpleNumber(v, d)
	case VariantFloat:
		return a.updateFloat(v, d)
	case VariantOrdValue:
		return a.updateOrdValue(v, d)
	default:
		return errorsx.Internal("accum: unknown variant %d", a.variant)
	}
}

// UpdateBatch applies a slice of (value, diff) pairs in order.
func (a *Accum) UpdateBatch(vs []value.Value, diffs []int64) error {
	if len(vs) != len(diffs) {
		return errorsx.Internal("accum: UpdateBatch length mismatch %d vs %d", len(vs), len(diffs))
	}
	for i := range vs {
		if err := a.Update(vs[i], diffs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accum) updateBool(v value.Value, d int64) error {
	b, ok := v.AsBool()
	if !ok {
		return errorsx.TypeMismatch("bool", v.Kind().String())
	}
	if b {
		a.trues += d
	} else {
		a.falses += d
	}
	return nil
}

func (a *Accum) updateSimpleNumber(v value.Value, d int64) error {
	var widened big.Int
	if a.signed {
		i, ok := v.AsInt64()
		if !ok {
			return errorsx.TypeMismatch("signed integer", v.Kind().String())
		}
		widened.SetInt64(i)
	} else {
		u, ok := v.AsUint64()
		if !ok {
			return errorsx.TypeMismatch("unsigned integer", v.Kind().String())
		}
		widened.SetUint64(u)
	}
	widened.Mul(&widened, big.NewInt(d))
	a.accum128.Add(&a.accum128, &widened)
	a.nonNulls += d
	return nil
}

func (a *Accum) updateFloat(v value.Value, d int64) error {
	f, ok := v.AsFloat64()
	if !ok {
		return errorsx.TypeMismatch("float", v.Kind().String())
	}
	switch {
	case math.IsNaN(f):
		a.nans += d
	case math.IsInf(f, 1):
		a.posInfs += d
	case math.IsInf(f, -1):
		a.negInfs += d
	default:
		a.fAccum += f * float64(d)
	}
	a.nonNulls += d
	return nil
}

func (a *Accum) updateOrdValue(v value.Value, d int64) error {
	if a.fn == FuncMin || a.fn == FuncMax || a.fn == FuncFirstValue || a.fn == FuncLastValue {
		if d <= 0 {
			return errorsx.Internal("accum: min/max/first/last does not support retraction (diff=%d)", d)
		}
	}
	a.nonNulls += d
	if a.fn == FuncCount {
		return nil
	}
	if !a.ordSet {
		a.val = v
		a.ordSet = true
		return nil
	}
	switch a.fn {
	case FuncMin:
		if v.Compare(a.val) < 0 {
			a.val = v
		}
	case FuncMax:
		if v.Compare(a.val) > 0 {
			a.val = v
		}
	case FuncLastValue:
		a.val = v
	case FuncFirstValue:
		// Keep the first value seen; nothing to do.
	}
	return nil
}

// Eval produces the accumulator's current result for its bound function.
func (a *Accum) Eval() (value.Value, error) {
	switch a.variant {
	case VariantBool:
		switch a.fn {
		case FuncAny, FuncMaxBool:
			return value.NewBool(a.trues > 0), nil
		case FuncAll, FuncMinBool:
			return value.NewBool(a.falses == 0), nil
		default:
			return value.Null(), errorsx.Internal("accum: function %d not supported by Bool accumulator", a.fn)
		}
	case VariantSimpleNumber:
		if a.fn != FuncSum {
			return value.Null(), errorsx.Internal("accum: function %d not supported by SimpleNumber accumulator", a.fn)
		}
		if a.signed {
			if !a.accum128.IsInt64() {
				return value.Null(), errorsx.Internal("accum: sum overflow casting to i64")
			}
			return value.NewInt64(a.accum128.Int64()), nil
		}
		if a.accum128.Sign() < 0 || !a.accum128.IsUint64() {
			return value.Null(), errorsx.Internal("accum: sum overflow casting to u64")
		}
		return value.NewUint64(a.accum128.Uint64()), nil
	case VariantFloat:
		if a.fn != FuncSum {
			return value.Null(), errorsx.Internal("accum: function %d not supported by Float accumulator", a.fn)
		}
		out := a.fAccum
		if a.nonNulls == 0 {
			out = 0.0
		}
		if a.wide {
			return value.NewFloat64(out), nil
		}
		return value.NewFloat32(float32(out)), nil
	case VariantOrdValue:
		switch a.fn {
		case FuncCount:
			return value.NewInt64(a.nonNulls), nil
		case FuncMin, FuncMax, FuncFirstValue, FuncLastValue:
			if !a.ordSet {
				return value.Null(), nil
			}
			return a.val, nil
		default:
			return value.Null(), errorsx.Internal("accum: function %d not supported by OrdValue accumulator", a.fn)
		}
	default:
		return value.Null(), errorsx.Internal("accum: unknown variant %d", a.variant)
	}
}

// IntoState flattens the accumulator to its fixed-arity value sequence:
// Bool:2, SimpleNumber:2, Float:5, OrdValue:2.
func (a *Accum) IntoState() []value.Value {
	switch a.variant {
	case VariantBool:
		return []value.Value{value.NewInt64(a.trues), value.NewInt64(a.falses)}
	case VariantSimpleNumber:
		hi, lo := bigToHiLo(&a.accum128)
		return []value.Value{
			value.NewDecimal128(hi, lo, 38, 0),
			value.NewUint64(uint64(a.nonNulls)),
		}
	case VariantFloat:
		accum := a.fAccum
		if a.nonNulls == 0 {
			accum = 0.0
		}
		return []value.Value{
			value.NewFloat64(accum),
			value.NewInt64(a.posInfs),
			value.NewInt64(a.negInfs),
			value.NewInt64(a.nans),
			value.NewInt64(a.nonNulls),
		}
	case VariantOrdValue:
		v := a.val
		if !a.ordSet {
			v = value.Null()
		}
		return []value.Value{v, value.NewInt64(a.nonNulls)}
	default:
		return nil
	}
}

// FromState rebuilds an Accum of the given function/variant from exactly
// the value sequence IntoState would have produced. Arity or type
// mismatch fails with an Internal error naming the expected shape.
func FromState(fn Func, variant Variant, signed, wide bool, state []value.Value) (*Accum, error) {
	a := &Accum{fn: fn, variant: variant, signed: signed, wide: wide}
	switch variant {
	case VariantBool:
		if len(state) != 2 {
			return nil, errorsx.Internal("accum: Bool state should have 2 values")
		}
		trues, ok1 := state[0].AsInt64()
		falses, ok2 := state[1].AsInt64()
		if !ok1 || !ok2 {
			return nil, errorsx.Internal("accum: Bool state should have 2 values")
		}
		a.trues, a.falses = trues, falses
	case VariantSimpleNumber:
		if len(state) != 2 {
			return nil, errorsx.Internal("accum: SimpleNumber state should have 2 values")
		}
		hi, lo, _, _, ok := state[0].AsDecimal128()
		nonNulls, ok2 := state[1].AsUint64()
		if !ok || !ok2 {
			return nil, errorsx.Internal("accum: SimpleNumber state should have 2 values")
		}
		a.accum128 = *hiLoToBig(hi, lo)
		a.nonNulls = int64(nonNulls)
	case VariantFloat:
		if len(state) != 5 {
			return nil, errorsx.Internal("accum: Float state should have 5 values")
		}
		accum, ok1 := state[0].AsFloat64()
		posInfs, ok2 := state[1].AsInt64()
		negInfs, ok3 := state[2].AsInt64()
		nans, ok4 := state[3].AsInt64()
		nonNulls, ok5 := state[4].AsInt64()
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			return nil, errorsx.Internal("accum: Float state should have 5 values")
		}
		a.nonNulls = nonNulls
		if nonNulls == 0 {
			accum = 0.0
		}
		a.fAccum, a.posInfs, a.negInfs, a.nans = accum, posInfs, negInfs, nans
	case VariantOrdValue:
		if len(state) != 2 {
			return nil, errorsx.Internal("accum: OrdValue state should have 2 values")
		}
		nonNulls, ok := state[1].AsInt64()
		if !ok {
			return nil, errorsx.Internal("accum: OrdValue state should have 2 values")
		}
		a.nonNulls = nonNulls
		if !state[0].IsNull() {
			a.val = state[0]
			a.ordSet = true
		}
	default:
		return nil, errorsx.Internal("accum: unknown variant %d", variant)
	}
	return a, nil
}

func bigToHiLo(b *big.Int) (hi, lo uint64) {
	var u big.Int
	if b.Sign() < 0 {
		// Two's complement over 128 bits: (1<<128) + b.
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		u.Add(mod, b)
	} else {
		u.Set(b)
	}
	mask := new(big.Int).SetUint64(^uint64(0))
	loBig := new(big.Int).And(&u, mask)
	hiBig := new(big.Int).Rsh(&u, 64)
	return hiBig.Uint64(), loBig.Uint64()
}

func hiLoToBig(hi, lo uint64) *big.Int {
	u := new(big.Int).Lsh(new(big.Int).SetUint64(hi), 64)
	u.Or(u, new(big.Int).SetUint64(lo))
	// hi's top bit, bit 127 overall, marks two's complement sign.
	if hi&(1<<63) != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		u.Sub(u, mod)
	}
	return u
}
