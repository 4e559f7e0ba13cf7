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

// Package value implements the scalar value algebra and Row type that the
// rest of the dataflow runtime operates on: typed booleans, signed and
// unsigned integers up to 64 bits, totally-ordered floats, 128-bit decimal,
// and date/time values.
package value

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/constraints"
)

// cmpOrdered is the shared three-way comparison every totally-ordered
// Value slot (signed/unsigned integers, the totalOrder-mapped float
// key) reduces to.
func cmpOrdered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Kind tags the variant held by a Value. Kept as a small tagged union
// rather than an interface so that Row slices stay allocation-free in the
// hot accumulator/arrangement path.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindDecimal128
	KindDate
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindDecimal128:
		return "decimal128"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a single typed scalar. The zero Value is KindNull.
//
// Decimal128 packs its 128-bit unscaled integer into (hi, lo) as a two's
// complement pair with hi holding the sign-extended high word; precision
// and scale are carried in prec/scale.
type Value struct {
	kind  Kind
	i     int64
	u     uint64
	hi    uint64
	f     float64
	b     bool
	prec  uint8
	scale uint8
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

func NewInt8(v int8) Value   { return Value{kind: KindInt8, i: int64(v)} }
func NewInt16(v int16) Value { return Value{kind: KindInt16, i: int64(v)} }
func NewInt32(v int32) Value { return Value{kind: KindInt32, i: int64(v)} }
func NewInt64(v int64) Value { return Value{kind: KindInt64, i: v} }

func NewUint8(v uint8) Value   { return Value{kind: KindUint8, u: uint64(v)} }
func NewUint16(v uint16) Value { return Value{kind: KindUint16, u: uint64(v)} }
func NewUint32(v uint32) Value { return Value{kind: KindUint32, u: uint64(v)} }
func NewUint64(v uint64) Value { return Value{kind: KindUint64, u: v} }

func NewFloat32(v float32) Value { return Value{kind: KindFloat32, f: float64(v)} }
func NewFloat64(v float64) Value { return Value{kind: KindFloat64, f: v} }

// NewDecimal128 constructs a decimal with the given 128-bit two's
// complement unscaled value (hi, lo words) and the given precision/scale.
func NewDecimal128(hi, lo uint64, prec, scale uint8) Value {
	return Value{kind: KindDecimal128, hi: hi, u: lo, prec: prec, scale: scale}
}

// NewDate constructs a date value as a day count relative to the epoch.
func NewDate(days int32) Value { return Value{kind: KindDate, i: int64(days)} }

// NewTimestamp constructs a datetime value as milliseconds since the epoch.
func NewTimestamp(millis int64) Value { return Value{kind: KindTimestamp, i: millis} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsInt64 returns the value widened to int64. Valid for any signed integer
// kind, Date, and Timestamp.
func (v Value) AsInt64() (int64, bool) {
	switch v.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindDate, KindTimestamp:
		return v.i, true
	default:
		return 0, false
	}
}

// AsUint64 returns the value widened to uint64. Valid for any unsigned
// integer kind.
func (v Value) AsUint64() (uint64, bool) {
	switch v.kind {
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return v.u, true
	default:
		return 0, false
	}
}

// AsFloat64 returns the value widened to float64. Valid for Float32 and
// Float64.
func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindFloat32, KindFloat64:
		return v.f, true
	default:
		return 0, false
	}
}

// AsDecimal128 returns the raw two's complement (hi, lo) words plus
// precision/scale.
func (v Value) AsDecimal128() (hi, lo uint64, prec, scale uint8, ok bool) {
	if v.kind != KindDecimal128 {
		return 0, 0, 0, 0, false
	}
	return v.hi, v.u, v.prec, v.scale, true
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	return v == o
}

// totalOrderKey maps a float64 onto a uint64 key such that the natural
// ordering of the key matches the IEEE 754-2008 totalOrder predicate:
// -NaN < -Inf < ... < -0 < +0 < ... < +Inf < +NaN.
func totalOrderKey(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// Compare implements a total order across values of the same kind. Values
// of differing kinds compare by Kind first. Floats use the totalOrder
// predicate so NaN and signed zeros are ordered deterministically rather
// than being incomparable.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		if v.b == o.b {
			return 0
		}
		if !v.b {
			return -1
		}
		return 1
	case KindInt8, KindInt16, KindInt32, KindInt64, KindDate, KindTimestamp:
		return cmpOrdered(v.i, o.i)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return cmpOrdered(v.u, o.u)
	case KindFloat32, KindFloat64:
		return cmpOrdered(totalOrderKey(v.f), totalOrderKey(o.f))
	case KindDecimal128:
		if v.hi != o.hi {
			// hi is sign-extended two's complement; signed compare.
			return cmpOrdered(int64(v.hi), int64(o.hi))
		}
		return cmpOrdered(v.u, o.u)
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return fmt.Sprintf("%d", v.u)
	case KindFloat32, KindFloat64:
		return fmt.Sprintf("%v", v.f)
	case KindDecimal128:
		return fmt.Sprintf("decimal128(hi=%d,lo=%d,p=%d,s=%d)", v.hi, v.u, v.prec, v.scale)
	case KindDate:
		return fmt.Sprintf("date(%d)", v.i)
	case KindTimestamp:
		return fmt.Sprintf("ts(%d)", v.i)
	default:
		return "?"
	}
}

// Row is an ordered, immutable-once-constructed sequence of values.
type Row []Value

// Equal compares two rows by content.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !r[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Key returns a canonical, comparable string encoding of the row suitable
// for use as a Go map key (e.g. by DiffMap and Arrangement, which are
// keyed by Row but Go slices cannot themselves be map keys).
func (r Row) Key() string {
	var sb strings.Builder
	for _, v := range r {
		fmt.Fprintf(&sb, "%d:%s|", v.kind, v.String())
	}
	return sb.String()
}

func (r Row) String() string {
	parts := make([]string, len(r))
	for i, v := range r {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
