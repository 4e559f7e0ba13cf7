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

package accum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GreptimeTeam/greptime-flownode/internal/errorsx"
	"github.com/GreptimeTeam/greptime-flownode/internal/value"
)

func mustNew(t *testing.T, fn Func, kind value.Kind) *Accum {
	t.Helper()
	a, err := New(fn, kind)
	require.NoError(t, err)
	return a
}

func TestAnyAccumulator(t *testing.T) {
	a := mustNew(t, FuncAny, value.KindBool)
	require.NoError(t, a.Update(value.NewBool(false), 1))
	require.NoError(t, a.Update(value.NewBool(false), 1))
	require.NoError(t, a.Update(value.NewBool(true), 1))

	got, err := a.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewBool(true), got)

	state := a.IntoState()
	require.Len(t, state, 2)
	trues, _ := state[0].AsInt64()
	falses, _ := state[1].AsInt64()
	require.Equal(t, int64(1), trues)
	require.Equal(t, int64(2), falses)
}

func TestSumInt32Accumulator(t *testing.T) {
	a := mustNew(t, FuncSum, value.KindInt32)
	require.NoError(t, a.Update(value.NewInt32(1), 1))

	state := a.IntoState()
	require.Len(t, state, 2)
	hi, lo, prec, scale, ok := state[0].AsDecimal128()
	require.True(t, ok)
	require.Equal(t, uint64(0), hi)
	require.Equal(t, uint64(1), lo)
	require.Equal(t, uint8(38), prec)
	require.Equal(t, uint8(0), scale)
	nonNulls, _ := state[1].AsUint64()
	require.Equal(t, uint64(1), nonNulls)

	got, err := a.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewInt64(1), got)
}

func TestSumAccumulatorRetraction(t *testing.T) {
	a := mustNew(t, FuncSum, value.KindInt64)
	require.NoError(t, a.Update(value.NewInt64(5), 1))
	require.NoError(t, a.Update(value.NewInt64(5), 1))
	require.NoError(t, a.Update(value.NewInt64(5), -1)) // retract one of the two 5s

	got, err := a.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewInt64(5), got)
}

func TestSumFloatZeroingRule(t *testing.T) {
	a := mustNew(t, FuncSum, value.KindFloat64)
	require.NoError(t, a.Update(value.NewFloat64(3.5), 1))
	require.NoError(t, a.Update(value.NewFloat64(3.5), -1))

	got, err := a.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewFloat64(0.0), got, "nonNulls==0 forces the float sum to exactly zero")

	state := a.IntoState()
	accum, _ := state[0].AsFloat64()
	require.Equal(t, 0.0, accum)
}

func TestSumFloat32Accumulator(t *testing.T) {
	a := mustNew(t, FuncSum, value.KindFloat32)
	require.NoError(t, a.Update(value.NewFloat32(1.0), 1))

	got, err := a.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewFloat32(1.0), got)

	state := a.IntoState()
	require.Equal(t, []value.Value{
		value.NewFloat64(1.0),
		value.NewInt64(0),
		value.NewInt64(0),
		value.NewInt64(0),
		value.NewInt64(1),
	}, state)
}

func TestSumOrderInsensitiveForInsertions(t *testing.T) {
	inputs := []int64{3, -7, 11, 2, 5}
	forward := mustNew(t, FuncSum, value.KindInt64)
	backward := mustNew(t, FuncSum, value.KindInt64)
	for i := range inputs {
		require.NoError(t, forward.Update(value.NewInt64(inputs[i]), 1))
		require.NoError(t, backward.Update(value.NewInt64(inputs[len(inputs)-1-i]), 1))
	}

	a, err := forward.Eval()
	require.NoError(t, err)
	b, err := backward.Eval()
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, forward.IntoState(), backward.IntoState())
}

func TestMaxInt32Accumulator(t *testing.T) {
	a := mustNew(t, FuncMax, value.KindInt32)
	require.NoError(t, a.Update(value.NewInt32(1), 1))
	require.NoError(t, a.Update(value.NewInt32(2), 1))

	got, err := a.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewInt32(2), got)

	state := a.IntoState()
	require.Equal(t, value.NewInt32(2), state[0])
	nonNulls, _ := state[1].AsInt64()
	require.Equal(t, int64(2), nonNulls)
}

func TestMinMaxRejectsRetraction(t *testing.T) {
	a := mustNew(t, FuncMax, value.KindInt32)
	require.NoError(t, a.Update(value.NewInt32(1), 1))
	err := a.Update(value.NewInt32(1), -1)
	require.Error(t, err)
	var e *errorsx.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errorsx.KindInternal, e.Kind)
}

func TestCountAccumulator(t *testing.T) {
	a := mustNew(t, FuncCount, value.KindInt32)
	require.NoError(t, a.Update(value.NewInt32(1), 1))
	require.NoError(t, a.Update(value.NewInt32(2), 1))
	require.NoError(t, a.Update(value.NewInt32(1), -1))

	got, err := a.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewInt64(1), got)
}

func TestAccumStateRoundTrip(t *testing.T) {
	a := mustNew(t, FuncMax, value.KindInt32)
	require.NoError(t, a.Update(value.NewInt32(7), 1))
	require.NoError(t, a.Update(value.NewInt32(3), 1))

	state := a.IntoState()
	rebuilt, err := FromState(FuncMax, VariantOrdValue, false, false, state)
	require.NoError(t, err)

	got, err := rebuilt.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewInt32(7), got)
	require.Equal(t, state, rebuilt.IntoState())
}

func TestFromStateArityMismatch(t *testing.T) {
	_, err := FromState(FuncAny, VariantBool, false, false, []value.Value{value.NewInt64(1)})
	require.Error(t, err)
}

func TestNewRejectsTypeMismatch(t *testing.T) {
	_, err := New(FuncAny, value.KindInt32)
	require.Error(t, err)
	var e *errorsx.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errorsx.KindTypeMismatch, e.Kind)

	_, err = New(FuncSum, value.KindBool)
	require.Error(t, err)
}

func TestFirstLastValueAccumulator(t *testing.T) {
	first := mustNew(t, FuncFirstValue, value.KindInt32)
	require.NoError(t, first.Update(value.NewInt32(10), 1))
	require.NoError(t, first.Update(value.NewInt32(20), 1))
	got, err := first.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewInt32(10), got)

	last := mustNew(t, FuncLastValue, value.KindInt32)
	require.NoError(t, last.Update(value.NewInt32(10), 1))
	require.NoError(t, last.Update(value.NewInt32(20), 1))
	got, err = last.Eval()
	require.NoError(t, err)
	require.Equal(t, value.NewInt32(20), got)
}
