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

// Package errorsx implements the dataflow runtime's error taxonomy: typed
// error kinds, the closed StatusCode enum used on the wire, the
// x-greptime-err-info header codec, and the client retry contract.
//
// Stack capture rides on github.com/pkg/errors: Internal errors are
// built through errors.WithStack and carry its frames in Stack; the other
// constructors capture no stack. A stack frame list is also what the
// Server{code,msg,stack} kind carries.
package errorsx

import (
	"fmt"

	"github.com/pkg/errors"
)

// StatusCode is the closed set of transport-level statuses a gRPC-style
// envelope can carry. Unknown inbound codes decode to StatusUnknown;
// header decode failures themselves report as StatusInternal.
type StatusCode int

const (
	StatusSuccess StatusCode = iota
	StatusUnknown
	StatusInternal
	StatusUnexpected
	StatusInvalidArguments
	StatusCancelled
	StatusDeadlineExceeded
	StatusUnavailable
)

func (c StatusCode) String() string {
	switch c {
	case StatusSuccess:
		return "Success"
	case StatusUnknown:
		return "Unknown"
	case StatusInternal:
		return "Internal"
	case StatusUnexpected:
		return "Unexpected"
	case StatusInvalidArguments:
		return "InvalidArguments"
	case StatusCancelled:
		return "Cancelled"
	case StatusDeadlineExceeded:
		return "DeadlineExceeded"
	case StatusUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// Kind names the error taxonomy, independent of any Go type name.
type Kind int

const (
	KindTypeMismatch Kind = iota
	KindInternal
	KindLateDataDiscarded
	KindNotImplemented
	KindPlan
	KindInvalidQuery
	KindTableNotFound
	KindServer
	KindIllegalGrpcClientState
)

// Error is the single error type produced by this module. Every
// constructor below fixes Kind and Code; Msg and the optional payload
// fields carry the rest.
type Error struct {
	Kind Kind
	Code StatusCode
	Msg  string

	// Payload, populated according to Kind.
	Expected string // TypeMismatch
	Actual   string // TypeMismatch
	LateByMS int64  // LateDataDiscarded
	Name     string // TableNotFound
	Stack    []string
}

func (e *Error) Error() string {
	return e.Msg
}

// TypeMismatch signals an aggregate/scalar evaluation whose actual input
// type disagrees with the expected type. Fatal to the containing batch.
func TypeMismatch(expected, actual string) *Error {
	return &Error{
		Kind:     KindTypeMismatch,
		Code:     StatusInvalidArguments,
		Msg:      fmt.Sprintf("type mismatch: expected %s, got %s", expected, actual),
		Expected: expected,
		Actual:   actual,
	}
}

// Internal signals an invariant violation (bad accumulator state arity, a
// retraction fed to a Min/Max accumulator). Fatal to the dataflow.
func Internal(format string, args ...any) *Error {
	err := errors.WithStack(fmt.Errorf(format, args...))
	return &Error{
		Kind:  KindInternal,
		Code:  StatusInternal,
		Msg:   fmt.Sprintf(format, args...),
		Stack: framesOf(err),
	}
}

// LateDataDiscarded signals that ExpiringKeyValueState rejected an
// insert/remove whose event time had already expired. Recorded and
// surfaced to the per-dataflow error collector; the record itself is
// dropped silently from user view.
func LateDataDiscarded(lateByMS int64) *Error {
	return &Error{
		Kind:     KindLateDataDiscarded,
		Code:     StatusInvalidArguments,
		Msg:      fmt.Sprintf("late data discarded: %dms past the expiry horizon", lateByMS),
		LateByMS: lateByMS,
	}
}

// NotImplemented signals a plan construct the render layer does not
// support. Fatal at install time; the task is rejected.
func NotImplemented(reason string) *Error {
	return &Error{Kind: KindNotImplemented, Code: StatusInvalidArguments, Msg: "not implemented: " + reason}
}

// Plan signals a structurally invalid plan. Fatal at install time.
func Plan(reason string) *Error {
	return &Error{Kind: KindPlan, Code: StatusInvalidArguments, Msg: "invalid plan: " + reason}
}

// InvalidQuery signals type misuse discovered while rendering a plan.
// Fatal at install time.
func InvalidQuery(reason string) *Error {
	return &Error{Kind: KindInvalidQuery, Code: StatusInvalidArguments, Msg: "invalid query: " + reason}
}

// TableNotFound signals that a plan referenced a source table the
// DataflowContext does not know about. Fatal at install time.
func TableNotFound(name string) *Error {
	return &Error{Kind: KindTableNotFound, Code: StatusInvalidArguments, Msg: "table not found: " + name, Name: name}
}

// Server wraps a decoded wire error, propagated verbatim to the caller.
func Server(code StatusCode, msg string, stack []string) *Error {
	return &Error{Kind: KindServer, Code: code, Msg: msg, Stack: stack}
}

// IllegalGrpcClientState surfaces a transport-layer misuse as an Internal
// error upward, per the propagation policy.
func IllegalGrpcClientState(reason string) *Error {
	return &Error{Kind: KindIllegalGrpcClientState, Code: StatusInternal, Msg: "illegal grpc client state: " + reason}
}

// framesOf extracts printable stack frames from an error produced by
// errors.WithStack, if any. No frames are fabricated when none exist.
func framesOf(err error) []string {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	st, ok := err.(stackTracer)
	if !ok {
		return nil
	}
	trace := st.StackTrace()
	frames := make([]string, 0, len(trace))
	for _, f := range trace {
		frames = append(frames, fmt.Sprintf("%+v", f))
	}
	return frames
}
