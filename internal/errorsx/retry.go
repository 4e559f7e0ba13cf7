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

package errorsx

import "errors"

// ShouldRetry implements the client retry contract: a client error is
// retriable iff it originates from a region/flow server (Kind ==
// KindServer) with a transport code of Cancelled, DeadlineExceeded,
// Unavailable, or Unknown. All other errors, including Server errors with
// any other code, are terminal.
func ShouldRetry(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind != KindServer {
		return false
	}
	switch e.Code {
	case StatusCancelled, StatusDeadlineExceeded, StatusUnavailable, StatusUnknown:
		return true
	default:
		return false
	}
}
