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

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldRetryClassification(t *testing.T) {
	retriable := []StatusCode{StatusCancelled, StatusDeadlineExceeded, StatusUnavailable, StatusUnknown}
	for _, code := range retriable {
		require.True(t, ShouldRetry(Server(code, "x", nil)), "code %v should retry", code)
	}

	terminal := []StatusCode{StatusSuccess, StatusInternal, StatusUnexpected, StatusInvalidArguments}
	for _, code := range terminal {
		require.False(t, ShouldRetry(Server(code, "x", nil)), "code %v should not retry", code)
	}

	// Non-server errors are always terminal, regardless of code.
	require.False(t, ShouldRetry(TypeMismatch("int64", "bool")))
	require.False(t, ShouldRetry(Internal("boom")))
	require.False(t, ShouldRetry(errors.New("plain error")))
}
