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
	"fmt"
	"strconv"
	"strings"
)

// Escape applies the standard ASCII-escape form used by the
// x-greptime-err-info header: printable ASCII verbatim, every other byte
// as \xNN, with \n, \t, and \\ given their short forms. The escaped output
// is itself always printable ASCII, which is what lets Encode use a raw
// newline as a field separator below without ambiguity.
func Escape(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == '\\':
			sb.WriteString(`\\`)
		case b == '\n':
			sb.WriteString(`\n`)
		case b == '\t':
			sb.WriteString(`\t`)
		case b >= 0x20 && b < 0x7f:
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, `\x%02X`, b)
		}
	}
	return sb.String()
}

// Unescape reverses Escape, failing if the input contains a malformed
// escape sequence.
func Unescape(s string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			sb.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("errorsx: dangling escape at end of input")
		}
		switch s[i+1] {
		case '\\':
			sb.WriteByte('\\')
			i++
		case 'n':
			sb.WriteByte('\n')
			i++
		case 't':
			sb.WriteByte('\t')
			i++
		case 'x':
			if i+3 >= len(s) {
				return "", fmt.Errorf("errorsx: truncated \\xNN escape")
			}
			n, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
			if err != nil {
				return "", fmt.Errorf("errorsx: invalid \\xNN escape: %w", err)
			}
			sb.WriteByte(byte(n))
			i += 3
		default:
			return "", fmt.Errorf("errorsx: unknown escape sequence \\%c", s[i+1])
		}
	}
	return sb.String(), nil
}

// EncodeHeader produces the x-greptime-err-info header value for the
// later wire form: [code, always-escaped msg, stack*]. The earlier form
// seen in the source ([code, need_escape_flag, msg]) is not produced or
// accepted; see DESIGN.md for the migration note.
//
// Fields are newline-separated. This is safe because Escape never
// produces a raw 0x0A byte in its output — embedded newlines are always
// rendered as the two printable characters `\n` — so a literal newline
// unambiguously marks a field boundary.
func EncodeHeader(code uint32, msg string, stack []string) string {
	fields := make([]string, 0, 2+len(stack))
	fields = append(fields, strconv.FormatUint(uint64(code), 10))
	fields = append(fields, Escape(msg))
	for _, frame := range stack {
		fields = append(fields, Escape(frame))
	}
	return strings.Join(fields, "\n")
}

// DecodeHeader parses a header produced by EncodeHeader. It fails if the
// code or msg field is absent, if code does not parse as a uint32, or if
// any field fails to unescape.
func DecodeHeader(header string) (code uint32, msg string, stack []string, err error) {
	fields := strings.Split(header, "\n")
	if len(fields) < 2 {
		return 0, "", nil, fmt.Errorf("errorsx: header missing required fields")
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, "", nil, fmt.Errorf("errorsx: invalid code field: %w", err)
	}
	msg, err = Unescape(fields[1])
	if err != nil {
		return 0, "", nil, fmt.Errorf("errorsx: invalid msg field: %w", err)
	}
	for _, raw := range fields[2:] {
		frame, err := Unescape(raw)
		if err != nil {
			return 0, "", nil, fmt.Errorf("errorsx: invalid stack frame: %w", err)
		}
		stack = append(stack, frame)
	}
	return uint32(n), msg, stack, nil
}

// StatusCodeFromWire maps an inbound transport status to StatusCode.
// Unknown codes map to StatusUnknown (as opposed to header decode
// failures, which map to StatusInternal).
func StatusCodeFromWire(code uint32) StatusCode {
	switch StatusCode(code) {
	case StatusSuccess, StatusUnknown, StatusInternal, StatusUnexpected,
		StatusInvalidArguments, StatusCancelled, StatusDeadlineExceeded, StatusUnavailable:
		return StatusCode(code)
	default:
		return StatusUnknown
	}
}

// DecodeHeaderToError decodes a header and builds the corresponding
// Server error. A header that fails to decode itself maps to
// StatusInternal.
func DecodeHeaderToError(header string) *Error {
	code, msg, stack, err := DecodeHeader(header)
	if err != nil {
		return &Error{Kind: KindServer, Code: StatusInternal, Msg: err.Error()}
	}
	return Server(StatusCodeFromWire(code), msg, stack)
}
