// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package frame

import (
	"bytes"
	"fmt"
	"strconv"
)

// EncodeText renders a text instruction followed by the terminator.
func EncodeText(text string) []byte {
	out := make([]byte, 0, len(text)+len(Terminator))
	out = append(out, text...)
	return append(out, Terminator...)
}

// EncodeRaw appends the terminator to raw instruction bytes unless they
// already end with it.
func EncodeRaw(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(Terminator))
	out = append(out, data...)
	if bytes.HasSuffix(data, Terminator) {
		return out
	}
	return append(out, Terminator...)
}

// FormatValue renders the right hand side of an assignment. Strings are
// quoted, numbers and booleans are written bare (booleans as 0/1).
func FormatValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return `"` + v + `"`, nil
	case int:
		return strconv.Itoa(v), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	default:
		return "", fmt.Errorf("unsupported value type %T", value)
	}
}

// Assignment renders "name=value" without the terminator.
func Assignment(name string, value any) (string, error) {
	rendered, err := FormatValue(value)
	if err != nil {
		return "", fmt.Errorf("control %s: %w", name, err)
	}
	return name + "=" + rendered, nil
}

// EncodeAssign renders a terminated "name=value" instruction.
func EncodeAssign(name string, value any) ([]byte, error) {
	text, err := Assignment(name, value)
	if err != nil {
		return nil, err
	}
	return EncodeText(text), nil
}
