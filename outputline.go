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

package tjc

// OutputLine is a single boolean output wired next to the panel, such as
// the cooling fan. Serial links drive it through RTS; transport/gpio drives
// a GPIO pin.
type OutputLine interface {
	SetOutput(enabled bool) error
}

// OutputLineFunc adapts a function to OutputLine.
type OutputLineFunc func(enabled bool) error

// SetOutput calls f(enabled).
func (f OutputLineFunc) SetOutput(enabled bool) error {
	return f(enabled)
}

// outputLineOf returns the link's own output line, if it has one.
func outputLineOf(link Link) OutputLine {
	if ol, ok := link.(OutputLine); ok {
		return ol
	}
	return nil
}
