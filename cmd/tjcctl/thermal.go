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

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// fanHysteresis switches the fan on above start and off below stop. In
// between it keeps the last state.
type fanHysteresis struct {
	start float64
	stop  float64
	on    bool
}

// update returns the new fan state and whether it changed.
func (f *fanHysteresis) update(temp float64) (on, changed bool) {
	switch {
	case temp > f.start && !f.on:
		f.on = true
		return true, true
	case temp < f.stop && f.on:
		f.on = false
		return false, true
	default:
		return f.on, false
	}
}

// readCPUTemp reads a thermal zone in millidegrees and returns degrees.
func readCPUTemp(path string) (float64, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- configured thermal zone
	if err != nil {
		return 0, fmt.Errorf("read cpu temperature: %w", err)
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse cpu temperature %q: %w", strings.TrimSpace(string(data)), err)
	}
	return milli / 1000, nil
}
