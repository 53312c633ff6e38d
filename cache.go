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

import "github.com/ZaparooProject/go-tjc/internal/syncutil"

// ControlValueCache remembers the last value sent to each control so
// unchanged values are not retransmitted. Values are compared in their
// rendered wire form.
type ControlValueCache struct {
	values map[string]string
	mu     syncutil.Mutex
}

// NewControlValueCache creates an empty cache.
func NewControlValueCache() *ControlValueCache {
	return &ControlValueCache{values: make(map[string]string)}
}

// Changed records rendered as the value of name and reports whether it
// differs from the previous value. A control never seen counts as changed.
func (c *ControlValueCache) Changed(name, rendered string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.values[name]; ok && prev == rendered {
		return false
	}
	c.values[name] = rendered
	return true
}

// Get returns the last value recorded for name.
func (c *ControlValueCache) Get(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[name]
	return v, ok
}

// Forget drops name so its next value is always sent.
func (c *ControlValueCache) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, name)
}

// Clear drops every entry, typically after the panel rebooted.
func (c *ControlValueCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.values)
}

// Len returns the number of cached controls.
func (c *ControlValueCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}
