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

package detection

import (
	"slices"
	"time"

	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

type cacheEntry struct {
	stored  time.Time
	devices []DeviceInfo
}

// resultCache holds the last detection result per transport.
type resultCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	mu      syncutil.RWMutex
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]cacheEntry), now: time.Now}
}

var detected = newResultCache()

// get returns a copy of the cached devices if they are younger than ttl.
func (c *resultCache) get(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[transport]
	if !ok || c.now().Sub(entry.stored) > ttl {
		return nil, false
	}
	return slices.Clone(entry.devices), true
}

func (c *resultCache) set(transport string, devices []DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[transport] = cacheEntry{devices: slices.Clone(devices), stored: c.now()}
}

func (c *resultCache) clear(transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, transport)
}

func (c *resultCache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}
