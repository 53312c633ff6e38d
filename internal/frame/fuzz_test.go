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
	"testing"
)

// FuzzDecoderChunking feeds arbitrary streams to the decoder both whole and
// split at an arbitrary point; both must yield the same frames and neither
// may panic.
//
// Run with: go test -fuzz=FuzzDecoderChunking -fuzztime=30s ./internal/frame/
func FuzzDecoderChunking(f *testing.F) {
	f.Add([]byte{Marker1, Marker2, 0x02, 'o', 'k'}, 1)
	f.Add([]byte{0x00, Marker1, Marker2, 0x00}, 2)
	f.Add([]byte{Marker1, Marker1, Marker2, 0x01, 'a', Marker1}, 3)
	f.Add([]byte{}, 0)
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 4)

	f.Fuzz(func(t *testing.T, stream []byte, split int) {
		if split < 0 {
			split = -split
		}
		if len(stream) > 0 {
			split %= len(stream) + 1
		} else {
			split = 0
		}

		whole := NewDecoder().Feed(stream)

		dec := NewDecoder()
		parts := dec.Feed(stream[:split])
		parts = append(parts, dec.Feed(stream[split:])...)

		if len(whole) != len(parts) {
			t.Fatalf("whole=%d frames, split=%d frames", len(whole), len(parts))
		}
		for i := range whole {
			if string(whole[i].Payload) != string(parts[i].Payload) {
				t.Fatalf("frame %d differs: %q vs %q", i, whole[i].Payload, parts[i].Payload)
			}
		}
	})
}
