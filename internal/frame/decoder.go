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

// Package frame implements the panel's wire framing: decoding of the
// marker/length prefixed inbound stream and encoding of terminated
// outbound instructions.
package frame

// Frame is one complete inbound message.
type Frame struct {
	Payload []byte
}

// Stats counts decoder activity since creation.
type Stats struct {
	Frames      int64 // frames emitted
	ResyncDrops int64 // leading bytes dropped while hunting for a marker
	Resets      int64 // explicit buffer resets
}

// Decoder accumulates bytes and extracts frames from them. It keeps partial
// frames across calls to Feed, so the result does not depend on how the
// stream is split into reads.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf   []byte
	stats Stats
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 256)}
}

// Feed appends data to the buffer and returns every frame that is now
// complete, in stream order. Payloads are copies and remain valid after the
// next call.
func (d *Decoder) Feed(data []byte) []Frame {
	d.buf = append(d.buf, data...)

	var frames []Frame
	for len(d.buf) >= HeaderLength {
		if d.buf[0] != Marker1 || d.buf[1] != Marker2 {
			d.buf = d.buf[1:]
			d.stats.ResyncDrops++
			continue
		}

		size := HeaderLength + int(d.buf[2])
		if len(d.buf) < size {
			break
		}

		payload := make([]byte, size-HeaderLength)
		copy(payload, d.buf[HeaderLength:size])
		frames = append(frames, Frame{Payload: payload})
		d.buf = d.buf[size:]
		d.stats.Frames++
	}

	d.compact()
	return frames
}

// compact moves the unconsumed tail to the front once the slice has drifted
// far enough into its backing array.
func (d *Decoder) compact() {
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:cap(d.buf)]
		if cap(d.buf) > 4096 {
			d.buf = make([]byte, 0, 256)
		}
		return
	}
	if cap(d.buf)-len(d.buf) < HeaderLength+MaxPayloadLength {
		tail := make([]byte, len(d.buf), len(d.buf)+HeaderLength+MaxPayloadLength)
		copy(tail, d.buf)
		d.buf = tail
	}
}

// Reset discards any buffered, unconsumed bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.stats.Resets++
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}
