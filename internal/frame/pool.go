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
	"encoding/binary"
	"sync"
)

// BufferPool hands out reusable byte slices for the two sizes the engine
// allocates on hot paths.
type BufferPool struct {
	// Status buffers for single byte acknowledgements and short replies
	smallPool sync.Pool
	// Chunk buffers for preamble + descriptor + 4096 payload bytes
	chunkPool sync.Pool
}

// Size thresholds for buffer categories
const (
	SmallBufferSize = 128
	ChunkBufferSize = 7 + DescriptorLength + ChunkSize
)

var defaultPool = NewBufferPool()

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		smallPool: sync.Pool{
			New: func() any {
				buf := make([]byte, SmallBufferSize)
				return &buf
			},
		},
		chunkPool: sync.Pool{
			New: func() any {
				buf := make([]byte, ChunkBufferSize)
				return &buf
			},
		},
	}
}

// GetBuffer returns a slice of at least size bytes. Oversized requests are
// allocated directly to keep the pools uniform.
func (p *BufferPool) GetBuffer(size int) []byte {
	switch {
	case size <= SmallBufferSize:
		bufPtr, ok := p.smallPool.Get().(*[]byte)
		if !ok {
			return make([]byte, size)
		}
		return (*bufPtr)[:size]
	case size <= ChunkBufferSize:
		bufPtr, ok := p.chunkPool.Get().(*[]byte)
		if !ok {
			return make([]byte, size)
		}
		return (*bufPtr)[:size]
	default:
		return make([]byte, size)
	}
}

// PutBuffer returns a buffer obtained from GetBuffer. Buffers of foreign
// capacity are dropped.
func (p *BufferPool) PutBuffer(buf []byte) {
	if buf == nil {
		return
	}
	switch cap(buf) {
	case SmallBufferSize:
		full := buf[:SmallBufferSize]
		p.smallPool.Put(&full)
	case ChunkBufferSize:
		full := buf[:ChunkBufferSize]
		p.chunkPool.Put(&full)
	}
}

// GetBuffer acquires a buffer from the default pool.
func GetBuffer(size int) []byte {
	return defaultPool.GetBuffer(size)
}

// PutBuffer releases a buffer to the default pool.
func PutBuffer(buf []byte) {
	defaultPool.PutBuffer(buf)
}

// GetChunkBuffer acquires an empty buffer large enough for one encoded
// RAM upload chunk.
func GetChunkBuffer() []byte {
	return defaultPool.GetBuffer(ChunkBufferSize)[:0]
}

// AppendChunk appends the preamble, the descriptor for chunk index and the
// payload to dst. The payload must not exceed ChunkSize bytes.
func AppendChunk(dst []byte, index uint16, payload []byte) []byte {
	dst = append(dst, ChunkPreamble...)
	dst = append(dst, 0x00)
	dst = binary.LittleEndian.AppendUint16(dst, index)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(payload))) //nolint:gosec // bounded by ChunkSize
	return append(dst, payload...)
}
