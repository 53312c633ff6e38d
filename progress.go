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

import "time"

// Progress phases reported during raw operations.
const (
	PhaseUploading = "uploading"
	PhaseFlashing  = "flashing"
	PhaseComplete  = "complete"
)

// Progress describes how far an upload or flash has come.
type Progress struct {
	// Phase is one of the Phase constants
	Phase string

	// Chunk is the number of chunks acknowledged so far
	Chunk int

	// TotalChunks is the number of chunks in the transfer
	TotalChunks int

	// BytesSent is the number of payload bytes acknowledged so far
	BytesSent int

	// TotalBytes is the payload size
	TotalBytes int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// Elapsed is the time since the transfer started
	Elapsed time.Duration
}

// ProgressFunc receives progress reports. It runs on the raw operation's
// goroutine and should return quickly.
type ProgressFunc func(Progress)

// progressTracker builds Progress values for one transfer.
type progressTracker struct {
	start       time.Time
	fn          ProgressFunc
	phase       string
	totalChunks int
	totalBytes  int
}

func newProgressTracker(fn ProgressFunc, phase string, totalBytes, chunkSize int) *progressTracker {
	return &progressTracker{
		fn:          fn,
		phase:       phase,
		totalBytes:  totalBytes,
		totalChunks: chunkCount(totalBytes, chunkSize),
		start:       time.Now(),
	}
}

func (p *progressTracker) report(chunk, bytesSent int) {
	if p.fn == nil {
		return
	}
	phase := p.phase
	if chunk == p.totalChunks {
		phase = PhaseComplete
	}
	var pct float64
	if p.totalBytes > 0 {
		pct = float64(bytesSent) / float64(p.totalBytes) * 100
	}
	p.fn(Progress{
		Phase:       phase,
		Chunk:       chunk,
		TotalChunks: p.totalChunks,
		BytesSent:   bytesSent,
		TotalBytes:  p.totalBytes,
		Percentage:  pct,
		Elapsed:     time.Since(p.start),
	})
}

// chunkCount returns how many chunkSize pieces cover n bytes.
func chunkCount(n, chunkSize int) int {
	if n <= 0 {
		return 0
	}
	return (n + chunkSize - 1) / chunkSize
}
