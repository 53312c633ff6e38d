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

package testing

import (
	"io"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// JitterConfig configures JitteryConnection.
type JitterConfig struct {
	MaxLatency       time.Duration
	FragmentMinBytes int
	Seed             uint64
	FragmentReads    bool
	// USBBoundaryStress splits reads at 64 byte boundaries like a USB
	// full-speed bulk endpoint
	USBBoundaryStress bool
}

// DefaultJitterConfig returns a configuration that fragments every read.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:       2 * time.Millisecond,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryConnection wraps a backend to deliver its replies the way a
// USB-UART bridge does: late and in arbitrary fragments. Writes pass
// through unchanged. Baud rate and input reset notifications are forwarded
// to the backend.
type JitteryConnection struct {
	backend   io.ReadWriter
	rng       *rand.Rand
	readBuf   []byte
	config    JitterConfig
	delivered int
	mu        syncutil.Mutex
}

// NewJitteryConnection wraps backend.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test code
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // test code
		readBuf: make([]byte, 0, 1024),
	}
}

// Write passes data through to the backend.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // pass-through
}

// Read returns a random fragment of the backend's pending replies.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.readBuf) == 0 {
		tmp := make([]byte, 1024)
		n, err := j.backend.Read(tmp)
		if err != nil {
			return 0, err //nolint:wrapcheck // pass-through
		}
		if n == 0 {
			return 0, nil
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}

	toReturn := min(len(j.readBuf), len(buf))

	if j.config.USBBoundaryStress && toReturn > 0 {
		untilBoundary := 64 - j.delivered%64
		toReturn = min(toReturn, untilBoundary)
	}

	if j.config.FragmentReads && toReturn > j.config.FragmentMinBytes {
		toReturn = j.config.FragmentMinBytes + j.rng.IntN(toReturn-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.readBuf[:toReturn])
	j.readBuf = j.readBuf[toReturn:]
	j.delivered += toReturn
	return toReturn, nil
}

// SetBaudRate forwards a baud rate change to the backend.
func (j *JitteryConnection) SetBaudRate(rate int) {
	if ba, ok := j.backend.(interface{ SetBaudRate(int) }); ok {
		ba.SetBaudRate(rate)
	}
}

// ResetInput drops buffered fragments and forwards the reset.
func (j *JitteryConnection) ResetInput() {
	j.mu.Lock()
	j.readBuf = j.readBuf[:0]
	j.mu.Unlock()

	if ir, ok := j.backend.(interface{ ResetInput() }); ok {
		ir.ResetInput()
	}
}
