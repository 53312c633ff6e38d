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

package polling

import (
	"time"

	"github.com/rs/zerolog"
)

// SleepDetectionConfig configures detection of host sleep/wake cycles. A
// panel keeps running while the host sleeps, so whatever it sent in the
// meantime is lost and the caller usually wants to resynchronise.
type SleepDetectionConfig struct {
	// OnWake is called from the read loop when a gap is detected
	OnWake func(gap time.Duration)

	// TimeDiscontinuityThreshold is the minimum time beyond the read
	// timeout between two reads that indicates a sleep. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// Enabled enables sleep detection
	Enabled bool
}

// DefaultSleepDetectionConfig returns sensible defaults for sleep detection
func DefaultSleepDetectionConfig() SleepDetectionConfig {
	return SleepDetectionConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
	}
}

// DetectSleep reports whether the time between two reads indicates the
// host was suspended. readTimeout is the longest a single read may block.
func (cfg SleepDetectionConfig) DetectSleep(elapsed, readTimeout time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	return elapsed > readTimeout+cfg.TimeDiscontinuityThreshold
}

// Config holds read loop options
type Config struct {
	// Logger receives loop lifecycle and error messages
	Logger zerolog.Logger
	// OnError is called once with the error that ended the loop
	OnError func(error)
	// SleepDetection configures host sleep/wake detection
	SleepDetection SleepDetectionConfig
	// BufferSize is the size of a single read
	BufferSize int
	// ReadTimeout is the longest a single read blocks
	ReadTimeout time.Duration
	// IdleBackoff is the pause after a read that returned nothing, for
	// ports that return immediately instead of waiting for the timeout
	IdleBackoff time.Duration
}

// DefaultConfig returns the default read loop configuration
func DefaultConfig() *Config {
	return &Config{
		Logger:         zerolog.Nop(),
		BufferSize:     256,
		ReadTimeout:    500 * time.Millisecond,
		IdleBackoff:    time.Millisecond,
		SleepDetection: DefaultSleepDetectionConfig(),
	}
}
