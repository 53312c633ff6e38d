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

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ScreenConfig holds the settings a Screen is built from.
type ScreenConfig struct {
	// Logger overrides the package logger
	Logger *zerolog.Logger
	// Output drives the fan line; defaults to the link's RTS when the link
	// has one
	Output OutputLine
	// Progress receives upload and flash progress
	Progress ProgressFunc
	// ErrorSink receives receive loop decode errors
	ErrorSink func(error)
	// Probe configures the connect handshake
	Probe *ProbeOptions
	// Flash configures firmware downloads
	Flash *FlashOptions
	// QuietControls are left out of the command log
	QuietControls []string
	// RawTimeout is the read timeout while in raw mode
	RawTimeout time.Duration
	// VersionTimeout bounds the boot version reply
	VersionTimeout time.Duration
	// ClearSettle is the pause before a RAM upload announcement
	ClearSettle time.Duration
	// LogCommands echoes outbound instructions at debug level
	LogCommands bool
}

// DefaultScreenConfig returns the default screen configuration.
func DefaultScreenConfig() *ScreenConfig {
	return &ScreenConfig{
		RawTimeout:     DefaultRawTimeout,
		VersionTimeout: DefaultVersionTimeout,
		ClearSettle:    DefaultClearSettle,
		LogCommands:    true,
	}
}

// Option configures a Screen.
type Option func(*ScreenConfig) error

var errNegativeDuration = errors.New("duration must not be negative")

// WithLogger sets the logger used by every component of the screen.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *ScreenConfig) error {
		c.Logger = &logger
		return nil
	}
}

// WithRawTimeout sets the read timeout used while in raw mode.
func WithRawTimeout(timeout time.Duration) Option {
	return func(c *ScreenConfig) error {
		if timeout < 0 {
			return fmt.Errorf("raw timeout %s: %w", timeout, errNegativeDuration)
		}
		c.RawTimeout = timeout
		return nil
	}
}

// WithVersionTimeout sets how long BootVersion waits for the reply.
func WithVersionTimeout(timeout time.Duration) Option {
	return func(c *ScreenConfig) error {
		if timeout < 0 {
			return fmt.Errorf("version timeout %s: %w", timeout, errNegativeDuration)
		}
		c.VersionTimeout = timeout
		return nil
	}
}

// WithClearSettle sets the pause before a RAM upload announcement.
func WithClearSettle(settle time.Duration) Option {
	return func(c *ScreenConfig) error {
		if settle < 0 {
			return fmt.Errorf("clear settle %s: %w", settle, errNegativeDuration)
		}
		c.ClearSettle = settle
		return nil
	}
}

// WithOutputLine drives the fan through line instead of the link's RTS.
func WithOutputLine(line OutputLine) Option {
	return func(c *ScreenConfig) error {
		c.Output = line
		return nil
	}
}

// WithCommandLogging turns the outbound instruction echo on or off.
func WithCommandLogging(enabled bool) Option {
	return func(c *ScreenConfig) error {
		c.LogCommands = enabled
		return nil
	}
}

// WithQuietControl keeps assignments to the named controls out of the
// command log.
func WithQuietControl(names ...string) Option {
	return func(c *ScreenConfig) error {
		c.QuietControls = append(c.QuietControls, names...)
		return nil
	}
}

// WithProgress reports upload and flash progress to fn.
func WithProgress(fn ProgressFunc) Option {
	return func(c *ScreenConfig) error {
		c.Progress = fn
		return nil
	}
}

// WithErrorSink forwards receive loop decode errors to fn.
func WithErrorSink(fn func(error)) Option {
	return func(c *ScreenConfig) error {
		c.ErrorSink = fn
		return nil
	}
}

// WithProbeOptions configures the connect handshake.
func WithProbeOptions(opts ProbeOptions) Option {
	return func(c *ScreenConfig) error {
		c.Probe = &opts
		return nil
	}
}

// WithFlashOptions configures firmware downloads.
func WithFlashOptions(opts FlashOptions) Option {
	return func(c *ScreenConfig) error {
		c.Flash = &opts
		return nil
	}
}
