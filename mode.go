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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// Mode is the link access style currently in force.
type Mode int

const (
	// ModeStreaming delivers inbound bytes to the receive loop.
	ModeStreaming Mode = iota
	// ModeRaw pauses the receive loop for blocking request/acknowledge
	// exchanges.
	ModeRaw
)

func (m Mode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	case ModeRaw:
		return "raw"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeController switches a link between streaming and raw access and
// guarantees the streaming settings are restored afterwards.
type ModeController struct {
	link       Link
	receiver   *Receiver
	logger     zerolog.Logger
	saved      LinkSettings
	rawTimeout time.Duration
	// guard serialises raw operations and streaming writes
	guard syncutil.Mutex
	mu    syncutil.Mutex
	mode  Mode
}

// NewModeController creates a controller in ModeStreaming. receiver may be
// nil for links used without a receive loop.
func NewModeController(link Link, receiver *Receiver, rawTimeout time.Duration, logger zerolog.Logger) *ModeController {
	if rawTimeout <= 0 {
		rawTimeout = DefaultRawTimeout
	}
	return &ModeController{
		link:       link,
		receiver:   receiver,
		rawTimeout: rawTimeout,
		logger:     logger.With().Str("component", "mode").Str("port", link.Name()).Logger(),
	}
}

// Mode returns the current mode.
func (mc *ModeController) Mode() Mode {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.mode
}

func (mc *ModeController) pause() error {
	if mc.receiver != nil {
		return mc.receiver.Pause()
	}
	return mc.link.PauseDelivery() //nolint:wrapcheck // wrapped by caller
}

func (mc *ModeController) resume() error {
	if mc.receiver != nil {
		return mc.receiver.Resume()
	}
	return mc.link.ResumeDelivery() //nolint:wrapcheck // wrapped by caller
}

func (mc *ModeController) resetDecoder() {
	if mc.receiver != nil {
		mc.receiver.Reset()
	}
}

// EnterRaw pauses streaming, discards pending input and applies the raw
// read timeout. The current settings are saved for ExitRaw.
func (mc *ModeController) EnterRaw() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.mode == ModeRaw {
		return NewScreenError("enter raw", mc.link.Name(), KindUsage, ErrAlreadyRaw)
	}

	saved := mc.link.Settings()
	if err := mc.pause(); err != nil {
		return newLinkError("enter raw", mc.link.Name(), err)
	}

	if err := mc.link.ResetInputBuffer(); err != nil {
		return mc.abortEnter(fmt.Errorf("failed to reset input: %w", err))
	}
	mc.resetDecoder()

	raw := LinkSettings{BaudRate: saved.BaudRate, Timeout: mc.rawTimeout}
	if err := mc.link.ApplySettings(raw); err != nil {
		return mc.abortEnter(fmt.Errorf("failed to apply raw settings: %w", err))
	}

	mc.saved = saved
	mc.mode = ModeRaw
	mc.logger.Debug().Stringer("saved", saved).Stringer("raw", raw).Msg("entered raw mode")
	return nil
}

// abortEnter undoes a partial EnterRaw. Must hold mu.
func (mc *ModeController) abortEnter(cause error) error {
	if err := mc.resume(); err != nil {
		cause = errors.Join(cause, fmt.Errorf("failed to resume delivery: %w", err))
	}
	return newLinkError("enter raw", mc.link.Name(), cause)
}

// ExitRaw discards leftover input, restores the saved settings and resumes
// streaming. The controller returns to ModeStreaming even when a step
// fails; every failure is reported.
func (mc *ModeController) ExitRaw() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.mode != ModeRaw {
		return NewScreenError("exit raw", mc.link.Name(), KindUsage, ErrNotRaw)
	}

	var errs []error
	if err := mc.link.ResetInputBuffer(); err != nil {
		errs = append(errs, fmt.Errorf("failed to reset input: %w", err))
	}
	if err := mc.link.ApplySettings(mc.saved); err != nil {
		errs = append(errs, fmt.Errorf("failed to restore %s: %w", mc.saved, err))
	}
	mc.resetDecoder()
	if err := mc.resume(); err != nil {
		errs = append(errs, fmt.Errorf("failed to resume delivery: %w", err))
	}
	mc.mode = ModeStreaming

	if len(errs) > 0 {
		return newLinkError("exit raw", mc.link.Name(), errors.Join(errs...))
	}
	mc.logger.Debug().Stringer("restored", mc.saved).Msg("left raw mode")
	return nil
}

// WithRaw runs fn with exclusive raw access to the link. Only one raw
// operation runs at a time. Streaming is restored on every exit path,
// including a panic in fn, which is re-raised afterwards. The context is
// checked before entering raw mode only.
func (mc *ModeController) WithRaw(ctx context.Context, fn func(link Link) error) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("raw operation not started: %w", err)
	}

	mc.guard.Lock()
	defer mc.guard.Unlock()

	if err := mc.EnterRaw(); err != nil {
		return err
	}

	defer func() {
		exitErr := mc.ExitRaw()
		if p := recover(); p != nil {
			if exitErr != nil {
				mc.logger.Error().Err(exitErr).Msg("failed to restore streaming after panic")
			}
			panic(p)
		}
		err = errors.Join(err, exitErr)
	}()

	return fn(mc.link)
}

// Write sends bytes in streaming mode. It waits for a running raw
// operation to finish so commands never interleave with a transfer.
func (mc *ModeController) Write(p []byte) (int, error) {
	mc.guard.Lock()
	defer mc.guard.Unlock()
	return mc.link.Write(p) //nolint:wrapcheck // callers wrap with context
}

// SetRestoreBaudRate changes the baud rate ExitRaw restores, for raw
// operations that move the panel to a different rate. Only valid in raw
// mode.
func (mc *ModeController) SetRestoreBaudRate(rate int) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.mode != ModeRaw {
		return NewScreenError("set restore baud", mc.link.Name(), KindUsage, ErrNotRaw)
	}
	mc.saved.BaudRate = rate
	return nil
}
