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
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-tjc/internal/frame"
)

// Flash handshake timing.
const (
	// DefaultFlashPrepareDelay is the wait after the delay directive, while
	// the running project stops sending.
	DefaultFlashPrepareDelay = 1500 * time.Millisecond
	// DefaultFlashSwitchDelay is the wait for the mode-switch command to
	// leave the wire before changing the local baud rate.
	DefaultFlashSwitchDelay = 200 * time.Millisecond
	// flashHoldMillis is how long the panel is asked to stop sending.
	flashHoldMillis = 2500
)

// versionReadLimit caps the bytes read for a boot version reply.
const versionReadLimit = 30

var bootVersionMarker = []byte("boot version=")

// FirmwareImage is a panel firmware file (.tft) held in memory.
type FirmwareImage struct {
	Path string
	Data []byte
}

// LoadFirmware reads a firmware image from disk.
func LoadFirmware(path string) (*FirmwareImage, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("firmware %s: %w", path, ErrEmptyPayload)
	}
	return &FirmwareImage{Path: path, Data: data}, nil
}

// Size returns the image size in bytes.
func (f *FirmwareImage) Size() int {
	return len(f.Data)
}

// FlashOptions tunes FlashFirmware.
type FlashOptions struct {
	// Probe configures the connect handshake run before flashing
	Probe *ProbeOptions
	// Progress receives a report after every acknowledged chunk
	Progress ProgressFunc
	// Logger overrides the package logger
	Logger *zerolog.Logger
	// BaudRate is the rate the panel switches to for the download
	BaudRate int
	// AckTimeout is the read timeout at the flash baud rate
	AckTimeout time.Duration
	// PrepareDelay is the wait after the delay and zero directives
	PrepareDelay time.Duration
	// SwitchDelay is the wait before the local baud rate change
	SwitchDelay time.Duration
	// SkipProbe flashes at the link's current rate without a handshake
	SkipProbe bool
}

// DefaultFlashOptions returns the options used when nil is passed.
func DefaultFlashOptions() *FlashOptions {
	return &FlashOptions{
		BaudRate:     DefaultFlashBaudRate,
		AckTimeout:   DefaultFlashAckTimeout,
		PrepareDelay: DefaultFlashPrepareDelay,
		SwitchDelay:  DefaultFlashSwitchDelay,
	}
}

// FlashFirmware downloads a firmware image to the panel. The link must
// already be in raw mode; it is left at the flash baud rate and the caller
// restores its own settings. Each 4096 byte chunk is sent bare and
// acknowledged with 0x05, and the first bad acknowledgement aborts.
func FlashFirmware(ctx context.Context, link Link, data []byte, opts *FlashOptions) error {
	if opts == nil {
		opts = DefaultFlashOptions()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("flash not started: %w", err)
	}
	if len(data) == 0 {
		return NewScreenError("flash", link.Name(), KindUsage, ErrEmptyPayload)
	}

	logger := Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "flash").Str("port", link.Name()).Logger()

	if !opts.SkipProbe {
		probe := DefaultProbeOptions()
		if opts.Probe != nil {
			*probe = *opts.Probe
		}
		if probe.Logger == nil {
			probe.Logger = &logger
		}
		if _, err := ProbeBaudRate(ctx, link, probe); err != nil {
			return err
		}
	}

	baud := opts.BaudRate
	if baud <= 0 {
		baud = DefaultFlashBaudRate
	}
	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = DefaultFlashAckTimeout
	}

	trace := NewTraceBuffer("flash", link.Name(), defaultTraceSize)
	logger.Info().Int("bytes", len(data)).Int("baud", baud).Msg("starting firmware download")

	send := func(data []byte, note string) error {
		trace.RecordTX(data, note)
		if err := writeAll(link, data); err != nil {
			return trace.WrapError(newLinkError("flash "+note, link.Name(), err))
		}
		return nil
	}
	expect := func(note string) error {
		status, ok, err := readStatus(link)
		switch {
		case err != nil:
			return trace.WrapError(newLinkError("flash "+note, link.Name(), err))
		case !ok:
			trace.RecordTimeout(note)
			return trace.WrapError(newNoAckError("flash "+note, link.Name(), frame.StatusContinue))
		}
		trace.RecordRX([]byte{status}, note)
		if status != frame.StatusContinue {
			return trace.WrapError(newAckError("flash "+note, link.Name(), frame.StatusContinue, status))
		}
		return nil
	}

	// hold the running project so it stops sending during the download
	if err := send(frame.EncodeText(fmt.Sprintf("delay=%d", flashHoldMillis)), "delay"); err != nil {
		return err
	}
	if err := send(frame.EncodeText("0"), "zero"); err != nil {
		return err
	}
	time.Sleep(opts.PrepareDelay)

	announce := frame.EncodeText(fmt.Sprintf("whmi-wri %d,%d,0", len(data), baud))
	if err := send(announce, "whmi-wri"); err != nil {
		return err
	}
	time.Sleep(opts.SwitchDelay)

	if err := link.ApplySettings(LinkSettings{BaudRate: baud, Timeout: ackTimeout}); err != nil {
		return trace.WrapError(newLinkError("flash", link.Name(), fmt.Errorf("apply %d baud: %w", baud, err)))
	}
	if err := link.ResetInputBuffer(); err != nil {
		return trace.WrapError(newLinkError("flash", link.Name(), err))
	}
	if err := expect("whmi-wri"); err != nil {
		return err
	}

	progress := newProgressTracker(opts.Progress, PhaseFlashing, len(data), frame.ChunkSize)
	progress.report(0, 0)

	chunk := 0
	for sent := 0; sent < len(data); {
		end := min(sent+frame.ChunkSize, len(data))
		note := fmt.Sprintf("chunk %d", chunk)
		if err := send(data[sent:end], note); err != nil {
			return err
		}
		if err := expect(note); err != nil {
			logger.Warn().Err(err).Int("chunk", chunk).Int("sent", sent).Msg("firmware download failed")
			return err
		}
		chunk++
		sent = end
		progress.report(chunk, sent)
	}

	logger.Info().Int("chunks", chunk).Msg("firmware download complete")
	return nil
}

// BootVersion is the panel boot loader version.
type BootVersion int

// BootVersionUnknown is returned when the panel did not report a version.
const BootVersionUnknown BootVersion = -1

// Known reports whether the version was read from the panel.
func (v BootVersion) Known() bool {
	return v >= 0
}

func (v BootVersion) String() string {
	if !v.Known() {
		return "unknown"
	}
	return strconv.Itoa(int(v))
}

// ParseBootVersion extracts the integer after "boot version=" from a reply.
func ParseBootVersion(reply []byte) BootVersion {
	idx := bytes.Index(reply, bootVersionMarker)
	if idx < 0 {
		return BootVersionUnknown
	}

	digits := reply[idx+len(bootVersionMarker):]
	end := 0
	for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	version, err := strconv.Atoi(string(digits[:end]))
	if err != nil {
		return BootVersionUnknown
	}
	return BootVersion(version)
}

// QueryBootVersion switches the panel to its boot page and reads the boot
// loader version it announces. The link must already be in raw mode. A
// reply without a version yields BootVersionUnknown and no error.
func QueryBootVersion(ctx context.Context, link Link, timeout time.Duration) (BootVersion, error) {
	if err := ctx.Err(); err != nil {
		return BootVersionUnknown, fmt.Errorf("version query not started: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultVersionTimeout
	}

	if err := link.ResetInputBuffer(); err != nil {
		return BootVersionUnknown, newLinkError("boot version", link.Name(), err)
	}
	for _, cmd := range bootPageCommands() {
		if err := writeAll(link, frame.EncodeText(cmd)); err != nil {
			return BootVersionUnknown, newLinkError("boot version", link.Name(), err)
		}
	}

	current := link.Settings()
	if err := link.ApplySettings(LinkSettings{BaudRate: current.BaudRate, Timeout: timeout}); err != nil {
		return BootVersionUnknown, newLinkError("boot version", link.Name(), err)
	}

	reply, err := readUntil(link, versionReadLimit, func(buf []byte) bool {
		idx := bytes.Index(buf, bootVersionMarker)
		return idx >= 0 && bytes.IndexByte(buf[idx:], 0xFF) >= 0
	})
	if err != nil {
		return BootVersionUnknown, newLinkError("boot version", link.Name(), err)
	}

	version := ParseBootVersion(reply)
	Debugf("boot version reply % X -> %s", reply, version)
	return version, nil
}

// bootPageCommands switches to the boot page and enables its notifier.
func bootPageCommands() []string {
	return []string{"page " + PageNameBoot, "boot.tm_notify.en=1"}
}
