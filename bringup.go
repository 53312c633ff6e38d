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
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-tjc/internal/frame"
)

// DefaultProbeSettle is the pause between the resync sequences and the
// connect instruction.
const DefaultProbeSettle = 100 * time.Millisecond

// probeReadLimit caps the bytes read for a connect reply.
const probeReadLimit = 100

var comokMarker = []byte("comok")

// DefaultProbeRates returns the baud rates tried by ProbeBaudRate, in order.
func DefaultProbeRates() []int {
	return []int{512000, 115200, 9600, 921600}
}

// ProbeOptions tunes ProbeBaudRate.
type ProbeOptions struct {
	// Logger overrides the package logger
	Logger *zerolog.Logger
	// Rates are tried in order until the panel answers
	Rates []int
	// Timeout is the read timeout applied at each rate
	Timeout time.Duration
	// Settle is the pause before the connect instruction
	Settle time.Duration
}

// DefaultProbeOptions returns the options used when nil is passed.
func DefaultProbeOptions() *ProbeOptions {
	return &ProbeOptions{
		Rates:   DefaultProbeRates(),
		Timeout: DefaultProbeTimeout,
		Settle:  DefaultProbeSettle,
	}
}

// DeviceInfo describes a panel that answered the connect handshake.
type DeviceInfo struct {
	// Raw is the reply text after the comok marker
	Raw string
	// Model is the panel model, such as TJC4832T135_011R
	Model string
	// Address is the reserved address field
	Address string
	// FirmwareVersion is the panel firmware build
	FirmwareVersion string
	// MCUCode identifies the panel controller
	MCUCode string
	// Serial is the panel serial number
	Serial string
	// BaudRate is the rate the panel answered at
	BaudRate int
	// FlashSize is the panel flash size in bytes
	FlashSize int64
	// Touch is true for touch capable panels
	Touch bool
}

// ParseDeviceInfo extracts panel details from a connect reply. The reply
// text after "comok" is a comma separated list: touch flag, address,
// model, firmware version, MCU code, serial, flash size. Missing trailing
// fields are left empty.
func ParseDeviceInfo(reply []byte) (DeviceInfo, bool) {
	idx := bytes.Index(reply, comokMarker)
	if idx < 0 {
		return DeviceInfo{}, false
	}

	rest := reply[idx+len(comokMarker):]
	if end := bytes.IndexByte(rest, 0xFF); end >= 0 {
		rest = rest[:end]
	}
	raw := strings.TrimSpace(string(rest))
	info := DeviceInfo{Raw: raw}

	fields := strings.Split(raw, ",")
	for i, field := range fields {
		field = strings.TrimSpace(field)
		switch i {
		case 0:
			info.Touch = field == "1"
		case 1:
			info.Address = field
		case 2:
			info.Model = field
		case 3:
			info.FirmwareVersion = field
		case 4:
			info.MCUCode = field
		case 5:
			info.Serial = field
		case 6:
			if size, err := strconv.ParseInt(field, 10, 64); err == nil {
				info.FlashSize = size
			}
		}
	}
	return info, true
}

// connectReplyDone stops reading once the comok reply is terminated.
func connectReplyDone(buf []byte) bool {
	idx := bytes.Index(buf, comokMarker)
	return idx >= 0 && bytes.Contains(buf[idx:], frame.Terminator)
}

// ProbeBaudRate finds the baud rate the panel listens at by sending the
// connect instruction at each candidate rate. The link must already be in
// raw mode. On success the link is left at the detected rate with the
// probe timeout; the caller restores its own settings. Exhausting every
// rate returns an error wrapping ErrDeviceNotFound.
func ProbeBaudRate(ctx context.Context, link Link, opts *ProbeOptions) (*DeviceInfo, error) {
	if opts == nil {
		opts = DefaultProbeOptions()
	}
	rates := opts.Rates
	if len(rates) == 0 {
		rates = DefaultProbeRates()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	logger := Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "probe").Str("port", link.Name()).Logger()

	connect := frame.EncodeText("connect")
	for _, rate := range rates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("probe cancelled: %w", err)
		}

		logger.Debug().Int("baud", rate).Msg("trying baud rate")
		if err := link.ApplySettings(LinkSettings{BaudRate: rate, Timeout: timeout}); err != nil {
			return nil, newLinkError("probe", link.Name(), fmt.Errorf("apply %d baud: %w", rate, err))
		}

		for range 2 {
			if err := writeAll(link, frame.ResyncSequence); err != nil {
				return nil, newLinkError("probe", link.Name(), err)
			}
		}
		time.Sleep(opts.Settle)

		if err := writeAll(link, connect); err != nil {
			return nil, newLinkError("probe", link.Name(), err)
		}

		reply, err := readUntil(link, probeReadLimit, connectReplyDone)
		if err != nil {
			return nil, newLinkError("probe", link.Name(), err)
		}
		if len(reply) > 0 {
			logger.Debug().Int("baud", rate).Hex("reply", reply).Msg("connect reply")
		}

		if info, ok := ParseDeviceInfo(reply); ok {
			info.BaudRate = rate
			logger.Info().Int("baud", rate).Str("model", info.Model).Msg("panel connected")
			return &info, nil
		}
	}

	logger.Error().Ints("rates", rates).Msg("panel did not answer at any baud rate")
	return nil, NewScreenError("probe", link.Name(), KindDeviceNotFound,
		fmt.Errorf("%w: tried %v", ErrDeviceNotFound, rates))
}
