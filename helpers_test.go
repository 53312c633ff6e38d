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
	"testing"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-tjc/internal/frame"
	virt "github.com/ZaparooProject/go-tjc/internal/testing"
)

// newPanelLink returns a mock link wired to a simulated panel.
func newPanelLink(t *testing.T) (*MockLink, *virt.VirtualScreen) {
	t.Helper()
	panel := virt.NewVirtualScreen()
	return NewMockLink(panel), panel
}

// inboundFrame encodes payload the way the panel sends requests.
func inboundFrame(payload string) []byte {
	out := []byte{frame.Marker1, frame.Marker2, byte(len(payload))}
	return append(out, payload...)
}

// instructions splits written bytes into terminated text instructions,
// dropping empty resync instructions.
func instructions(written []byte) []string {
	var out []string
	for _, part := range bytes.Split(written, frame.Terminator) {
		text := string(bytes.TrimLeft(part, "\x00"))
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}

func quietLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fastProbe skips the settle pause and tries only the given rates.
func fastProbe(rates ...int) *ProbeOptions {
	return &ProbeOptions{Rates: rates, Settle: 0, Timeout: DefaultProbeTimeout}
}

// fastFlash removes the handshake pauses.
func fastFlash(rates ...int) *FlashOptions {
	opts := DefaultFlashOptions()
	opts.PrepareDelay = 0
	opts.SwitchDelay = 0
	opts.Probe = fastProbe(rates...)
	return opts
}
