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

// Package tarm implements tjc.Link over github.com/tarm/serial, for hosts
// where the termios based driver is preferred. tarm cannot change the baud
// rate of an open port, so every settings change reopens it, and it has no
// RTS control.
package tarm

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/tarm/serial"

	"github.com/ZaparooProject/go-tjc"
	"github.com/ZaparooProject/go-tjc/internal/syncutil"
	"github.com/ZaparooProject/go-tjc/polling"
)

// Port is the subset of *serial.Port the transport uses.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Opener opens a port with the given configuration.
type Opener func(cfg *serial.Config) (Port, error)

// OpenPort opens a real serial port.
func OpenPort(cfg *serial.Config) (Port, error) {
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	return port, nil
}

// Transport implements tjc.Link for a tarm serial port.
type Transport struct {
	port     Port
	open     Opener
	reader   *polling.Reader
	portName string
	settings tjc.LinkSettings
	reopens  int
	mu       syncutil.Mutex
	portMu   syncutil.RWMutex
	closed   atomic.Bool
	closing  bool
}

var _ tjc.Link = (*Transport)(nil)

// Open opens portName with the given settings.
func Open(portName string, settings tjc.LinkSettings) (*Transport, error) {
	return OpenWith(OpenPort, portName, settings)
}

// OpenWith opens portName through open.
func OpenWith(open Opener, portName string, settings tjc.LinkSettings) (*Transport, error) {
	t := &Transport{open: open, portName: portName}
	if err := t.ApplySettings(settings); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) current() Port {
	t.portMu.RLock()
	defer t.portMu.RUnlock()
	return t.port
}

// Read reads from the port. tarm reports a read timeout as io.EOF, which
// is returned as (0, nil).
func (t *Transport) Read(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, tjc.ErrLinkClosed
	}
	port := t.current()
	if port == nil {
		return 0, tjc.ErrLinkClosed
	}
	n, err := port.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("tarm read on %s failed: %w", t.portName, err)
	}
	return n, nil
}

// Write writes to the port.
func (t *Transport) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, tjc.ErrLinkClosed
	}
	port := t.current()
	if port == nil {
		return 0, tjc.ErrLinkClosed
	}
	n, err := port.Write(p)
	if err != nil {
		return n, fmt.Errorf("tarm write on %s failed: %w", t.portName, err)
	}
	return n, nil
}

// Settings returns the settings the port was last opened with.
func (t *Transport) Settings() tjc.LinkSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// ApplySettings reopens the port with new settings. Delivery must be
// paused. If the reopen fails the old port is gone and the link is
// unusable until a later ApplySettings succeeds.
func (t *Transport) ApplySettings(settings tjc.LinkSettings) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closing {
		return tjc.ErrLinkClosed
	}
	if t.port != nil && settings == t.settings {
		return nil
	}

	t.portMu.Lock()
	defer t.portMu.Unlock()

	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("tarm close %s for reopen failed: %w", t.portName, err)
		}
		t.port = nil
	}

	port, err := t.open(&serial.Config{
		Name:        t.portName,
		Baud:        settings.BaudRate,
		ReadTimeout: settings.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s at %d baud: %w", t.portName, settings.BaudRate, err)
	}
	t.port = port
	t.settings = settings
	t.reopens++
	return nil
}

// ResetInputBuffer flushes the port buffers.
func (t *Transport) ResetInputBuffer() error {
	port := t.current()
	if port == nil {
		return tjc.ErrLinkClosed
	}
	if err := port.Flush(); err != nil {
		return fmt.Errorf("tarm flush failed: %w", err)
	}
	return nil
}

// StartDelivery starts the read loop.
func (t *Transport) StartDelivery(fn tjc.DeliveryFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closing {
		return tjc.ErrLinkClosed
	}
	if t.reader != nil {
		return fmt.Errorf("tarm %s: %w", t.portName, polling.ErrAlreadyRunning)
	}

	cfg := polling.DefaultConfig()
	cfg.Logger = tjc.Logger().With().Str("component", "tarm").Str("port", t.portName).Logger()
	cfg.ReadTimeout = t.settings.Timeout
	t.reader = polling.NewReader(t.Read, polling.DeliverFunc(fn), cfg)
	if err := t.reader.Start(); err != nil {
		t.reader = nil
		return fmt.Errorf("tarm %s: %w", t.portName, err)
	}
	return nil
}

// PauseDelivery stops the read loop and waits for it to acknowledge.
func (t *Transport) PauseDelivery() error {
	if r := t.currentReader(); r != nil {
		r.Pause()
	}
	return nil
}

// ResumeDelivery restarts the read loop.
func (t *Transport) ResumeDelivery() error {
	if r := t.currentReader(); r != nil {
		r.Resume()
	}
	return nil
}

func (t *Transport) currentReader() *polling.Reader {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reader
}

// Reopens returns how many times the port has been opened.
func (t *Transport) Reopens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reopens
}

// Close stops the read loop and closes the port.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	reader := t.reader
	t.mu.Unlock()

	if reader != nil {
		reader.Stop()
	}
	t.closed.Store(true)

	if port := t.current(); port != nil {
		if err := port.Close(); err != nil {
			return fmt.Errorf("tarm close failed: %w", err)
		}
	}
	return nil
}

// Name returns the port path.
func (t *Transport) Name() string {
	return t.portName
}

// Type returns tjc.LinkTarm.
func (*Transport) Type() tjc.LinkType {
	return tjc.LinkTarm
}
