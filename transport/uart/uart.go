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

// Package uart implements tjc.Link over a serial port using
// go.bug.st/serial. Inbound bytes are pushed by a read loop while
// streaming; the loop is paused for raw exchanges.
package uart

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/ZaparooProject/go-tjc"
	"github.com/ZaparooProject/go-tjc/internal/syncutil"
	"github.com/ZaparooProject/go-tjc/polling"
)

// Transport implements tjc.Link for a UART port.
type Transport struct {
	port     serial.Port
	reader   *polling.Reader
	portName string
	settings tjc.LinkSettings
	mu       syncutil.Mutex
	closed   atomic.Bool
	closing  bool
}

var _ tjc.Link = (*Transport)(nil)

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// minReadTimeout returns the shortest read timeout the platform driver
// honours reliably.
func minReadTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 0
}

// Open opens portName with the given settings.
func Open(portName string, settings tjc.LinkSettings) (*Transport, error) {
	port, err := serial.Open(portName, serialMode(settings.BaudRate))
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	t, err := New(port, portName, settings)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// New wraps an already open port and applies settings to it.
func New(port serial.Port, portName string, settings tjc.LinkSettings) (*Transport, error) {
	t := &Transport{
		port:     port,
		portName: portName,
	}
	if err := t.ApplySettings(settings); err != nil {
		return nil, err
	}
	return t, nil
}

func serialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Read reads from the port. A read that times out returns (0, nil). While
// delivery is running the read loop owns the port; Read is for raw mode.
func (t *Transport) Read(p []byte) (int, error) {
	if t.isClosed() {
		return 0, tjc.ErrLinkClosed
	}
	n, err := t.port.Read(p)
	if err != nil {
		return n, t.wrapPortError("read", err)
	}
	return n, nil
}

// Write writes to the port.
func (t *Transport) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, tjc.ErrLinkClosed
	}
	n, err := t.port.Write(p)
	if err != nil {
		return n, t.wrapPortError("write", err)
	}
	return n, nil
}

func (t *Transport) wrapPortError(op string, err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
		return fmt.Errorf("UART %s on %s: %w", op, t.portName, tjc.ErrLinkClosed)
	}
	return fmt.Errorf("UART %s on %s failed: %w", op, t.portName, err)
}

// Settings returns the settings last applied.
func (t *Transport) Settings() tjc.LinkSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// ApplySettings drains pending output at the old rate, then switches the
// baud rate and read timeout.
func (t *Transport) ApplySettings(settings tjc.LinkSettings) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.settings.BaudRate != 0 {
		if err := t.drainWithRetry("settings change"); err != nil {
			return err
		}
	}
	if settings.BaudRate != t.settings.BaudRate {
		if err := t.port.SetMode(serialMode(settings.BaudRate)); err != nil {
			return fmt.Errorf("UART set %d baud failed: %w", settings.BaudRate, err)
		}
	}

	timeout := max(settings.Timeout, minReadTimeout())
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
	t.settings = settings
	return nil
}

// ResetInputBuffer discards bytes received but not yet read.
func (t *Transport) ResetInputBuffer() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("UART reset input failed: %w", err)
	}
	return nil
}

// StartDelivery starts the read loop. Each non-empty read is passed to fn.
func (t *Transport) StartDelivery(fn tjc.DeliveryFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closing {
		return tjc.ErrLinkClosed
	}
	if t.reader != nil {
		return fmt.Errorf("UART %s: %w", t.portName, polling.ErrAlreadyRunning)
	}

	cfg := polling.DefaultConfig()
	cfg.Logger = tjc.Logger().With().Str("component", "uart").Str("port", t.portName).Logger()
	cfg.ReadTimeout = t.settings.Timeout
	t.reader = polling.NewReader(t.Read, polling.DeliverFunc(fn), cfg)
	if err := t.reader.Start(); err != nil {
		t.reader = nil
		return fmt.Errorf("UART %s: %w", t.portName, err)
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

// SetOutput drives the RTS line.
func (t *Transport) SetOutput(enabled bool) error {
	if err := t.port.SetRTS(enabled); err != nil {
		return fmt.Errorf("UART set RTS failed: %w", err)
	}
	return nil
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

	// the loop still owns the port until it has stopped
	if reader != nil {
		reader.Stop()
	}

	t.closed.Store(true)

	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	return t.closed.Load()
}

// IsConnected returns true if the transport is open
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil && !t.closing
}

// Name returns the port path.
func (t *Transport) Name() string {
	return t.portName
}

// Type returns tjc.LinkUART.
func (*Transport) Type() tjc.LinkType {
	return tjc.LinkUART
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry waits for pending output to leave the port, retrying
// interrupted system calls. Must hold mu.
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}

		return fmt.Errorf("UART %s drain failed: %w", operation, err)
	}

	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}
