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
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// Default link settings used when a link is opened for streaming.
const (
	DefaultBaudRate        = 115200
	DefaultStreamTimeout   = 500 * time.Millisecond
	DefaultRawTimeout      = 3 * time.Second
	DefaultProbeTimeout    = 400 * time.Millisecond
	DefaultFlashBaudRate   = 921600
	DefaultFlashAckTimeout = 500 * time.Millisecond
	DefaultVersionTimeout  = 1500 * time.Millisecond
)

// LinkSettings is the mutable configuration of a link.
type LinkSettings struct {
	BaudRate int
	// Timeout bounds a single Read call. A Read that times out returns
	// (0, nil).
	Timeout time.Duration
}

func (s LinkSettings) String() string {
	return fmt.Sprintf("%d baud, %s timeout", s.BaudRate, s.Timeout)
}

// DefaultLinkSettings returns the settings a link starts streaming with.
func DefaultLinkSettings() LinkSettings {
	return LinkSettings{BaudRate: DefaultBaudRate, Timeout: DefaultStreamTimeout}
}

// LinkType identifies the backend behind a Link.
type LinkType string

const (
	// LinkUART is a go.bug.st/serial port.
	LinkUART LinkType = "uart"
	// LinkTarm is a github.com/tarm/serial port.
	LinkTarm LinkType = "tarm"
	// LinkMock is the in-memory MockLink.
	LinkMock LinkType = "mock"
)

// DeliveryFunc receives bytes from a link's event delivery. The slice is
// owned by the callee.
type DeliveryFunc func(data []byte)

// Link is a bidirectional byte stream to the panel.
//
// A Link supports two access styles. In streaming mode the link pushes
// inbound bytes to the function given to StartDelivery. In raw mode
// delivery is paused and the caller issues blocking Reads bounded by the
// configured timeout. Links that cannot deliver events return
// ErrDeliveryNotSupported from StartDelivery and only serve raw access.
type Link interface {
	io.ReadWriteCloser

	// Settings returns the settings currently applied.
	Settings() LinkSettings

	// ApplySettings changes baud rate and read timeout.
	ApplySettings(settings LinkSettings) error

	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error

	// StartDelivery begins pushing inbound bytes to fn.
	StartDelivery(fn DeliveryFunc) error

	// PauseDelivery stops event delivery. Bytes arriving while paused stay
	// buffered. Pausing a paused link is a no-op.
	PauseDelivery() error

	// ResumeDelivery restarts event delivery. Resuming a running link is
	// a no-op.
	ResumeDelivery() error

	// Name returns the port path or another identifier.
	Name() string

	// Type returns the link backend.
	Type() LinkType
}

// writeAll writes data and turns a short write into an error.
func writeAll(link Link, data []byte) error {
	n, err := link.Write(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLinkWrite, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(data))
	}
	return nil
}

// readStatus reads a single status byte. ok is false when the read timed
// out without data.
func readStatus(link Link) (status byte, ok bool, err error) {
	var b [1]byte
	n, err := link.Read(b[:])
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrLinkRead, err)
	}
	if n == 0 {
		return 0, false, nil
	}
	return b[0], true, nil
}

// readUntil reads up to limit bytes, stopping early on a read timeout or
// when done reports the buffer complete.
func readUntil(link Link, limit int, done func([]byte) bool) ([]byte, error) {
	out := make([]byte, 0, limit)
	buf := make([]byte, limit)
	for len(out) < limit {
		n, err := link.Read(buf[:limit-len(out)])
		if err != nil {
			return out, fmt.Errorf("%w: %w", ErrLinkRead, err)
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
		if done != nil && done(out) {
			return out, nil
		}
	}
	return out, nil
}

// MockLink is an in-memory Link for tests. Writes are recorded and passed
// to an optional backend that plays the panel; Reads are served by the
// backend. Inject pushes bytes through event delivery.
type MockLink struct {
	backend  io.ReadWriter
	deliver  DeliveryFunc
	readErr  error
	writeErr error
	applyErr error
	name     string
	written  bytes.Buffer
	writes   [][]byte
	pending  [][]byte
	history  []LinkSettings
	outputs  []bool
	settings LinkSettings
	resets   int
	pauses   int
	resumes  int
	mu       syncutil.Mutex
	paused   bool
	closed   bool
}

// baudAware backends are told about baud rate changes so they can model a
// panel that only understands one rate.
type baudAware interface {
	SetBaudRate(rate int)
}

// inputResetter backends drop pending panel output when the host discards
// its input buffer.
type inputResetter interface {
	ResetInput()
}

// NewMockLink creates a mock link. backend may be nil, in which case every
// Read times out.
func NewMockLink(backend io.ReadWriter) *MockLink {
	m := &MockLink{
		backend:  backend,
		name:     "mock",
		settings: DefaultLinkSettings(),
	}
	if ba, ok := backend.(baudAware); ok {
		ba.SetBaudRate(m.settings.BaudRate)
	}
	return m
}

func (m *MockLink) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrLinkClosed
	}
	if m.readErr != nil {
		err := m.readErr
		m.mu.Unlock()
		return 0, err
	}
	backend := m.backend
	m.mu.Unlock()

	if backend == nil {
		return 0, nil
	}
	n, err := backend.Read(p)
	if err == io.EOF {
		return n, nil
	}
	return n, err //nolint:wrapcheck // mirrors the backend
}

func (m *MockLink) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrLinkClosed
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}
	_, _ = m.written.Write(p)
	m.writes = append(m.writes, slices.Clone(p))
	backend := m.backend
	m.mu.Unlock()

	if backend == nil {
		return len(p), nil
	}
	return backend.Write(p) //nolint:wrapcheck // mirrors the backend
}

// Close marks the link closed.
func (m *MockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Settings returns the current settings.
func (m *MockLink) Settings() LinkSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// ApplySettings records and applies settings.
func (m *MockLink) ApplySettings(settings LinkSettings) error {
	m.mu.Lock()
	if m.applyErr != nil {
		err := m.applyErr
		m.mu.Unlock()
		return err
	}
	m.settings = settings
	m.history = append(m.history, settings)
	backend := m.backend
	m.mu.Unlock()

	if ba, ok := backend.(baudAware); ok {
		ba.SetBaudRate(settings.BaudRate)
	}
	return nil
}

// ResetInputBuffer counts the reset and forwards it to the backend.
func (m *MockLink) ResetInputBuffer() error {
	m.mu.Lock()
	m.resets++
	backend := m.backend
	m.mu.Unlock()

	if ir, ok := backend.(inputResetter); ok {
		ir.ResetInput()
	}
	return nil
}

// StartDelivery registers fn for Inject.
func (m *MockLink) StartDelivery(fn DeliveryFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliver = fn
	return nil
}

// PauseDelivery queues injected bytes until ResumeDelivery.
func (m *MockLink) PauseDelivery() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses++
	m.paused = true
	return nil
}

// ResumeDelivery delivers bytes queued while paused.
func (m *MockLink) ResumeDelivery() error {
	m.mu.Lock()
	m.resumes++
	m.paused = false
	pending := m.pending
	m.pending = nil
	deliver := m.deliver
	m.mu.Unlock()

	if deliver != nil {
		for _, data := range pending {
			deliver(data)
		}
	}
	return nil
}

// SetOutput records the output line state, modelling RTS.
func (m *MockLink) SetOutput(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, enabled)
	return nil
}

// Name returns the link name.
func (m *MockLink) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Type returns LinkMock.
func (*MockLink) Type() LinkType {
	return LinkMock
}

// Inject pushes data through event delivery, or queues it while paused.
func (m *MockLink) Inject(data []byte) {
	data = slices.Clone(data)

	m.mu.Lock()
	if m.paused || m.deliver == nil {
		m.pending = append(m.pending, data)
		m.mu.Unlock()
		return
	}
	deliver := m.deliver
	m.mu.Unlock()

	deliver(data)
}

// Written returns every byte written so far.
func (m *MockLink) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.written.Bytes())
}

// Writes returns each Write call's bytes.
func (m *MockLink) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// ClearWritten forgets recorded writes.
func (m *MockLink) ClearWritten() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written.Reset()
	m.writes = nil
}

// SettingsHistory returns every settings value applied, in order.
func (m *MockLink) SettingsHistory() []LinkSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

// Outputs returns every output line state set, in order.
func (m *MockLink) Outputs() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.outputs)
}

// InputResets returns how many times the input buffer was reset.
func (m *MockLink) InputResets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Paused reports whether delivery is paused.
func (m *MockLink) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// PauseCounts returns how many times delivery was paused and resumed.
func (m *MockLink) PauseCounts() (pauses, resumes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauses, m.resumes
}

// SetName changes the reported link name.
func (m *MockLink) SetName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
}

// SetReadError makes every Read fail with err. nil clears it.
func (m *MockLink) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetWriteError makes every Write fail with err. nil clears it.
func (m *MockLink) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetApplyError makes ApplySettings fail with err. nil clears it.
func (m *MockLink) SetApplyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
}
