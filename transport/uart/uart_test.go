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

package uart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/ZaparooProject/go-tjc"
	virt "github.com/ZaparooProject/go-tjc/internal/testing"
)

// MockSerialPort wraps VirtualScreen to implement serial.Port
type MockSerialPort struct {
	sim         *virt.VirtualScreen
	drainErrs   []error
	modes       []int
	rts         []bool
	readTimeout time.Duration
	drains      int
	mu          sync.Mutex
	closed      bool
}

// NewMockSerialPort creates a mock serial port backed by the panel simulator
func NewMockSerialPort(sim *virt.VirtualScreen) *MockSerialPort {
	return &MockSerialPort{sim: sim}
}

func (m *MockSerialPort) SetMode(mode *serial.Mode) error {
	m.mu.Lock()
	m.modes = append(m.modes, mode.BaudRate)
	m.mu.Unlock()
	m.sim.SetBaudRate(mode.BaudRate)
	return nil
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return 0, errors.New("port is closed")
	}

	n, err := m.sim.Read(p)
	if n == 0 && err == nil {
		// model a short read timeout
		time.Sleep(200 * time.Microsecond)
	}
	return n, err //nolint:wrapcheck // mock
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return 0, errors.New("port is closed")
	}
	return m.sim.Write(p) //nolint:wrapcheck // mock
}

func (m *MockSerialPort) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drains++
	if len(m.drainErrs) > 0 {
		err := m.drainErrs[0]
		m.drainErrs = m.drainErrs[1:]
		return err
	}
	return nil
}

func (m *MockSerialPort) ResetInputBuffer() error {
	m.sim.ResetInput()
	return nil
}

func (*MockSerialPort) ResetOutputBuffer() error {
	return nil
}

func (*MockSerialPort) SetDTR(_ bool) error {
	return nil
}

func (m *MockSerialPort) SetRTS(rts bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rts = append(m.rts, rts)
	return nil
}

func (*MockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (m *MockSerialPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = t
	return nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (*MockSerialPort) Break(_ time.Duration) error {
	return nil
}

func (m *MockSerialPort) state() (modes []int, rts []bool, timeout time.Duration, drains int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.modes...), append([]bool(nil), m.rts...), m.readTimeout, m.drains
}

// Verify interface implementation
var _ serial.Port = (*MockSerialPort)(nil)

func newTestTransport(t *testing.T) (*Transport, *MockSerialPort, *virt.VirtualScreen) {
	t.Helper()
	sim := virt.NewVirtualScreen()
	port := NewMockSerialPort(sim)
	tr, err := New(port, "/dev/ttyMOCK0", tjc.DefaultLinkSettings())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, port, sim
}

func TestNew_AppliesSettings(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTestTransport(t)
	modes, _, timeout, drains := port.state()

	assert.Equal(t, []int{tjc.DefaultBaudRate}, modes)
	assert.Equal(t, max(tjc.DefaultStreamTimeout, minReadTimeout()), timeout)
	assert.Zero(t, drains, "nothing to drain before the first settings")
	assert.Equal(t, tjc.DefaultLinkSettings(), tr.Settings())
	assert.Equal(t, "/dev/ttyMOCK0", tr.Name())
	assert.Equal(t, tjc.LinkUART, tr.Type())
	assert.True(t, tr.IsConnected())
}

func TestTransport_ApplySettingsDrainsFirst(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTestTransport(t)
	require.NoError(t, tr.ApplySettings(tjc.LinkSettings{BaudRate: 921600, Timeout: time.Second}))
	require.NoError(t, tr.ApplySettings(tjc.LinkSettings{BaudRate: 921600, Timeout: 2 * time.Second}))

	modes, _, timeout, drains := port.state()
	assert.Equal(t, []int{tjc.DefaultBaudRate, 921600}, modes, "mode is only set when the rate changes")
	assert.Equal(t, 2*time.Second, timeout)
	assert.Equal(t, 2, drains)
}

func TestTransport_DrainRetriesInterruptedCall(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTestTransport(t)
	port.mu.Lock()
	port.drainErrs = []error{errors.New("interrupted system call"), errors.New("EINTR")}
	port.mu.Unlock()

	require.NoError(t, tr.ApplySettings(tjc.LinkSettings{BaudRate: 9600, Timeout: time.Second}))

	port.mu.Lock()
	port.drainErrs = []error{errors.New("input/output error")}
	port.mu.Unlock()
	err := tr.ApplySettings(tjc.LinkSettings{BaudRate: 115200, Timeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drain failed")
	assert.Equal(t, 9600, tr.Settings().BaudRate, "failed change keeps the old settings")
}

func TestTransport_RawExchange(t *testing.T) {
	t.Parallel()

	tr, _, _ := newTestTransport(t)
	_, err := tr.Write([]byte("connect\xff\xff\xff"))
	require.NoError(t, err)

	buf := make([]byte, 128)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "comok")
}

func TestTransport_DeliveryAndPause(t *testing.T) {
	t.Parallel()

	tr, _, sim := newTestTransport(t)

	var mu sync.Mutex
	var got []byte
	require.NoError(t, tr.StartDelivery(func(data []byte) {
		mu.Lock()
		got = append(got, data...)
		mu.Unlock()
	}))
	received := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}

	sim.QueueFrame("ok")
	assert.Eventually(t, func() bool { return received() == 5 }, time.Second, time.Millisecond)

	require.NoError(t, tr.PauseDelivery())
	sim.QueueFrame("raw")
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 5, received(), "paused loop does not consume")

	buf := make([]byte, 16)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "\x5a\xa5\x03raw", string(buf[:n]))

	require.NoError(t, tr.ResumeDelivery())
	sim.QueueFrame("again")
	assert.Eventually(t, func() bool { return received() == 13 }, time.Second, time.Millisecond)

	require.Error(t, tr.StartDelivery(func([]byte) {}))
}

func TestTransport_SetOutputDrivesRTS(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTestTransport(t)
	require.NoError(t, tr.SetOutput(true))
	require.NoError(t, tr.SetOutput(false))

	_, rts, _, _ := port.state()
	assert.Equal(t, []bool{true, false}, rts)
}

func TestTransport_Close(t *testing.T) {
	t.Parallel()

	tr, _, _ := newTestTransport(t)
	require.NoError(t, tr.StartDelivery(func([]byte) {}))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())

	_, err := tr.Read(make([]byte, 1))
	require.ErrorIs(t, err, tjc.ErrLinkClosed)
	require.ErrorIs(t, tr.StartDelivery(func([]byte) {}), tjc.ErrLinkClosed)
}

func TestScreenOverUART(t *testing.T) {
	t.Parallel()

	tr, _, sim := newTestTransport(t)
	screen, err := tjc.NewScreen(tr,
		tjc.WithLogger(zerolog.Nop()),
		tjc.WithClearSettle(0),
		tjc.WithRawTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, screen.Start(context.Background()))
	defer func() { _ = screen.Close() }()

	requests := make(chan string, 1)
	screen.SetRequestHandler(func(_ context.Context, req string) error {
		requests <- req
		return nil
	})

	data := make([]byte, 9000)
	require.NoError(t, screen.UploadToRAM(context.Background(), data, "t.jpg"))
	stored, ok := sim.File("t.jpg")
	require.True(t, ok)
	assert.Len(t, stored, 9000)
	assert.Equal(t, tjc.DefaultLinkSettings(), tr.Settings())

	sim.QueueFrame("page main")
	select {
	case req := <-requests:
		assert.Equal(t, "page main", req)
	case <-time.After(time.Second):
		t.Fatal("request not delivered after upload")
	}
}

func TestIsInterruptedSystemCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "message", err: errors.New("read: interrupted system call"), want: true},
		{name: "errno name", err: errors.New("EINTR"), want: true},
		{name: "other", err: errors.New("no such device"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isInterruptedSystemCall(tt.err))
		})
	}
}
