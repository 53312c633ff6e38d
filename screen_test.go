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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	virt "github.com/ZaparooProject/go-tjc/internal/testing"
)

func newTestScreen(t *testing.T, opts ...Option) (*Screen, *MockLink, *virt.VirtualScreen) {
	t.Helper()
	link, panel := newPanelLink(t)

	base := []Option{
		WithLogger(quietLogger()),
		WithClearSettle(0),
		WithProbeOptions(*fastProbe(DefaultProbeRates()...)),
		WithFlashOptions(*fastFlash(DefaultProbeRates()...)),
	}
	screen, err := NewScreen(link, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, screen.Start(context.Background()))
	t.Cleanup(func() { _ = screen.Close() })
	return screen, link, panel
}

func TestScreen_DeliversRequests(t *testing.T) {
	t.Parallel()

	screen, link, _ := newTestScreen(t)
	c := newCollector()
	screen.SetRequestHandler(c.handle)

	link.Inject(inboundFrame("temp 200"))
	assert.Equal(t, "temp 200", c.next(t))
}

func TestScreen_UploadRestoresStreaming(t *testing.T) {
	t.Parallel()

	screen, link, panel := newTestScreen(t)
	before := link.Settings()

	data := payload(10000)
	require.NoError(t, screen.UploadToRAM(context.Background(), data, "t.jpg"))

	stored, ok := panel.File("t.jpg")
	require.True(t, ok)
	assert.Equal(t, data, stored)
	assert.Equal(t, before, link.Settings())
	assert.Equal(t, ModeStreaming, screen.Mode())
	assert.False(t, link.Paused())
}

func TestScreen_FailedUploadRestoresStreaming(t *testing.T) {
	t.Parallel()

	screen, link, panel := newTestScreen(t)
	before := link.Settings()
	panel.SetChunkStatus(1, 0x22)

	err := screen.UploadToRAM(context.Background(), payload(10000), "t.jpg")
	require.ErrorIs(t, err, ErrAckMismatch)

	history := link.SettingsHistory()
	assert.Equal(t, before, history[len(history)-1])
	assert.Equal(t, ModeStreaming, screen.Mode())
	assert.False(t, link.Paused())
}

func TestScreen_RequestsQueuedDuringRawAreDelivered(t *testing.T) {
	t.Parallel()

	screen, link, _ := newTestScreen(t)
	c := newCollector()
	screen.SetRequestHandler(c.handle)

	err := screen.runRaw(context.Background(), "test", func(Link) error {
		link.Inject(inboundFrame("during raw"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "during raw", c.next(t))
}

func TestScreen_RawPanicIsReturned(t *testing.T) {
	t.Parallel()

	screen, link, _ := newTestScreen(t)
	before := link.Settings()

	err := screen.runRaw(context.Background(), "test", func(Link) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw operation panicked: boom")
	assert.Equal(t, before, link.Settings())
	assert.Equal(t, ModeStreaming, screen.Mode())
}

func TestScreen_ShowThumbnail(t *testing.T) {
	t.Parallel()

	screen, _, panel := newTestScreen(t)
	require.NoError(t, screen.ShowThumbnail(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9}))

	assert.Equal(t, []string{
		`exp0.path=""`,
		`twfile "ram/t.jpg",4`,
		`exp0.path="ram/t.jpg"`,
		"name.aph=0",
	}, panel.Commands())
}

func TestScreen_ShowThumbnailEmptyOnlyClears(t *testing.T) {
	t.Parallel()

	screen, _, panel := newTestScreen(t)
	require.NoError(t, screen.ShowThumbnail(context.Background(), nil))
	assert.Equal(t, []string{`exp0.path=""`}, panel.Commands())
}

func TestScreen_ShowPrinting(t *testing.T) {
	t.Parallel()

	screen, _, panel := newTestScreen(t)
	require.NoError(t, screen.ShowPrinting(context.Background(), "benchy.gcode", []byte{1, 2, 3}))

	assert.Equal(t, []string{
		"page printpause",
		`filename.txt="benchy"`,
		`twfile "ram/t.jpg",3`,
		`exp0.path="ram/t.jpg"`,
	}, panel.Commands())
}

func TestScreen_ConnectKeepsDetectedRate(t *testing.T) {
	t.Parallel()

	screen, link, panel := newTestScreen(t)
	panel.SetPanelBaud(9600)

	info, err := screen.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9600, info.BaudRate)
	assert.Equal(t, LinkSettings{BaudRate: 9600, Timeout: DefaultStreamTimeout}, link.Settings())

	// commands now reach the panel
	require.NoError(t, screen.PageMain())
	assert.Contains(t, panel.Commands(), "page main")
}

func TestScreen_ConnectFailure(t *testing.T) {
	t.Parallel()

	screen, link, panel := newTestScreen(t)
	panel.SetConnectReply("")
	before := link.Settings()

	_, err := screen.Connect(context.Background())
	require.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, before, link.Settings())
}

func TestScreen_FlashImageClearsCache(t *testing.T) {
	t.Parallel()

	screen, link, panel := newTestScreen(t)
	require.NoError(t, screen.SetControlValue("fan_speed", 10))
	before := link.Settings()

	var reports int
	screen.config.Progress = func(Progress) { reports++ }

	image := &FirmwareImage{Data: payload(5000)}
	require.NoError(t, screen.FlashImage(context.Background(), image))

	assert.Equal(t, image.Data, panel.Flashed())
	assert.Zero(t, screen.Cache().Len())
	assert.Equal(t, before, link.Settings())
	assert.Positive(t, reports)

	require.ErrorIs(t, screen.FlashImage(context.Background(), nil), ErrEmptyPayload)
}

func TestScreen_BootVersion(t *testing.T) {
	t.Parallel()

	screen, _, panel := newTestScreen(t)
	panel.SetBootVersion(5)

	version, err := screen.BootVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BootVersion(5), version)
}

func TestScreen_ConcurrentUploadsSerialize(t *testing.T) {
	t.Parallel()

	screen, _, panel := newTestScreen(t)

	var wg sync.WaitGroup
	names := []string{"a.jpg", "b.jpg", "c.jpg"}
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, screen.UploadToRAM(context.Background(), payload(6000), name))
		}()
	}
	wg.Wait()

	for _, name := range names {
		_, ok := panel.File(name)
		assert.True(t, ok, name)
	}
}

func TestScreen_CommandsDuringUploadDoNotInterleave(t *testing.T) {
	t.Parallel()

	screen, _, panel := newTestScreen(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, screen.UploadToRAM(context.Background(), payload(20000), "t.jpg"))
	}()
	go func() {
		defer wg.Done()
		for range 20 {
			assert.NoError(t, screen.SendCommand("ref 0"))
		}
	}()
	wg.Wait()

	_, ok := panel.File("t.jpg")
	assert.True(t, ok, "upload completed without corruption")
}

func TestScreen_SetFanDefaultsToLinkOutput(t *testing.T) {
	t.Parallel()

	screen, link, _ := newTestScreen(t)
	require.NoError(t, screen.SetFan(true))
	assert.Equal(t, []bool{true}, link.Outputs())
}

func TestScreen_WithOutputLine(t *testing.T) {
	t.Parallel()

	var states []bool
	line := OutputLineFunc(func(on bool) error {
		states = append(states, on)
		return nil
	})
	screen, link, _ := newTestScreen(t, WithOutputLine(line))

	require.NoError(t, screen.SetFan(false))
	assert.Equal(t, []bool{false}, states)
	assert.Empty(t, link.Outputs())
}

func TestScreen_CancelledContext(t *testing.T) {
	t.Parallel()

	screen, link, _ := newTestScreen(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := screen.UploadToRAM(ctx, payload(10), "t.jpg")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, link.Written())
}

func TestScreen_Close(t *testing.T) {
	t.Parallel()

	link, _ := newPanelLink(t)
	screen, err := NewScreen(link, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, screen.Start(context.Background()))

	require.NoError(t, screen.Close())
	require.NoError(t, screen.Close())

	err = screen.UploadToRAM(context.Background(), payload(10), "t.jpg")
	require.ErrorIs(t, err, ErrScreenClosed)
	require.ErrorIs(t, screen.Start(context.Background()), ErrScreenClosed)

	_, err = link.Write([]byte{0})
	require.ErrorIs(t, err, ErrLinkClosed)
}

func TestNewScreen_RejectsBadOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		opt  Option
		name string
	}{
		{name: "raw timeout", opt: WithRawTimeout(-time.Second)},
		{name: "version timeout", opt: WithVersionTimeout(-time.Second)},
		{name: "clear settle", opt: WithClearSettle(-time.Millisecond)},
		{name: "custom", opt: func(*ScreenConfig) error { return errors.New("nope") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewScreen(NewMockLink(nil), tt.opt)
			require.Error(t, err)
		})
	}
}

func TestScreenConfig_Options(t *testing.T) {
	t.Parallel()

	cfg := DefaultScreenConfig()
	for _, opt := range []Option{
		WithRawTimeout(time.Second),
		WithVersionTimeout(2 * time.Second),
		WithCommandLogging(false),
		WithQuietControl("a", "b"),
		WithQuietControl("c"),
	} {
		require.NoError(t, opt(cfg))
	}

	assert.Equal(t, time.Second, cfg.RawTimeout)
	assert.Equal(t, 2*time.Second, cfg.VersionTimeout)
	assert.False(t, cfg.LogCommands)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.QuietControls)
	assert.Equal(t, DefaultClearSettle, cfg.ClearSettle)
}
