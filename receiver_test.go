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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records requests delivered to a handler.
type collector struct {
	ch chan string
}

func newCollector() *collector {
	return &collector{ch: make(chan string, 16)}
}

func (c *collector) handle(_ context.Context, request string) error {
	c.ch <- request
	return nil
}

func (c *collector) next(t *testing.T) string {
	t.Helper()
	select {
	case req := <-c.ch:
		return req
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request")
		return ""
	}
}

func (c *collector) none(t *testing.T) {
	t.Helper()
	select {
	case req := <-c.ch:
		t.Fatalf("unexpected request %q", req)
	case <-time.After(20 * time.Millisecond):
	}
}

func startReceiver(t *testing.T, handler FrameHandler) (*Receiver, *MockLink) {
	t.Helper()
	link := NewMockLink(nil)
	recv := NewReceiver(link, quietLogger())
	recv.SetHandler(handler)
	require.NoError(t, recv.Start(context.Background()))
	t.Cleanup(func() { _ = recv.Stop() })
	return recv, link
}

func TestReceiver_DeliversFrames(t *testing.T) {
	t.Parallel()

	c := newCollector()
	recv, link := startReceiver(t, c.handle)

	link.Inject(append(inboundFrame("page main"), inboundFrame("fan on")...))
	got := []string{c.next(t), c.next(t)}
	assert.ElementsMatch(t, []string{"page main", "fan on"}, got)

	recv.Wait()
	assert.Equal(t, int64(2), recv.Metrics().FramesReceived)
}

func TestReceiver_ReassemblesAcrossChunks(t *testing.T) {
	t.Parallel()

	c := newCollector()
	_, link := startReceiver(t, c.handle)

	for _, b := range inboundFrame("print start") {
		link.Inject([]byte{b})
	}
	assert.Equal(t, "print start", c.next(t))
}

func TestReceiver_SkipsNoise(t *testing.T) {
	t.Parallel()

	c := newCollector()
	recv, link := startReceiver(t, c.handle)

	link.Inject(append([]byte{0x00, 0x13, 0xFF}, inboundFrame("ok")...))
	assert.Equal(t, "ok", c.next(t))
	assert.Equal(t, int64(3), recv.Metrics().ResyncDrops)
}

func TestReceiver_NoHandlerDropsFrames(t *testing.T) {
	t.Parallel()

	recv, link := startReceiver(t, nil)
	link.Inject(inboundFrame("lost"))

	m := recv.Metrics()
	assert.Equal(t, int64(1), m.FramesReceived)
	assert.Equal(t, int64(1), m.FramesDropped)
}

func TestReceiver_InvalidUTF8DropsBatch(t *testing.T) {
	t.Parallel()

	c := newCollector()
	recv, link := startReceiver(t, c.handle)

	var sunk atomic.Value
	recv.SetErrorSink(func(err error) { sunk.Store(err) })

	bad := []byte{0x5A, 0xA5, 0x02, 0xC3, 0x28}
	link.Inject(append(bad, inboundFrame("same batch")...))
	c.none(t)

	m := recv.Metrics()
	assert.Equal(t, int64(1), m.DecodeErrors)
	assert.Equal(t, int64(1), m.FramesDropped)

	err, ok := sunk.Load().(error)
	require.True(t, ok)
	require.ErrorIs(t, err, ErrInvalidUTF8)
	assert.Equal(t, KindDecodeError, KindOf(err))

	// the decoder recovers for the next batch
	link.Inject(inboundFrame("next"))
	assert.Equal(t, "next", c.next(t))
}

func TestReceiver_PanickingHandlerKeepsDelivering(t *testing.T) {
	t.Parallel()

	c := newCollector()
	var calls atomic.Int32
	recv, link := startReceiver(t, func(ctx context.Context, request string) error {
		if calls.Add(1) == 1 {
			panic("handler bug")
		}
		return c.handle(ctx, request)
	})

	link.Inject(inboundFrame("first"))
	recv.Wait()
	link.Inject(inboundFrame("second"))
	assert.Equal(t, "second", c.next(t))

	recv.Wait()
	assert.Equal(t, int64(1), recv.Metrics().HandlerPanics)
}

func TestReceiver_HandlerErrorsAreCounted(t *testing.T) {
	t.Parallel()

	recv, link := startReceiver(t, func(context.Context, string) error {
		return errors.New("unknown request")
	})

	link.Inject(inboundFrame("bogus"))
	recv.Wait()
	assert.Equal(t, int64(1), recv.Metrics().HandlerErrors)
}

func TestReceiver_SlowHandlerDoesNotBlockDelivery(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	recv, link := startReceiver(t, func(context.Context, string) error {
		started.Done()
		<-release
		return nil
	})

	link.Inject(inboundFrame("one"))
	link.Inject(inboundFrame("two"))

	waited := make(chan struct{})
	go func() {
		started.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("second frame was not dispatched while the first handler ran")
	}

	close(release)
	recv.Wait()
}

func TestReceiver_PauseResumeLosesNothing(t *testing.T) {
	t.Parallel()

	c := newCollector()
	recv, link := startReceiver(t, c.handle)

	require.NoError(t, recv.Pause())
	link.Inject(inboundFrame("queued"))
	c.none(t)

	require.NoError(t, recv.Resume())
	assert.Equal(t, "queued", c.next(t))
}

func TestReceiver_ResetDropsPartialFrame(t *testing.T) {
	t.Parallel()

	c := newCollector()
	recv, link := startReceiver(t, c.handle)

	partial := inboundFrame("cut off")
	link.Inject(partial[:4])
	recv.Reset()
	link.Inject(inboundFrame("whole"))

	assert.Equal(t, "whole", c.next(t))
	c.none(t)
}

func TestReceiver_StopCancelsHandlerContext(t *testing.T) {
	t.Parallel()

	link := NewMockLink(nil)
	recv := NewReceiver(link, quietLogger())

	running := make(chan struct{})
	recv.SetHandler(func(ctx context.Context, _ string) error {
		close(running)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, recv.Start(context.Background()))

	link.Inject(inboundFrame("wait"))
	<-running

	require.NoError(t, recv.Stop())
	assert.True(t, link.Paused())
	assert.NoError(t, recv.Stop(), "stop is idempotent")
}
