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
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-tjc/internal/frame"
	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// FrameHandler processes one request received from the panel. It runs on
// its own goroutine; errors and panics are logged and never stop delivery.
type FrameHandler func(ctx context.Context, request string) error

// ReceiverMetrics counts what the receive loop has seen.
type ReceiverMetrics struct {
	FramesReceived int64
	FramesDropped  int64
	ResyncDrops    int64
	DecodeErrors   int64
	HandlerErrors  int64
	HandlerPanics  int64
}

// Receiver turns bytes pushed by a link into frames and dispatches each
// frame's text to the registered handler without blocking the link.
type Receiver struct {
	ctx       context.Context
	link      Link
	handler   FrameHandler
	errorSink func(error)
	decoder   *frame.Decoder
	cancel    context.CancelFunc
	logger    zerolog.Logger
	wg        sync.WaitGroup

	framesReceived atomic.Int64
	framesDropped  atomic.Int64
	decodeErrors   atomic.Int64
	handlerErrors  atomic.Int64
	handlerPanics  atomic.Int64

	mu      syncutil.Mutex
	started bool
}

// NewReceiver creates a receiver for link. Call Start to begin delivery.
func NewReceiver(link Link, logger zerolog.Logger) *Receiver {
	return &Receiver{
		link:    link,
		decoder: frame.NewDecoder(),
		logger:  logger.With().Str("component", "receiver").Str("port", link.Name()).Logger(),
		ctx:     context.Background(),
	}
}

// SetHandler registers the frame handler. A nil handler drops frames.
func (r *Receiver) SetHandler(h FrameHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// SetErrorSink registers a function that receives decode errors in
// addition to the log.
func (r *Receiver) SetErrorSink(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorSink = fn
}

// Start begins event delivery from the link. Handlers receive a context
// derived from ctx that is cancelled by Stop.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.mu.Unlock()

	if err := r.link.StartDelivery(r.Deliver); err != nil {
		r.mu.Lock()
		r.cancel()
		r.started = false
		r.mu.Unlock()
		return fmt.Errorf("failed to start delivery on %s: %w", r.link.Name(), err)
	}
	r.logger.Debug().Msg("receive loop started")
	return nil
}

// Deliver feeds bytes from the link into the decoder and dispatches every
// complete frame. It is the link's DeliveryFunc and never blocks on a
// handler.
func (r *Receiver) Deliver(data []byte) {
	r.mu.Lock()
	frames := r.decoder.Feed(data)
	handler := r.handler
	sink := r.errorSink
	ctx := r.ctx

	requests := make([]string, 0, len(frames))
	var decodeErr error
	for i, f := range frames {
		if !utf8.Valid(f.Payload) {
			// the rest of this batch shares the corrupted buffer
			r.decoder.Reset()
			r.framesDropped.Add(int64(len(frames) - i - 1))
			decodeErr = NewScreenError("receive", r.link.Name(), KindDecodeError,
				fmt.Errorf("%w: % X", ErrInvalidUTF8, f.Payload))
			break
		}
		requests = append(requests, string(f.Payload))
	}
	r.mu.Unlock()

	if decodeErr != nil {
		r.decodeErrors.Add(1)
		r.logger.Warn().Err(decodeErr).Msg("dropping undecodable frame")
		if sink != nil {
			sink(decodeErr)
		}
	}

	for _, request := range requests {
		r.framesReceived.Add(1)
		r.dispatch(ctx, handler, request)
	}
}

func (r *Receiver) dispatch(ctx context.Context, handler FrameHandler, request string) {
	if handler == nil || ctx.Err() != nil {
		r.framesDropped.Add(1)
		r.logger.Debug().Str("request", request).Msg("no handler, frame dropped")
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.handlerPanics.Add(1)
				r.logger.Error().Interface("panic", p).Str("request", request).Msg("frame handler panicked")
			}
		}()

		if err := handler(ctx, request); err != nil {
			r.handlerErrors.Add(1)
			r.logger.Warn().Err(err).Str("request", request).Msg("frame handler failed")
		}
	}()
}

// Pause suspends delivery from the link.
func (r *Receiver) Pause() error {
	if err := r.link.PauseDelivery(); err != nil {
		return fmt.Errorf("failed to pause delivery: %w", err)
	}
	return nil
}

// Resume restarts delivery from the link.
func (r *Receiver) Resume() error {
	if err := r.link.ResumeDelivery(); err != nil {
		return fmt.Errorf("failed to resume delivery: %w", err)
	}
	return nil
}

// Reset discards partially received bytes.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoder.Reset()
}

// Wait blocks until every dispatched handler has returned.
func (r *Receiver) Wait() {
	r.wg.Wait()
}

// Stop pauses delivery, cancels the handler context and waits for running
// handlers.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	started := r.started
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	if !started {
		return nil
	}

	err := r.Pause()
	cancel()
	r.wg.Wait()
	r.logger.Debug().Msg("receive loop stopped")
	return err
}

// Metrics returns a snapshot of the receive counters.
func (r *Receiver) Metrics() ReceiverMetrics {
	r.mu.Lock()
	stats := r.decoder.Stats()
	r.mu.Unlock()

	return ReceiverMetrics{
		FramesReceived: r.framesReceived.Load(),
		FramesDropped:  r.framesDropped.Load(),
		ResyncDrops:    stats.ResyncDrops,
		DecodeErrors:   r.decodeErrors.Load(),
		HandlerErrors:  r.handlerErrors.Load(),
		HandlerPanics:  r.handlerPanics.Load(),
	}
}
