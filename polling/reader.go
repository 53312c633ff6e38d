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

// Package polling turns a blocking port into a stream of pushed byte
// batches. The loop can be paused with an acknowledgement so another
// goroutine gets exclusive use of the port for a raw exchange.
package polling

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// ErrAlreadyRunning is returned by Start on a running loop.
var ErrAlreadyRunning = errors.New("read loop already running")

// ReadFunc reads from the port. A read that times out returns (0, nil).
type ReadFunc func(p []byte) (int, error)

// DeliverFunc receives every non-empty read. The slice is owned by the
// callee.
type DeliverFunc func(data []byte)

// Metrics counts read loop activity
type Metrics struct {
	Reads          int64 // Total number of read calls
	Batches        int64 // Reads that returned data
	Bytes          int64 // Bytes delivered
	Pauses         int64 // Acknowledged pauses
	SleepsDetected int64 // Host sleep/wake cycles detected
}

// Reader runs the read loop for one port.
type Reader struct {
	read      ReadFunc
	deliver   DeliverFunc
	config    *Config
	err       error
	pauseChan chan chan struct{}
	resumeCh  chan struct{}
	stopChan  chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	reads          atomic.Int64
	batches        atomic.Int64
	bytes          atomic.Int64
	pauses         atomic.Int64
	sleepsDetected atomic.Int64

	mu      syncutil.Mutex
	errMu   syncutil.Mutex
	running bool
	paused  bool
}

// NewReader creates a read loop. config may be nil.
func NewReader(read ReadFunc, deliver DeliverFunc, config *Config) *Reader {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	return &Reader{
		read:      read,
		deliver:   deliver,
		config:    config,
		pauseChan: make(chan chan struct{}),
		resumeCh:  make(chan struct{}),
	}
}

// Start launches the loop. A reader paused before Start begins paused.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})
	r.setErr(nil)

	r.wg.Add(1)
	go r.loop(r.stopChan, r.done)

	if r.paused {
		r.handshakePause()
	}
	r.config.Logger.Debug().Msg("read loop started")
	return nil
}

// Pause stops reading and returns once the loop has acknowledged. Bytes
// from a read already in progress are delivered before the acknowledgement.
func (r *Reader) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused {
		return
	}
	r.paused = true
	if r.running {
		r.handshakePause()
	}
}

// handshakePause must hold mu.
func (r *Reader) handshakePause() {
	ack := make(chan struct{})
	select {
	case r.pauseChan <- ack:
		<-ack
		r.pauses.Add(1)
	case <-r.done:
	}
}

// Resume restarts reading after Pause.
func (r *Reader) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.paused {
		return
	}
	r.paused = false
	if !r.running {
		return
	}
	select {
	case r.resumeCh <- struct{}{}:
	case <-r.done:
	}
}

// Paused reports whether the loop is paused.
func (r *Reader) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Stop ends the loop and waits for it. A read in progress finishes first,
// so Stop can take up to the port's read timeout.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()
	r.config.Logger.Debug().Msg("read loop stopped")
}

// Err returns the error that ended the loop, if any.
func (r *Reader) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Reader) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.err = err
}

// Metrics returns a snapshot of the loop counters.
func (r *Reader) Metrics() Metrics {
	return Metrics{
		Reads:          r.reads.Load(),
		Batches:        r.batches.Load(),
		Bytes:          r.bytes.Load(),
		Pauses:         r.pauses.Load(),
		SleepsDetected: r.sleepsDetected.Load(),
	}
}

func (r *Reader) loop(stop, done chan struct{}) {
	defer r.wg.Done()
	defer close(done)

	buf := make([]byte, r.config.BufferSize)
	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case ack := <-r.pauseChan:
			close(ack)
			if !r.waitForResume(stop) {
				return
			}
			last = time.Now()
			continue
		default:
		}

		n, err := r.read(buf)
		r.reads.Add(1)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			r.setErr(err)
			r.config.Logger.Warn().Err(err).Msg("read loop ended")
			if r.config.OnError != nil {
				r.config.OnError(err)
			}
			return
		}

		now := time.Now()
		if gap := now.Sub(last); r.config.SleepDetection.DetectSleep(gap, r.config.ReadTimeout) {
			r.sleepsDetected.Add(1)
			r.config.Logger.Info().Dur("gap", gap).Msg("host sleep detected")
			if r.config.SleepDetection.OnWake != nil {
				r.config.SleepDetection.OnWake(gap)
			}
		}
		last = now

		if n == 0 {
			if r.config.IdleBackoff > 0 {
				time.Sleep(r.config.IdleBackoff)
			}
			continue
		}

		r.batches.Add(1)
		r.bytes.Add(int64(n))
		r.deliver(slices.Clone(buf[:n]))
	}
}

func (r *Reader) waitForResume(stop chan struct{}) bool {
	select {
	case <-r.resumeCh:
		return true
	case <-stop:
		return false
	}
}
