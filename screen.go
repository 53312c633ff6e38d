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
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// thumbnailName is the RAM file the print preview image is uploaded to.
const thumbnailName = "t.jpg"

// rawJob is one raw operation queued for the raw worker.
type rawJob struct {
	ctx    context.Context
	fn     func(link Link) error
	result chan error
	op     string
}

// Screen drives one panel over one link. It owns the receive loop, the
// mode controller and the command layer. Command methods are promoted
// from the embedded Commands and are safe for concurrent use; they wait
// while a raw operation holds the link.
type Screen struct {
	*Commands

	link     Link
	receiver *Receiver
	mode     *ModeController
	config   *ScreenConfig
	logger   zerolog.Logger
	jobs     chan rawJob
	done     chan struct{}
	wg       sync.WaitGroup
	mu       syncutil.Mutex
	closed   bool
}

// NewScreen creates a screen on link. Call Start to begin receiving.
func NewScreen(link Link, opts ...Option) (*Screen, error) {
	config := DefaultScreenConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	logger := Logger()
	if config.Logger != nil {
		logger = *config.Logger
	}
	if config.Output == nil {
		config.Output = outputLineOf(link)
	}

	receiver := NewReceiver(link, logger)
	if config.ErrorSink != nil {
		receiver.SetErrorSink(config.ErrorSink)
	}
	mode := NewModeController(link, receiver, config.RawTimeout, logger)

	s := &Screen{
		link:     link,
		receiver: receiver,
		mode:     mode,
		config:   config,
		logger:   logger.With().Str("component", "screen").Str("port", link.Name()).Logger(),
		jobs:     make(chan rawJob),
		done:     make(chan struct{}),
		Commands: NewCommands(mode, CommandsConfig{
			Output:        config.Output,
			QuietControls: config.QuietControls,
			LogCommands:   config.LogCommands,
		}, logger),
	}

	s.wg.Add(1)
	go s.rawWorker()

	return s, nil
}

// Start begins delivering inbound frames to the request handler.
func (s *Screen) Start(ctx context.Context) error {
	if s.isClosed() {
		return ErrScreenClosed
	}
	return s.receiver.Start(ctx)
}

// SetRequestHandler registers the handler for inbound frames.
func (s *Screen) SetRequestHandler(h FrameHandler) {
	s.receiver.SetHandler(h)
}

// Link returns the underlying link.
func (s *Screen) Link() Link {
	return s.link
}

// Mode returns the current link mode.
func (s *Screen) Mode() Mode {
	return s.mode.Mode()
}

// Metrics returns the receive loop counters.
func (s *Screen) Metrics() ReceiverMetrics {
	return s.receiver.Metrics()
}

func (s *Screen) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// rawWorker runs raw operations one at a time so a multi-second flash
// never runs on a caller's delivery path.
func (s *Screen) rawWorker() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.jobs:
			job.result <- s.execute(job)
		case <-s.done:
			return
		}
	}
}

func (s *Screen) execute(job rawJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().Interface("panic", p).Str("op", job.op).Msg("raw operation panicked")
			err = NewScreenError(job.op, s.link.Name(), KindLinkIO, fmt.Errorf("raw operation panicked: %v", p))
		}
	}()

	s.logger.Debug().Str("op", job.op).Msg("switching to raw mode")
	err = s.mode.WithRaw(job.ctx, job.fn)
	s.logger.Debug().Str("op", job.op).Err(err).Msg("back in streaming mode")
	return err
}

// runRaw hands fn to the raw worker and waits for it. The context is
// honoured until the operation starts; a started operation always runs to
// completion or failure.
func (s *Screen) runRaw(ctx context.Context, op string, fn func(link Link) error) error {
	if s.isClosed() {
		return ErrScreenClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s not started: %w", op, err)
	}

	job := rawJob{ctx: ctx, op: op, fn: fn, result: make(chan error, 1)}
	select {
	case s.jobs <- job:
	case <-s.done:
		return ErrScreenClosed
	case <-ctx.Done():
		return fmt.Errorf("%s not started: %w", op, ctx.Err())
	}
	return <-job.result
}

func (s *Screen) transferOptions() *TransferOptions {
	return &TransferOptions{
		Progress:    s.config.Progress,
		Logger:      &s.logger,
		ClearSettle: s.config.ClearSettle,
	}
}

// UploadToRAM writes data to the panel's RAM file system as ram/<dest>.
func (s *Screen) UploadToRAM(ctx context.Context, data []byte, dest string) error {
	return s.runRaw(ctx, "upload", func(link Link) error {
		return UploadToRAM(ctx, link, data, dest, s.transferOptions())
	})
}

// ShowThumbnail shows a JPEG preview on the print confirmation page. An
// empty image only clears the previous preview.
func (s *Screen) ShowThumbnail(ctx context.Context, jpeg []byte) error {
	if err := s.SendCommand(`exp0.path=""`); err != nil {
		return err
	}
	if len(jpeg) == 0 {
		return nil
	}
	if err := s.UploadToRAM(ctx, jpeg, thumbnailName); err != nil {
		return err
	}
	return s.SendCommands(`exp0.path="ram/`+thumbnailName+`"`, "name.aph=0")
}

// ShowPrinting switches to the print status page and shows the file name
// and, when given, its preview image.
func (s *Screen) ShowPrinting(ctx context.Context, filename string, thumbnail []byte) error {
	if err := s.PagePrinting(filename); err != nil {
		return err
	}
	if len(thumbnail) == 0 {
		return nil
	}
	if err := s.UploadToRAM(ctx, thumbnail, thumbnailName); err != nil {
		return err
	}
	return s.SendCommand(`exp0.path="ram/` + thumbnailName + `"`)
}

// Connect probes the panel's baud rate. On success the link keeps
// streaming at the detected rate.
func (s *Screen) Connect(ctx context.Context) (*DeviceInfo, error) {
	var info *DeviceInfo
	err := s.runRaw(ctx, "connect", func(link Link) error {
		probe := s.probeOptions()
		found, err := ProbeBaudRate(ctx, link, probe)
		if err != nil {
			return err
		}
		info = found
		return s.mode.SetRestoreBaudRate(found.BaudRate)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Screen) probeOptions() *ProbeOptions {
	probe := DefaultProbeOptions()
	if s.config.Probe != nil {
		*probe = *s.config.Probe
	}
	if probe.Logger == nil {
		probe.Logger = &s.logger
	}
	return probe
}

// FlashFirmware downloads the firmware file at path to the panel.
func (s *Screen) FlashFirmware(ctx context.Context, path string) error {
	image, err := LoadFirmware(path)
	if err != nil {
		return err
	}
	return s.FlashImage(ctx, image)
}

// FlashImage downloads an in-memory firmware image to the panel. The
// control value cache is cleared afterwards since the panel reboots.
func (s *Screen) FlashImage(ctx context.Context, image *FirmwareImage) error {
	if image == nil || len(image.Data) == 0 {
		return NewScreenError("flash", s.link.Name(), KindUsage, ErrEmptyPayload)
	}

	opts := DefaultFlashOptions()
	if s.config.Flash != nil {
		*opts = *s.config.Flash
	}
	if opts.Progress == nil {
		opts.Progress = s.config.Progress
	}
	if opts.Logger == nil {
		opts.Logger = &s.logger
	}
	if opts.Probe == nil {
		opts.Probe = s.probeOptions()
	}

	err := s.runRaw(ctx, "flash", func(link Link) error {
		return FlashFirmware(ctx, link, image.Data, opts)
	})
	s.Cache().Clear()
	return err
}

// BootVersion reads the panel boot loader version. BootVersionUnknown
// with a nil error means the panel answered without a version.
func (s *Screen) BootVersion(ctx context.Context) (BootVersion, error) {
	version := BootVersionUnknown
	err := s.runRaw(ctx, "boot version", func(link Link) error {
		v, err := QueryBootVersion(ctx, link, s.config.VersionTimeout)
		version = v
		return err
	})
	return version, err
}

// Close stops the receive loop and the raw worker and closes the link.
// A raw operation in progress finishes first.
func (s *Screen) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()

	var errs []error
	if err := s.receiver.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close link %s: %w", s.link.Name(), err))
	}
	return errors.Join(errs...)
}
