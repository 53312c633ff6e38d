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
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-tjc/internal/frame"
)

// DefaultClearSettle is the pause after the clear sequence that precedes a
// RAM upload announcement.
const DefaultClearSettle = 50 * time.Millisecond

// maxUploadChunks is bounded by the 16-bit chunk index.
const maxUploadChunks = math.MaxUint16 + 1

// TransferOptions tunes UploadToRAM.
type TransferOptions struct {
	// Progress receives a report after every acknowledged chunk
	Progress ProgressFunc
	// Logger overrides the package logger
	Logger *zerolog.Logger
	// ClearSettle is the pause after the clear sequence
	ClearSettle time.Duration
}

// DefaultTransferOptions returns the options used when nil is passed.
func DefaultTransferOptions() *TransferOptions {
	return &TransferOptions{ClearSettle: DefaultClearSettle}
}

// transferSession is the state of one RAM upload.
type transferSession struct {
	link     Link
	trace    *TraceBuffer
	progress *progressTracker
	logger   zerolog.Logger
	data     []byte
	dest     string
	index    int
	sent     int
}

// UploadToRAM writes data into the panel's RAM file system as ram/<dest>.
// The link must already be in raw mode. Every chunk is acknowledged before
// the next is sent; the first wrong or missing acknowledgement aborts the
// upload without retrying. Failures carry a wire trace.
func UploadToRAM(ctx context.Context, link Link, data []byte, dest string, opts *TransferOptions) error {
	if opts == nil {
		opts = DefaultTransferOptions()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upload not started: %w", err)
	}
	if err := validateUpload(data, dest); err != nil {
		return NewScreenError("upload", link.Name(), KindUsage, err)
	}

	logger := Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &transferSession{
		link:     link,
		data:     data,
		dest:     dest,
		trace:    NewTraceBuffer("upload", link.Name(), defaultTraceSize),
		progress: newProgressTracker(opts.Progress, PhaseUploading, len(data), frame.ChunkSize),
		logger:   logger.With().Str("component", "transfer").Str("dest", dest).Logger(),
	}

	if err := s.run(opts.ClearSettle); err != nil {
		s.logger.Warn().Err(err).Int("chunk", s.index).Int("sent", s.sent).Msg("upload failed")
		return s.trace.WrapError(err)
	}
	s.logger.Debug().Int("bytes", len(data)).Int("chunks", s.index).Msg("upload complete")
	return nil
}

func validateUpload(data []byte, dest string) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if chunkCount(len(data), frame.ChunkSize) > maxUploadChunks {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}
	if dest == "" || strings.ContainsAny(dest, "\"\xff") {
		return fmt.Errorf("%w: %q", ErrInvalidName, dest)
	}
	return nil
}

func (s *transferSession) run(settle time.Duration) error {
	if err := s.write(frame.ResyncSequence, "clear"); err != nil {
		return err
	}
	time.Sleep(settle)

	announce := frame.EncodeText(fmt.Sprintf("twfile \"ram/%s\",%d", s.dest, len(s.data)))
	if err := s.write(announce, "twfile"); err != nil {
		return err
	}
	if err := s.expect(frame.StatusReady, "twfile"); err != nil {
		return err
	}
	// some firmware follows the ready byte with a terminator
	if err := s.link.ResetInputBuffer(); err != nil {
		return newLinkError("upload twfile", s.link.Name(), err)
	}
	s.progress.report(0, 0)

	buf := frame.GetChunkBuffer()
	defer frame.PutBuffer(buf)

	for s.sent < len(s.data) {
		end := min(s.sent+frame.ChunkSize, len(s.data))
		payload := s.data[s.sent:end]

		buf = frame.AppendChunk(buf[:0], uint16(s.index), payload) //nolint:gosec // bounded by maxUploadChunks
		if err := s.write(buf, fmt.Sprintf("chunk %d", s.index)); err != nil {
			return err
		}

		want := frame.StatusContinue
		if end == len(s.data) {
			want = frame.StatusComplete
		}
		if err := s.expect(want, fmt.Sprintf("chunk %d", s.index)); err != nil {
			return err
		}

		s.index++
		s.sent = end
		s.progress.report(s.index, s.sent)
	}

	return s.write(frame.ResyncSequence, "finalize")
}

func (s *transferSession) write(data []byte, note string) error {
	s.trace.RecordTX(data, note)
	if err := writeAll(s.link, data); err != nil {
		return newLinkError("upload "+note, s.link.Name(), err)
	}
	return nil
}

func (s *transferSession) expect(want byte, note string) error {
	status, ok, err := readStatus(s.link)
	if err != nil {
		return newLinkError("upload "+note, s.link.Name(), err)
	}
	if !ok {
		s.trace.RecordTimeout(note)
		return newNoAckError("upload "+note, s.link.Name(), want)
	}
	s.trace.RecordRX([]byte{status}, note)
	if status != want {
		return newAckError("upload "+note, s.link.Name(), want, status)
	}
	return nil
}
