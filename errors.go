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
	"errors"
	"fmt"
	"io"
)

// Sentinel errors returned by the engine. Callers match them with errors.Is.
var (
	// Link errors
	ErrLinkClosed           = errors.New("link is closed")
	ErrLinkWrite            = errors.New("link write failed")
	ErrLinkRead             = errors.New("link read failed")
	ErrShortWrite           = errors.New("short write")
	ErrDeliveryNotSupported = errors.New("link does not support event delivery")
	ErrOutputNotSupported   = errors.New("no output line available")

	// Protocol errors
	ErrAckMismatch    = errors.New("unexpected acknowledgement byte")
	ErrNoAck          = errors.New("no acknowledgement received")
	ErrDeviceNotFound = errors.New("device not found")
	ErrInvalidUTF8    = errors.New("frame payload is not valid UTF-8")

	// Mode errors
	ErrAlreadyRaw = errors.New("link is already in raw mode")
	ErrNotRaw     = errors.New("link is not in raw mode")

	// Usage errors
	ErrScreenClosed    = errors.New("screen is closed")
	ErrEmptyPayload    = errors.New("payload is empty")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInvalidName     = errors.New("invalid resource name")
)

// ErrorKind classifies failures for callers that branch on category rather
// than on a specific sentinel.
type ErrorKind int

const (
	// KindNone is the kind of a nil error.
	KindNone ErrorKind = iota
	// KindFramingNoise marks bytes that were discarded while resynchronising.
	// It is counted, never returned.
	KindFramingNoise
	// KindDecodeError marks a frame payload that could not be decoded.
	KindDecodeError
	// KindProtocolAck marks a wrong or missing acknowledgement byte.
	KindProtocolAck
	// KindDeviceNotFound marks a bring-up probe that exhausted every rate.
	KindDeviceNotFound
	// KindLinkIO marks an I/O failure on the underlying link.
	KindLinkIO
	// KindUsage marks an operation invoked in the wrong state.
	KindUsage
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFramingNoise:
		return "framing noise"
	case KindDecodeError:
		return "decode error"
	case KindProtocolAck:
		return "protocol ack mismatch"
	case KindDeviceNotFound:
		return "device not found"
	case KindLinkIO:
		return "link io"
	case KindUsage:
		return "usage"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ScreenError wraps a failure with the operation and port it happened on.
type ScreenError struct {
	Err  error     // Underlying error
	Op   string    // Operation that failed
	Port string    // Link name
	Kind ErrorKind // Failure category
}

func (e *ScreenError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ScreenError) Unwrap() error {
	return e.Err
}

// NewScreenError creates a ScreenError, inferring the kind from err when
// kind is KindNone.
func NewScreenError(op, port string, kind ErrorKind, err error) *ScreenError {
	if kind == KindNone {
		kind = KindOf(err)
	}
	return &ScreenError{Op: op, Port: port, Kind: kind, Err: err}
}

// newAckError reports a status byte that did not match the expected value.
func newAckError(op, port string, want, got byte) *ScreenError {
	return NewScreenError(op, port, KindProtocolAck,
		fmt.Errorf("%w: want 0x%02X, got 0x%02X", ErrAckMismatch, want, got))
}

// newNoAckError reports a read timeout while waiting for a status byte.
func newNoAckError(op, port string, want byte) *ScreenError {
	return NewScreenError(op, port, KindProtocolAck,
		fmt.Errorf("%w: waiting for 0x%02X", ErrNoAck, want))
}

// newLinkError wraps an I/O failure returned by the link.
func newLinkError(op, port string, err error) *ScreenError {
	return NewScreenError(op, port, KindLinkIO, err)
}

// KindOf reports the category of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var se *ScreenError
	if errors.As(err, &se) && se.Kind != KindNone {
		return se.Kind
	}

	switch {
	case errors.Is(err, ErrAckMismatch), errors.Is(err, ErrNoAck):
		return KindProtocolAck
	case errors.Is(err, ErrDeviceNotFound):
		return KindDeviceNotFound
	case errors.Is(err, ErrInvalidUTF8):
		return KindDecodeError
	case errors.Is(err, ErrAlreadyRaw), errors.Is(err, ErrNotRaw),
		errors.Is(err, ErrScreenClosed), errors.Is(err, ErrEmptyPayload),
		errors.Is(err, ErrPayloadTooLarge), errors.Is(err, ErrInvalidName):
		return KindUsage
	default:
		return KindLinkIO
	}
}

// Result is the outcome of an operation as a flag plus a category, for
// collaborators that report status rather than handle errors.
type Result struct {
	Err  error
	Kind ErrorKind
	OK   bool
}

// ResultOf converts an operation's error into a Result.
func ResultOf(err error) Result {
	return Result{OK: err == nil, Kind: KindOf(err), Err: err}
}

// IsRetryable returns true if the error is worth retrying by the caller.
// The engine never retries on its own.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}

	switch KindOf(err) {
	case KindLinkIO, KindDeviceNotFound:
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the link is gone and the
// screen has to be reopened.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrLinkClosed),
		errors.Is(err, ErrScreenClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}
