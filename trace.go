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
	"strings"
	"time"
)

// TraceDirection indicates the direction of wire data.
type TraceDirection string

const (
	// TraceTX marks bytes written to the panel.
	TraceTX TraceDirection = "TX"
	// TraceRX marks bytes read from the panel.
	TraceRX TraceDirection = "RX"
)

// defaultTraceSize bounds the entries kept per raw operation.
const defaultTraceSize = 32

// TraceEntry is one wire-level operation.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError carries the wire trace of the raw operation that failed.
//
//	var te *tjc.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Op    string
	Port  string
	Trace []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the trace one entry per line.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Op, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] wire trace (%d entries):\n", e.Op, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, formatHexBytes(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, formatHexBytes(entry.Data))
		}
	}
	return sb.String()
}

// formatHexBytes formats up to 32 bytes as space separated hex.
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	limit := min(len(data), 32)
	parts := make([]string, limit)
	for i := range limit {
		parts[i] = fmt.Sprintf("%02X", data[i])
	}
	out := strings.Join(parts, " ")
	if len(data) > limit {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

// TraceBuffer collects the most recent wire operations of one raw
// operation in a fixed-size ring.
type TraceBuffer struct {
	op      string
	port    string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a trace buffer holding at most maxSize entries.
func NewTraceBuffer(op, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = defaultTraceSize
	}
	return &TraceBuffer{
		op:      op,
		port:    port,
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// RecordTX records bytes written to the panel.
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes read from the panel.
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a read that returned nothing.
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	// chunk payloads are large; the formatter only shows 32 bytes anyway
	keep := min(len(data), 64)
	dataCopy := make([]byte, keep)
	copy(dataCopy, data[:keep])

	entry := TraceEntry{
		Timestamp: time.Now(),
		Direction: dir,
		Note:      note,
		Data:      dataCopy,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
		return
	}
	tb.entries = append(tb.entries, entry)
}

// Entries returns a copy of the recorded entries, oldest first.
func (tb *TraceBuffer) Entries() []TraceEntry {
	out := make([]TraceEntry, len(tb.entries))
	copy(out, tb.entries)
	return out
}

// WrapError attaches the collected trace to err. Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:   err,
		Op:    tb.op,
		Port:  tb.port,
		Trace: tb.Entries(),
	}
}

// Clear drops every entry.
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// HasTrace checks if an error carries wire trace data.
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present.
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
