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

// Package testing provides a byte-level simulator of a TJC/Nextion panel
// for exercising the engine without hardware.
//
// VirtualScreen implements io.ReadWriter. Writes are parsed as the panel
// would parse them: terminated text instructions, RAM upload chunks after
// an accepted twfile, and bare firmware chunks after whmi-wri. Replies are
// queued for Read. A Read with nothing queued returns (0, nil), which the
// engine treats as a read timeout.
package testing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// Wire constants, duplicated from the engine so this package stays a leaf.
const (
	statusReady    byte = 0xFE
	statusContinue byte = 0x05
	statusComplete byte = 0xFD

	chunkSize        = 4096
	chunkHeaderSize  = 12
	defaultPanelBaud = 115200
)

var (
	terminator    = []byte{0xFF, 0xFF, 0xFF}
	chunkPreamble = []byte{0x3A, 0xA1, 0xBB, 0x44, 0x7F, 0xFF, 0xFE}
)

// DefaultConnectReply is what VirtualScreen answers to "connect".
const DefaultConnectReply = "comok 1,30601-0,TJC4832T135_011R,52,61488,D264B8204F0E1828,16777216"

type panelState int

const (
	stateCommand panelState = iota
	stateUpload
	stateFlash
)

// ChunkRecord describes one RAM upload chunk the panel received.
type ChunkRecord struct {
	Index  int
	Length int
}

// VirtualScreen simulates a panel on the other end of a serial link.
type VirtualScreen struct {
	files       map[string][]byte
	chunkStatus map[int]byte
	flashStatus map[int]byte
	dropChunk   map[int]bool
	twfileReply []byte
	connect     string

	rx       []byte
	tx       []byte
	deferred []byte
	commands []string
	chunks   []ChunkRecord
	flash    []byte

	uploadName  string
	uploadData  []byte
	uploadTotal int
	nextChunk   int

	flashTotal int
	flashChunk int

	panelBaud   int
	hostBaud    int
	bootVersion int
	garbled     int
	inputResets int

	mu    syncutil.Mutex
	state panelState
}

// NewVirtualScreen creates a panel listening at 115200 baud.
func NewVirtualScreen() *VirtualScreen {
	return &VirtualScreen{
		files:       make(map[string][]byte),
		chunkStatus: make(map[int]byte),
		flashStatus: make(map[int]byte),
		dropChunk:   make(map[int]bool),
		twfileReply: []byte{statusReady},
		connect:     DefaultConnectReply,
		panelBaud:   defaultPanelBaud,
		hostBaud:    defaultPanelBaud,
		bootVersion: -1,
	}
}

// SetPanelBaud sets the rate the panel listens at. Bytes written at any
// other rate are lost.
func (v *VirtualScreen) SetPanelBaud(rate int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.panelBaud = rate
}

// SetBaudRate is called by the host link when it changes rate.
func (v *VirtualScreen) SetBaudRate(rate int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hostBaud = rate
}

// ResetInput is called when the host discards its input buffer.
func (v *VirtualScreen) ResetInput() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tx = nil
	v.inputResets++
}

// SetConnectReply changes the reply to "connect". An empty reply keeps the
// panel silent.
func (v *VirtualScreen) SetConnectReply(reply string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connect = reply
}

// SetTwfileReply changes the bytes sent in answer to twfile. Uploads
// proceed only when the first byte is 0xFE.
func (v *VirtualScreen) SetTwfileReply(reply ...byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.twfileReply = reply
}

// SetChunkStatus replaces the status byte sent after RAM upload chunk
// index.
func (v *VirtualScreen) SetChunkStatus(index int, status byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunkStatus[index] = status
}

// DropChunkAck keeps the panel silent after RAM upload chunk index.
func (v *VirtualScreen) DropChunkAck(index int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropChunk[index] = true
}

// SetFlashChunkStatus replaces the status byte sent after firmware chunk
// index.
func (v *VirtualScreen) SetFlashChunkStatus(index int, status byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.flashStatus[index] = status
}

// SetBootVersion makes "page boot" answer with the version. A negative
// version keeps the boot page silent.
func (v *VirtualScreen) SetBootVersion(version int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bootVersion = version
}

// QueueFrame queues a 5A A5 framed reply for the next Read.
func (v *VirtualScreen) QueueFrame(payload string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tx = append(v.tx, 0x5A, 0xA5, byte(len(payload)))
	v.tx = append(v.tx, payload...)
}

// Commands returns the text instructions received, in order. Empty
// resync instructions are not recorded.
func (v *VirtualScreen) Commands() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.commands))
	copy(out, v.commands)
	return out
}

// Chunks returns the RAM upload chunks received, in order.
func (v *VirtualScreen) Chunks() []ChunkRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ChunkRecord, len(v.chunks))
	copy(out, v.chunks)
	return out
}

// File returns a completed RAM upload.
func (v *VirtualScreen) File(name string) ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	data, ok := v.files[name]
	return data, ok
}

// Flashed returns the firmware bytes received.
func (v *VirtualScreen) Flashed() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return bytes.Clone(v.flash)
}

// PanelBaud returns the rate the panel currently listens at.
func (v *VirtualScreen) PanelBaud() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.panelBaud
}

// GarbledWrites counts writes lost to a baud rate mismatch.
func (v *VirtualScreen) GarbledWrites() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.garbled
}

// InputResets counts host input buffer resets.
func (v *VirtualScreen) InputResets() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inputResets
}

// Read returns queued replies. Replies deferred until a baud switch are
// released once the host listens at the new rate.
func (v *VirtualScreen) Read(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.deferred) > 0 && v.hostBaud == v.panelBaud {
		v.tx = append(v.tx, v.deferred...)
		v.deferred = nil
	}
	n := copy(p, v.tx)
	v.tx = v.tx[n:]
	return n, nil
}

// Write feeds bytes to the panel.
func (v *VirtualScreen) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.hostBaud != v.panelBaud {
		v.garbled++
		return len(p), nil
	}
	v.rx = append(v.rx, p...)
	v.process()
	return len(p), nil
}

// process consumes as much of rx as the current state allows. Must hold mu.
func (v *VirtualScreen) process() {
	for {
		var progressed bool
		switch v.state {
		case stateCommand:
			progressed = v.processCommand()
		case stateUpload:
			progressed = v.processChunk()
		case stateFlash:
			progressed = v.processFlash()
		}
		if !progressed {
			return
		}
	}
}

func (v *VirtualScreen) processCommand() bool {
	idx := bytes.Index(v.rx, terminator)
	if idx < 0 {
		return false
	}
	instruction := string(bytes.TrimLeft(v.rx[:idx], "\x00"))
	v.rx = v.rx[idx+len(terminator):]
	if instruction != "" {
		v.commands = append(v.commands, instruction)
		v.handle(instruction)
	}
	return true
}

func (v *VirtualScreen) handle(instruction string) {
	switch {
	case instruction == "connect":
		if v.connect != "" {
			v.tx = append(v.tx, v.connect...)
			v.tx = append(v.tx, terminator...)
		}
	case strings.HasPrefix(instruction, "twfile "):
		v.startUpload(strings.TrimPrefix(instruction, "twfile "))
	case strings.HasPrefix(instruction, "whmi-wri "):
		v.startFlash(strings.TrimPrefix(instruction, "whmi-wri "))
	case instruction == "page boot":
		if v.bootVersion >= 0 {
			v.tx = append(v.tx, fmt.Sprintf("boot version=%d", v.bootVersion)...)
			v.tx = append(v.tx, terminator...)
		}
	}
}

// startUpload parses `"ram/<name>",<length>`.
func (v *VirtualScreen) startUpload(args string) {
	name, lengthText, ok := strings.Cut(args, ",")
	if !ok {
		return
	}
	length, err := strconv.Atoi(lengthText)
	if err != nil {
		return
	}

	v.tx = append(v.tx, v.twfileReply...)
	if len(v.twfileReply) == 0 || v.twfileReply[0] != statusReady {
		return
	}
	v.state = stateUpload
	v.uploadName = strings.TrimPrefix(strings.Trim(name, `"`), "ram/")
	v.uploadTotal = length
	v.uploadData = make([]byte, 0, length)
	v.nextChunk = 0
}

func (v *VirtualScreen) processChunk() bool {
	if len(v.rx) < chunkHeaderSize {
		return false
	}
	if !bytes.Equal(v.rx[:len(chunkPreamble)], chunkPreamble) {
		// host abandoned the upload; read the rest as instructions
		v.state = stateCommand
		return true
	}

	desc := v.rx[len(chunkPreamble):chunkHeaderSize]
	index := int(binary.LittleEndian.Uint16(desc[1:3]))
	length := int(binary.LittleEndian.Uint16(desc[3:5]))
	if len(v.rx) < chunkHeaderSize+length {
		return false
	}

	payload := v.rx[chunkHeaderSize : chunkHeaderSize+length]
	v.uploadData = append(v.uploadData, payload...)
	v.rx = v.rx[chunkHeaderSize+length:]
	v.chunks = append(v.chunks, ChunkRecord{Index: index, Length: length})

	status := statusContinue
	final := len(v.uploadData) >= v.uploadTotal
	if final {
		status = statusComplete
	}
	if index != v.nextChunk {
		status = 0x00
	}
	if override, ok := v.chunkStatus[index]; ok {
		status = override
	}
	v.nextChunk++

	if !v.dropChunk[index] {
		v.tx = append(v.tx, status)
	}
	if final {
		v.files[v.uploadName] = bytes.Clone(v.uploadData)
		v.state = stateCommand
	}
	return true
}

// startFlash parses `<length>,<baud>,0` and switches rate. The ready byte
// is sent at the new rate.
func (v *VirtualScreen) startFlash(args string) {
	parts := strings.Split(args, ",")
	if len(parts) != 3 {
		return
	}
	length, err := strconv.Atoi(parts[0])
	if err != nil {
		return
	}
	baud, err := strconv.Atoi(parts[1])
	if err != nil {
		return
	}

	v.state = stateFlash
	v.flashTotal = length
	v.flashChunk = 0
	v.flash = v.flash[:0]
	v.panelBaud = baud
	v.deferred = append(v.deferred, statusContinue)
}

func (v *VirtualScreen) processFlash() bool {
	remaining := v.flashTotal - len(v.flash)
	want := min(chunkSize, remaining)
	if want <= 0 {
		v.state = stateCommand
		return len(v.rx) > 0
	}
	if len(v.rx) < want {
		return false
	}

	v.flash = append(v.flash, v.rx[:want]...)
	v.rx = v.rx[want:]

	status := statusContinue
	if override, ok := v.flashStatus[v.flashChunk]; ok {
		status = override
	}
	v.tx = append(v.tx, status)
	v.flashChunk++

	if len(v.flash) >= v.flashTotal {
		v.state = stateCommand
	}
	return true
}
