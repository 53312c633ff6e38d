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

package frame

// Inbound frame markers. Every frame from the panel starts with this pair,
// followed by a one byte payload length.
const (
	Marker1 = 0x5A
	Marker2 = 0xA5

	// HeaderLength is marker pair plus length byte.
	HeaderLength = 3
	// MaxPayloadLength is the largest payload a one byte length can declare.
	MaxPayloadLength = 0xFF
)

// Terminator ends every outbound instruction.
var Terminator = []byte{0xFF, 0xFF, 0xFF}

// ResyncSequence is an empty instruction. The panel discards any partial
// instruction it was assembling when it sees it.
var ResyncSequence = []byte{0x00, 0xFF, 0xFF, 0xFF}

// Bulk transfer wire constants.
const (
	// ChunkSize is the payload size of one RAM upload or flash chunk.
	ChunkSize = 4096
	// DescriptorLength is control byte + u16 index + u16 length.
	DescriptorLength = 5
)

// ChunkPreamble precedes every RAM upload chunk descriptor.
var ChunkPreamble = []byte{0x3A, 0xA1, 0xBB, 0x44, 0x7F, 0xFF, 0xFE}

// Status bytes returned by the panel during raw exchanges.
const (
	StatusReady    byte = 0xFE // twfile accepted
	StatusContinue byte = 0x05 // chunk accepted, send the next one
	StatusComplete byte = 0xFD // final chunk accepted
)
