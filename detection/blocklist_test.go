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

package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	blocklist := []string{"1234:5678", "abcd:ef01"}
	tests := []struct {
		name    string
		vidpid  string
		blocked bool
	}{
		{"exact", "1234:5678", true},
		{"case insensitive", "ABCD:EF01", true},
		{"whitespace", "  1234:5678 ", true},
		{"not listed", "9999:9999", false},
		{"empty", "", false},
		{"partial", "1234:", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.blocked, IsBlocked(tt.vidpid, blocklist))
		})
	}
}

func TestDefaultBlocklist_SkipsKlipperBoards(t *testing.T) {
	t.Parallel()

	assert.True(t, IsBlocked("1d50:614e", DefaultBlocklist()))
	assert.False(t, IsBlocked("1A86:7523", DefaultBlocklist()))
}

func TestParseVIDPID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		descriptor string
		expected   string
	}{
		{"pair", "1a86:7523", "1A86:7523"},
		{"VID colon", "VID:1234 PID:5678", "1234:5678"},
		{"VID equals", "VID=1234 PID=5678", "1234:5678"},
		{"vendor product", "vendor=10c4 product=ea60", "10C4:EA60"},
		{"windows hardware id", `USB\VID_1A86&PID_7523`, ""},
		{"prose", "not a valid descriptor", ""},
		{"only VID", "VID:1234", ""},
		{"only PID", "PID:5678", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ParseVIDPID(tt.descriptor))
		})
	}
}

func TestLeadingHex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"1234", "1234"},
		{" 1234 PID", "1234"},
		{"1234ABC", "1234ABC"},
		{"0x1234", "0"},
		{"", ""},
		{"xyz", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, leadingHex(tt.input), tt.input)
	}
}

func TestIsHex(t *testing.T) {
	t.Parallel()

	assert.True(t, isHex("1a2B3c"))
	assert.False(t, isHex("123G"))
	assert.False(t, isHex("12 34"))
	assert.False(t, isHex(""))
}

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		expected    bool
	}{
		{"exact", "/dev/ttyUSB0", []string{"/dev/ttyUSB0"}, true},
		{"no match", "/dev/ttyUSB1", []string{"/dev/ttyUSB0"}, false},
		{"windows case", "com3", []string{"COM3"}, true},
		{"relative components", "/dev/../dev/ttyAMA0", []string{"/dev/ttyAMA0"}, true},
		{"empty entries", "/dev/ttyS0", []string{"", "/dev/ttyS0"}, true},
		{"empty device", "", []string{""}, false},
		{"nil list", "/dev/ttyS0", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}
