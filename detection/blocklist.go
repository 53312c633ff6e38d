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
	"path/filepath"
	"slices"
	"strings"
)

// DefaultBlocklist returns USB adapters that are never probed. These are
// printer controller boards whose firmware misbehaves when fed the connect
// handshake.
func DefaultBlocklist() []string {
	return []string{
		"1D50:614E", // Klipper firmware on an STM32 or RP2040 controller
		"1D50:6177", // Katapult bootloader
		"2E8A:0003", // RP2040 in BOOTSEL mode
		"0483:DF11", // STM32 DFU bootloader
	}
}

// IsBlocked reports whether vidpid is on the blocklist. Comparison ignores
// case and surrounding whitespace.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	if vidpid == "" {
		return false
	}
	return slices.ContainsFunc(blocklist, func(blocked string) bool {
		return strings.ToUpper(strings.TrimSpace(blocked)) == vidpid
	})
}

// ParseVIDPID extracts VID:PID from a USB descriptor string. Accepted forms
// are "1234:5678", "VID:1234 PID:5678", "VID=1234 PID=5678" and
// "vendor=1234 product=5678". It returns "" when no pair is found.
func ParseVIDPID(descriptor string) string {
	upper := strings.ToUpper(descriptor)

	vid := hexAfter(upper, "VID:", "VID=", "VENDOR=")
	pid := hexAfter(upper, "PID:", "PID=", "PRODUCT=")
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}

	left, right, ok := strings.Cut(strings.TrimSpace(upper), ":")
	if ok && isHex(left) && isHex(right) {
		return left + ":" + right
	}
	return ""
}

// hexAfter returns the hex digits following the first marker present.
func hexAfter(s string, markers ...string) string {
	for _, marker := range markers {
		if _, rest, ok := strings.Cut(s, marker); ok {
			return leadingHex(rest)
		}
	}
	return ""
}

// leadingHex returns the first run of hex digits in s.
func leadingHex(s string) string {
	start := strings.IndexFunc(s, isHexRune)
	if start < 0 {
		return ""
	}
	s = s[start:]
	if end := strings.IndexFunc(s, func(r rune) bool { return !isHexRune(r) }); end >= 0 {
		return s[:end]
	}
	return s
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

func isHex(s string) bool {
	return s != "" && !strings.ContainsFunc(s, func(r rune) bool { return !isHexRune(r) })
}

// IsPathIgnored reports whether devicePath is in ignorePaths. Paths are
// cleaned and compared without case so COM3 matches com3.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := normalizedPath(devicePath)
	return slices.ContainsFunc(ignorePaths, func(ignore string) bool {
		return ignore != "" && normalizedPath(ignore) == device
	})
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
