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

//go:build linux

package uart

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// sysfsScanner lists serial ports from /sys/class/tty. The roots are
// fields so tests can point them at a fake tree.
type sysfsScanner struct {
	ttyDir string
	devDir string
}

func getSerialPorts(ctx context.Context) ([]serialPort, error) {
	scanner := sysfsScanner{ttyDir: "/sys/class/tty", devDir: "/dev"}
	return scanner.scan(ctx)
}

// scan returns USB serial adapters with their descriptors, then on-board
// UARTs. Without sysfs it falls back to globbing the device directory.
func (s sysfsScanner) scan(ctx context.Context) ([]serialPort, error) {
	entries, err := os.ReadDir(s.ttyDir)
	if err != nil {
		ports := s.glob()
		if len(ports) == 0 {
			return nil, fmt.Errorf("failed to read %s: %w", s.ttyDir, err)
		}
		return ports, nil
	}

	var usb, onboard []serialPort
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		name := entry.Name()
		resolved, err := filepath.EvalSymlinks(filepath.Join(s.ttyDir, name, "device"))
		if err != nil {
			// Virtual terminals and ptys have no device link.
			continue
		}

		port := serialPort{Path: filepath.Join(s.devDir, name), Name: name}
		switch {
		case strings.Contains(resolved, "/usb"):
			readUSBAttributes(&port, resolved)
			usb = append(usb, port)
		case hasOnboardPrefix(name):
			onboard = append(onboard, port)
		}
	}

	ports := append(usb, onboard...)
	if len(ports) == 0 {
		return s.glob(), nil
	}
	return ports, nil
}

func hasOnboardPrefix(name string) bool {
	return slices.ContainsFunc(onboardPrefixes, func(prefix string) bool {
		return strings.HasPrefix(name, prefix)
	})
}

// glob lists device nodes by name when sysfs is unavailable.
func (s sysfsScanner) glob() []serialPort {
	var ports []serialPort
	for _, pattern := range []string{"ttyUSB*", "ttyACM*", "ttyS*", "ttyAMA*"} {
		matches, err := filepath.Glob(filepath.Join(s.devDir, pattern))
		if err != nil {
			continue
		}
		for _, path := range matches {
			ports = append(ports, serialPort{Path: path, Name: filepath.Base(path)})
		}
	}
	return ports
}

// readUSBAttributes walks up from the interface directory to the USB device
// directory that carries idVendor and idProduct.
func readUSBAttributes(port *serialPort, devicePath string) {
	current := devicePath
	for range 8 {
		if readUSBIdentifiers(port, current) {
			return
		}
		parent := filepath.Dir(current)
		if parent == current {
			return
		}
		current = parent
	}
}

func readUSBIdentifiers(port *serialPort, dir string) bool {
	vid, err := readAttribute(dir, "idVendor")
	if err != nil {
		return false
	}
	pid, err := readAttribute(dir, "idProduct")
	if err != nil {
		return false
	}
	port.VIDPID = strings.ToUpper(vid + ":" + pid)
	port.Manufacturer, _ = readAttribute(dir, "manufacturer")
	port.Product, _ = readAttribute(dir, "product")
	port.SerialNumber, _ = readAttribute(dir, "serial")
	return true
}

func readAttribute(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- sysfs attribute
	if err != nil {
		return "", err //nolint:wrapcheck // absence is expected
	}
	return strings.TrimSpace(string(data)), nil
}
