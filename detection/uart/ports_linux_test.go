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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs builds a /sys/class/tty lookalike with one USB adapter, one
// on-board UART and one pty without a device link.
func fakeSysfs(t *testing.T) sysfsScanner {
	t.Helper()
	root := t.TempDir()
	ttyDir := filepath.Join(root, "class", "tty")

	usbDev := filepath.Join(root, "devices", "usb1", "1-1")
	usbIface := filepath.Join(usbDev, "1-1:1.0", "ttyUSB0")
	require.NoError(t, os.MkdirAll(usbIface, 0o750))
	for name, value := range map[string]string{
		"idVendor":     "1a86\n",
		"idProduct":    "7523\n",
		"manufacturer": "QinHeng\n",
		"product":      "USB Serial\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(usbDev, name), []byte(value), 0o600))
	}

	platform := filepath.Join(root, "devices", "platform", "fe201000.serial")
	require.NoError(t, os.MkdirAll(platform, 0o750))

	for name, target := range map[string]string{"ttyUSB0": usbIface, "ttyAMA0": platform} {
		require.NoError(t, os.MkdirAll(filepath.Join(ttyDir, name), 0o750))
		require.NoError(t, os.Symlink(target, filepath.Join(ttyDir, name, "device")))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(ttyDir, "pts0"), 0o750))

	return sysfsScanner{ttyDir: ttyDir, devDir: "/dev"}
}

func TestSysfsScanner_Scan(t *testing.T) {
	t.Parallel()

	ports, err := fakeSysfs(t).scan(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)

	assert.Equal(t, serialPort{
		Path:         "/dev/ttyUSB0",
		Name:         "ttyUSB0",
		VIDPID:       "1A86:7523",
		Manufacturer: "QinHeng",
		Product:      "USB Serial",
	}, ports[0])
	assert.Equal(t, serialPort{Path: "/dev/ttyAMA0", Name: "ttyAMA0"}, ports[1])
}

func TestSysfsScanner_GlobFallback(t *testing.T) {
	t.Parallel()

	devDir := t.TempDir()
	for _, name := range []string{"ttyUSB2", "ttyACM0", "null"} {
		require.NoError(t, os.WriteFile(filepath.Join(devDir, name), nil, 0o600))
	}

	scanner := sysfsScanner{ttyDir: filepath.Join(devDir, "missing"), devDir: devDir}
	ports, err := scanner.scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []serialPort{
		{Path: filepath.Join(devDir, "ttyUSB2"), Name: "ttyUSB2"},
		{Path: filepath.Join(devDir, "ttyACM0"), Name: "ttyACM0"},
	}, ports)
}

func TestSysfsScanner_NothingAnywhere(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scanner := sysfsScanner{ttyDir: filepath.Join(dir, "missing"), devDir: dir}
	_, err := scanner.scan(context.Background())
	require.Error(t, err)
}
