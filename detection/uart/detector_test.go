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

package uart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-tjc"
	"github.com/ZaparooProject/go-tjc/detection"
)

type probeRecorder struct {
	answers map[string]*tjc.DeviceInfo
	paths   []string
	rates   []int
	mu      sync.Mutex
}

func (r *probeRecorder) probe(_ context.Context, path string, rates []int) (*tjc.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	r.rates = rates
	if info, ok := r.answers[path]; ok {
		return info, nil
	}
	return nil, tjc.ErrDeviceNotFound
}

func fixedPorts(ports ...serialPort) func(context.Context) ([]serialPort, error) {
	return func(context.Context) ([]serialPort, error) {
		return ports, nil
	}
}

func TestDetect_SafeModeKeepsOnlyAnsweringPorts(t *testing.T) {
	t.Parallel()

	panel := &tjc.DeviceInfo{Model: "TJC4832T135_011R", BaudRate: 115200}
	rec := &probeRecorder{answers: map[string]*tjc.DeviceInfo{"/dev/ttyS1": panel}}
	d := &detector{
		ports: fixedPorts(
			serialPort{Path: "/dev/ttyUSB0", Name: "ttyUSB0", VIDPID: "1A86:7523"},
			serialPort{Path: "/dev/ttyS1", Name: "ttyS1"},
		),
		probe: rec.probe,
	}

	opts := &detection.Options{Mode: detection.Safe, ProbeRates: []int{115200, 9600}}
	devices, err := d.Detect(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	assert.Equal(t, "/dev/ttyS1", devices[0].Path)
	assert.Equal(t, detection.High, devices[0].Confidence)
	assert.Same(t, panel, devices[0].Panel)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyS1"}, rec.paths)
	assert.Equal(t, []int{115200, 9600}, rec.rates)
}

func TestDetect_SkipsBlockedAndIgnored(t *testing.T) {
	t.Parallel()

	rec := &probeRecorder{}
	d := &detector{
		ports: fixedPorts(
			serialPort{Path: "/dev/ttyACM0", VIDPID: "1D50:614E"},
			serialPort{Path: "/dev/ttyUSB3", VIDPID: "0403:6001"},
		),
		probe: rec.probe,
	}

	opts := &detection.Options{
		Mode:        detection.Safe,
		Blocklist:   detection.DefaultBlocklist(),
		IgnorePaths: []string{"/dev/ttyUSB3"},
	}
	_, err := d.Detect(context.Background(), opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	assert.Empty(t, rec.paths, "nothing is probed")
}

func TestDetect_PassiveModeDoesNotProbe(t *testing.T) {
	t.Parallel()

	rec := &probeRecorder{}
	d := &detector{
		ports: fixedPorts(
			serialPort{Path: "/dev/ttyUSB0", VIDPID: "10c4:ea60", Manufacturer: "Silicon Labs"},
			serialPort{Path: "/dev/ttyACM1", VIDPID: "2341:0043"},
		),
		probe: rec.probe,
	}

	devices, err := d.Detect(context.Background(), &detection.Options{Mode: detection.Passive})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, detection.Medium, devices[0].Confidence)
	assert.Equal(t, map[string]string{"vidpid": "10c4:ea60", "manufacturer": "Silicon Labs"}, devices[0].Metadata)
	assert.Empty(t, rec.paths)
}

func TestDetect_EnumerationError(t *testing.T) {
	t.Parallel()

	d := &detector{
		ports: func(context.Context) ([]serialPort, error) { return nil, errors.New("no sysfs") },
		probe: (&probeRecorder{}).probe,
	}
	_, err := d.Detect(context.Background(), &detection.Options{})
	require.ErrorContains(t, err, "no sysfs")
}

func TestDetect_CancelledStopsProbing(t *testing.T) {
	t.Parallel()

	rec := &probeRecorder{}
	d := &detector{
		ports: fixedPorts(serialPort{Path: "/dev/ttyS0"}, serialPort{Path: "/dev/ttyS1"}),
		probe: rec.probe,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Detect(ctx, &detection.Options{Mode: detection.Safe})
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	assert.Empty(t, rec.paths)
}

func TestIsLikelyPanel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		port     serialPort
		expected bool
	}{
		{"CH340", serialPort{Path: "/dev/ttyUSB0", VIDPID: "1a86:7523"}, true},
		{"product keyword", serialPort{Path: "/dev/ttyACM0", VIDPID: "1234:5678", Product: "Nextion Adapter"}, true},
		{"onboard uart", serialPort{Path: "/dev/ttyAMA0"}, true},
		{"arduino", serialPort{Path: "/dev/ttyACM0", VIDPID: "2341:0043"}, false},
		{"usb adapter named like uart", serialPort{Path: "/dev/ttyS9", VIDPID: "2341:0043"}, false},
		{"unknown", serialPort{Path: "/dev/rfcomm0"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, isLikelyPanel(&tt.port))
		})
	}
}

func TestProbePort_OpenFailure(t *testing.T) {
	t.Parallel()

	_, err := ProbePort(context.Background(), "/dev/tjc-does-not-exist", nil)
	require.Error(t, err)
}

func TestNew_RegistersUnderUART(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TransportName, New().Transport())
}
