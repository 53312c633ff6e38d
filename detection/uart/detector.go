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

// Package uart detects TJC panels on serial ports. Importing it registers
// the detector with the detection package.
package uart

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ZaparooProject/go-tjc"
	"github.com/ZaparooProject/go-tjc/detection"
	"github.com/ZaparooProject/go-tjc/transport/uart"
)

// TransportName is the name the detector registers under.
const TransportName = "uart"

const defaultProbeTimeout = 3 * time.Second

// ProbeFunc sends the connect handshake on path and returns the panel that
// answered.
type ProbeFunc func(ctx context.Context, path string, rates []int) (*tjc.DeviceInfo, error)

type detector struct {
	ports func(ctx context.Context) ([]serialPort, error)
	probe ProbeFunc
}

// New creates a serial port detector.
func New() detection.Detector {
	return &detector{ports: getSerialPorts, probe: ProbePort}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string {
	return TransportName
}

// Detect lists serial ports and, in Safe mode, probes each one.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.ports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for i := range filterPorts(ports, opts) {
		if ctx.Err() != nil {
			break
		}
		if device, ok := d.processPort(ctx, &ports[i], opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// filterPorts yields the indexes of ports that are neither blocked nor
// ignored.
func filterPorts(ports []serialPort, opts *detection.Options) func(yield func(int) bool) {
	return func(yield func(int) bool) {
		for i, port := range ports {
			if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
				continue
			}
			if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
				continue
			}
			if !yield(i) {
				return
			}
		}
	}
}

// processPort rates one port. A failed probe in Safe mode drops the port
// even when its adapter looks right, so a busy printer MCU on a CH340 does
// not shadow the real panel.
func (d *detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	device := detection.DeviceInfo{
		Transport: TransportName,
		Path:      port.Path,
		Name:      port.Name,
		Metadata:  port.metadata(),
	}

	switch opts.Mode {
	case detection.Passive:
		if !isLikelyPanel(port) {
			return detection.DeviceInfo{}, false
		}
		device.Confidence = detection.Medium
		return device, true

	case detection.Safe:
		timeout := opts.ProbeTimeout
		if timeout <= 0 {
			timeout = defaultProbeTimeout
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		info, err := d.probe(probeCtx, port.Path, opts.ProbeRates)
		if err != nil {
			tjc.Debugf("probe %s: %v", port.Path, err)
			return detection.DeviceInfo{}, false
		}
		device.Confidence = detection.High
		device.Panel = info
		return device, true

	default:
		return detection.DeviceInfo{}, false
	}
}

// ProbePort opens path and runs the baud rate probe once. There is no
// retry: ports that are not panels should be touched as little as possible.
func ProbePort(ctx context.Context, path string, rates []int) (*tjc.DeviceInfo, error) {
	link, err := uart.Open(path, tjc.DefaultLinkSettings())
	if err != nil {
		return nil, err //nolint:wrapcheck // already carries the path
	}
	defer func() { _ = link.Close() }()

	opts := tjc.DefaultProbeOptions()
	if len(rates) > 0 {
		opts.Rates = rates
	}
	info, err := tjc.ProbeBaudRate(ctx, link, opts)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	return info, nil
}

// serialPort is an enumerated port with its USB descriptor, if any.
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

func (p *serialPort) metadata() map[string]string {
	meta := make(map[string]string)
	for key, value := range map[string]string{
		"vidpid":       p.VIDPID,
		"manufacturer": p.Manufacturer,
		"product":      p.Product,
		"serial":       p.SerialNumber,
	} {
		if value != "" {
			meta[key] = value
		}
	}
	return meta
}

// Bridges found on panel adapter boards and printer host boards.
var knownAdapters = []string{
	"1A86:7523", // QinHeng CH340
	"1A86:55D4", // QinHeng CH9102
	"10C4:EA60", // Silicon Labs CP210x
	"0403:6001", // FTDI FT232R
	"0403:6015", // FTDI FT231X
	"067B:2303", // Prolific PL2303
}

// On-board UARTs of the single board computers printers run on.
var onboardPrefixes = []string{"ttyS", "ttyAMA", "ttyAML", "ttyFIQ"}

// isLikelyPanel reports whether a panel is commonly wired to this port.
func isLikelyPanel(port *serialPort) bool {
	if slices.Contains(knownAdapters, strings.ToUpper(port.VIDPID)) {
		return true
	}

	text := strings.ToLower(port.Product + " " + port.Manufacturer)
	for _, keyword := range []string{"tjc", "nextion", "hmi"} {
		if strings.Contains(text, keyword) {
			return true
		}
	}

	base := filepath.Base(port.Path)
	return port.VIDPID == "" && slices.ContainsFunc(onboardPrefixes, func(prefix string) bool {
		return strings.HasPrefix(base, prefix)
	})
}
