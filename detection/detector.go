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

// Package detection finds serial ports with a TJC panel attached. Transport
// packages register a Detector on import; DetectAll runs every registered
// detector in parallel and merges the results.
package detection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ZaparooProject/go-tjc"
	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// Mode sets how much a detector may talk to a port.
type Mode int

const (
	// Passive only inspects port descriptors
	Passive Mode = iota
	// Safe sends the connect handshake at each probe rate
	Safe
)

// Confidence is how sure a detector is that a panel sits on a port.
type Confidence int

const (
	// Low means the port exists but nothing is known about it
	Low Confidence = iota
	// Medium means the adapter is one panels are commonly wired to
	Medium
	// High means a panel answered the connect handshake
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo is one detected port.
type DeviceInfo struct {
	// Metadata holds descriptor fields such as vidpid and manufacturer
	Metadata map[string]string
	// Panel is set when a panel answered the probe
	Panel *tjc.DeviceInfo
	// Transport names the detector that found the port
	Transport string
	// Path is the port path, such as /dev/ttyUSB0
	Path string
	// Name is the human readable port name
	Name string
	// Confidence is how sure the detector is
	Confidence Confidence
}

func (d DeviceInfo) String() string {
	if d.Panel != nil && d.Panel.Model != "" {
		return fmt.Sprintf("%s panel %s at %s, %d baud (confidence: %s)",
			d.Transport, d.Panel.Model, d.Path, d.Panel.BaudRate, d.Confidence)
	}
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures detection.
type Options struct {
	// Blocklist holds VID:PID pairs that are never probed
	Blocklist []string
	// IgnorePaths holds port paths that are skipped
	IgnorePaths []string
	// Transports limits detection to these detectors; empty means all
	Transports []string
	// ProbeRates are the baud rates tried in Safe mode
	ProbeRates []int
	// ProbeTimeout bounds the probe of a single port
	ProbeTimeout time.Duration
	// CacheTTL is how long results stay cached
	CacheTTL time.Duration
	// Timeout bounds the whole detection run
	Timeout time.Duration
	// Mode is the probing level
	Mode Mode
	// EnableCache turns on result caching
	EnableCache bool
}

// DefaultOptions returns the options used by the tjcctl probe command.
func DefaultOptions() Options {
	return Options{
		Mode:         Safe,
		Timeout:      10 * time.Second,
		ProbeTimeout: 3 * time.Second,
		ProbeRates:   tjc.DefaultProbeRates(),
		Blocklist:    DefaultBlocklist(),
		EnableCache:  true,
		CacheTTL:     30 * time.Second,
	}
}

// Detector finds ports for one transport.
type Detector interface {
	// Detect returns the ports found, or ErrNoDevicesFound
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport names the transport this detector handles
	Transport() string
}

var (
	// ErrNoDevicesFound is returned when no port qualifies.
	ErrNoDevicesFound = errors.New("no panels found")
	// ErrDetectionTimeout is returned when the detection deadline passes.
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrNoDetectors is returned when no registered detector matches.
	ErrNoDetectors = errors.New("no detectors available for specified transports")
)

var (
	registry   []Detector
	registryMu syncutil.RWMutex
)

// RegisterDetector adds d to the registry. A detector for a transport that
// is already registered replaces the old one.
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry = slices.DeleteFunc(registry, func(old Detector) bool {
		return old.Transport() == d.Transport()
	})
	registry = append(registry, d)
}

func getDetectors(transports []string) []Detector {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if len(transports) == 0 {
		return slices.Clone(registry)
	}
	var filtered []Detector
	for _, d := range registry {
		if slices.Contains(transports, d.Transport()) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs the matching detectors in parallel. Devices are returned
// even when some detectors fail; with no devices the first detector error
// is returned, or ErrNoDevicesFound.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func() {
			results <- runDetector(ctx, d, opts)
		}()
	}

	var devices []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				if ctx.Err() != nil {
					return nil, ErrDetectionTimeout
				}
				errs = append(errs, res.err)
				continue
			}
			devices = append(devices, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(devices) > 0 {
		return devices, nil
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, ErrNoDevicesFound
}

func runDetector(ctx context.Context, d Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		if cached, ok := detected.get(d.Transport(), opts.CacheTTL); ok {
			// Cached results were filtered with the options of the run
			// that stored them.
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: err}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			detected.set(d.Transport(), devices)
		} else {
			detected.clear(d.Transport())
		}
	}
	return detectionResult{devices: devices}
}

func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := device.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// ClearDetectionCache drops every cached result.
func ClearDetectionCache() {
	detected.clearAll()
}

// ClearDetectionCacheForTransport drops the cached result of one transport.
func ClearDetectionCacheForTransport(transport string) {
	detected.clear(transport)
}
