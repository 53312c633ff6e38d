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

// Package gpioline drives a panel side output, such as the fan, from a host
// GPIO pin through periph.io. Use it when the output is not wired to the
// serial adapter's RTS line.
package gpioline

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-tjc"
	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// ErrPinNotFound is returned when the pin name is unknown to the host.
var ErrPinNotFound = errors.New("gpio pin not found")

// Line is a tjc.OutputLine on one GPIO pin.
type Line struct {
	pin       gpio.PinOut
	mu        syncutil.Mutex
	activeLow bool
	enabled   bool
}

var _ tjc.OutputLine = (*Line)(nil)

// Open initializes the host drivers and opens the pin by name, for example
// "GPIO17". The line starts disabled.
func Open(name string, activeLow bool) (*Line, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return New(pin, activeLow)
}

// New wraps an already opened pin and drives it to the disabled level.
func New(pin gpio.PinOut, activeLow bool) (*Line, error) {
	l := &Line{pin: pin, activeLow: activeLow}
	if err := l.SetOutput(false); err != nil {
		return nil, err
	}
	return l, nil
}

// SetOutput drives the pin. With activeLow the pin is pulled low to enable.
func (l *Line) SetOutput(enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	level := gpio.Level(enabled != l.activeLow)
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("gpio %s out %s: %w", l.pin.Name(), level, err)
	}
	l.enabled = enabled
	return nil
}

// Enabled returns the last level set.
func (l *Line) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Name returns the pin name.
func (l *Line) Name() string {
	return l.pin.Name()
}

// Close disables the line.
func (l *Line) Close() error {
	return l.SetOutput(false)
}
