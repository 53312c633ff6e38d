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

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ZaparooProject/go-tjc"
)

const (
	linkUART = "uart"
	linkTarm = "tarm"

	defaultThermalZone  = "/sys/class/thermal/thermal_zone0/temp"
	defaultPollInterval = 5 * time.Second
)

// config is the resolved tjcctl configuration.
type config struct {
	Serial       string
	Link         string
	FanGPIO      string
	ThermalZone  string
	BaudRate     int
	FanStartTemp float64
	FanStopTemp  float64
	PollInterval time.Duration
	FanActiveLow bool
	Debug        bool
	LogCommands  bool
}

func defaultConfig() config {
	return config{
		Link:         linkUART,
		BaudRate:     tjc.DefaultBaudRate,
		FanStartTemp: 60,
		FanStopTemp:  50,
		ThermalZone:  defaultThermalZone,
		PollInterval: defaultPollInterval,
		LogCommands:  true,
	}
}

// fileConfig mirrors the TOML file. Only keys present in the file override
// the defaults.
type fileConfig struct {
	Serial       string  `toml:"serial"`
	Link         string  `toml:"link"`
	FanGPIO      string  `toml:"fan_gpio"`
	ThermalZone  string  `toml:"thermal_zone"`
	PollInterval string  `toml:"poll_interval"`
	BaudRate     int     `toml:"baudrate"`
	FanStartTemp float64 `toml:"fan_start_temp"`
	FanStopTemp  float64 `toml:"fan_stop_temp"`
	FanActiveLow bool    `toml:"fan_active_low"`
	Debug        bool    `toml:"debug"`
	LogCommands  bool    `toml:"log_commands"`
}

var errInvalidConfig = errors.New("invalid config")

// loadConfig applies the file at path over cfg.
func loadConfig(path string, cfg config) (config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load tjcctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		tjc.Debugf("ignoring unknown config keys: %v", undecoded)
	}

	if meta.IsDefined("serial") {
		cfg.Serial = strings.TrimSpace(raw.Serial)
	}
	if meta.IsDefined("link") {
		cfg.Link = strings.ToLower(strings.TrimSpace(raw.Link))
	}
	if meta.IsDefined("baudrate") {
		cfg.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("fan_start_temp") {
		cfg.FanStartTemp = raw.FanStartTemp
	}
	if meta.IsDefined("fan_stop_temp") {
		cfg.FanStopTemp = raw.FanStopTemp
	}
	if meta.IsDefined("fan_gpio") {
		cfg.FanGPIO = strings.TrimSpace(raw.FanGPIO)
	}
	if meta.IsDefined("fan_active_low") {
		cfg.FanActiveLow = raw.FanActiveLow
	}
	if meta.IsDefined("thermal_zone") {
		cfg.ThermalZone = strings.TrimSpace(raw.ThermalZone)
	}
	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return config{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("log_commands") {
		cfg.LogCommands = raw.LogCommands
	}

	return cfg, nil
}

func (c *config) validate() error {
	switch c.Link {
	case linkUART, linkTarm:
	default:
		return fmt.Errorf("%w: link must be %q or %q, got %q", errInvalidConfig, linkUART, linkTarm, c.Link)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baudrate must be positive", errInvalidConfig)
	}
	if c.FanStopTemp > c.FanStartTemp {
		return fmt.Errorf("%w: fan_stop_temp %.1f is above fan_start_temp %.1f",
			errInvalidConfig, c.FanStopTemp, c.FanStartTemp)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", errInvalidConfig)
	}
	return nil
}

// streamSettings are the settings the panel link runs at.
func (c *config) streamSettings() tjc.LinkSettings {
	return tjc.LinkSettings{BaudRate: c.BaudRate, Timeout: tjc.DefaultStreamTimeout}
}
