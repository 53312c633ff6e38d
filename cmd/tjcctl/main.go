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

// Command tjcctl talks to a TJC panel from the shell: it finds the panel,
// uploads images, flashes firmware, drives the fan and prints the requests
// the panel sends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-tjc"
	"github.com/ZaparooProject/go-tjc/detection"
	_ "github.com/ZaparooProject/go-tjc/detection/uart"
	"github.com/ZaparooProject/go-tjc/transport/gpioline"
	"github.com/ZaparooProject/go-tjc/transport/tarm"
	"github.com/ZaparooProject/go-tjc/transport/uart"
)

const usage = `usage: tjcctl [flags] <command> [args]

commands:
  probe                 find panels, or probe -port for its baud rate
  version               print the panel boot version
  monitor               print panel requests and run the fan controller
  send <instruction>    send one instruction
  upload <file> <dest>  upload a file to ram/<dest>
  thumbnail <jpeg>      upload a thumbnail and show it
  flash <file.tft>      flash a firmware image
  fan on|off            drive the fan line

flags:
`

var errUsage = errors.New("usage")

// Package-level flag variables
var (
	flagConfig  string
	flagPort    string
	flagLink    string
	flagFanGPIO string
	flagBaud    int
	flagDebug   bool
	flagSession bool
)

func init() {
	flag.StringVar(&flagConfig, "config", "", "TOML config file")
	flag.StringVar(&flagPort, "port", "", "Serial port (auto-detect if empty)")
	flag.StringVar(&flagLink, "link", "", "Serial driver: uart or tarm")
	flag.StringVar(&flagFanGPIO, "fan-gpio", "", "GPIO pin driving the fan instead of RTS")
	flag.IntVar(&flagBaud, "baud", 0, "Streaming baud rate")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagSession, "session-log", false, "Write a session log file")
	flag.Usage = func() {
		_, _ = fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
}

// parseConfig layers defaults, the config file and explicitly set flags.
func parseConfig() (config, error) {
	cfg := defaultConfig()
	if flagConfig != "" {
		loaded, err := loadConfig(flagConfig, cfg)
		if err != nil {
			return config{}, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Serial = flagPort
		case "link":
			cfg.Link = strings.ToLower(flagLink)
		case "fan-gpio":
			cfg.FanGPIO = flagFanGPIO
		case "baud":
			cfg.BaudRate = flagBaud
		case "debug":
			cfg.Debug = flagDebug
		}
	})

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	if cfg.Debug {
		tjc.SetDebugEnabled(true)
	}
	return cfg, nil
}

// openLink opens path with the configured driver, retrying while the
// device node is missing or busy.
func openLink(ctx context.Context, cfg *config, path string) (tjc.Link, error) {
	var link tjc.Link
	err := tjc.RetryWithConfig(ctx, tjc.ReopenRetryConfig(), func() error {
		var err error
		switch cfg.Link {
		case linkTarm:
			link, err = tarm.Open(path, cfg.streamSettings())
		default:
			link, err = uart.Open(path, cfg.streamSettings())
		}
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return link, nil
}

// resolvePort returns the configured port, or the first port where a panel
// answered the probe. A detected panel's baud rate replaces the configured
// one.
func resolvePort(ctx context.Context, cfg *config) (string, error) {
	if cfg.Serial != "" {
		return cfg.Serial, nil
	}

	tjc.Debugf("auto-detecting panels")
	opts := detection.DefaultOptions()
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return "", fmt.Errorf("auto-detect: %w", err)
	}
	for _, device := range devices {
		if device.Panel != nil {
			cfg.BaudRate = device.Panel.BaudRate
			return device.Path, nil
		}
	}
	return "", detection.ErrNoDevicesFound
}

// session is an open panel and everything tied to its lifetime.
type session struct {
	screen *tjc.Screen
	fan    *gpioline.Line
}

func (s *session) Close() error {
	err := s.screen.Close()
	if s.fan != nil {
		err = errors.Join(err, s.fan.Close())
	}
	return err
}

func openSession(ctx context.Context, cfg *config) (*session, error) {
	path, err := resolvePort(ctx, cfg)
	if err != nil {
		return nil, err
	}
	link, err := openLink(ctx, cfg, path)
	if err != nil {
		return nil, err
	}

	s := &session{}
	opts := []tjc.Option{
		tjc.WithCommandLogging(cfg.LogCommands),
		tjc.WithProgress(printProgress),
		tjc.WithErrorSink(func(err error) {
			_, _ = fmt.Fprintf(os.Stderr, "receive: %v\n", err)
		}),
	}
	if cfg.FanGPIO != "" {
		s.fan, err = gpioline.Open(cfg.FanGPIO, cfg.FanActiveLow)
		if err != nil {
			_ = link.Close()
			return nil, err
		}
		opts = append(opts, tjc.WithOutputLine(s.fan))
	}

	s.screen, err = tjc.NewScreen(link, opts...)
	if err != nil {
		_ = link.Close()
		return nil, err
	}
	if err := s.screen.Start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func printProgress(p tjc.Progress) {
	_, _ = fmt.Printf("\r%s: %d/%d chunks (%.0f%%)", p.Phase, p.Chunk, p.TotalChunks, p.Percentage)
	if p.Chunk == p.TotalChunks {
		_, _ = fmt.Printf(" in %s\n", p.Elapsed.Round(time.Millisecond))
	}
}

func runProbe(ctx context.Context, cfg *config) error {
	if cfg.Serial == "" {
		opts := detection.DefaultOptions()
		devices, err := detection.DetectAll(ctx, &opts)
		if err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		for _, device := range devices {
			_, _ = fmt.Println(device)
		}
		return nil
	}

	link, err := openLink(ctx, cfg, cfg.Serial)
	if err != nil {
		return err
	}
	defer func() { _ = link.Close() }()

	info, err := tjc.ProbeBaudRate(ctx, link, nil)
	if err != nil {
		return err //nolint:wrapcheck // ScreenError carries the port
	}
	_, _ = fmt.Printf("%s at %d baud: model=%s firmware=%s serial=%s flash=%d\n",
		cfg.Serial, info.BaudRate, info.Model, info.FirmwareVersion, info.Serial, info.FlashSize)
	return nil
}

// runMonitor prints panel requests until ctx ends. With a thermal zone
// configured it also drives the fan from the CPU temperature.
func runMonitor(ctx context.Context, s *session, cfg *config) error {
	s.screen.SetRequestHandler(func(_ context.Context, request string) error {
		_, _ = fmt.Printf("request: %q\n", request)
		return nil
	})
	_, _ = fmt.Println("Monitoring panel requests. Press Ctrl+C to stop...")

	fan := &fanHysteresis{start: cfg.FanStartTemp, stop: cfg.FanStopTemp}
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			temp, err := readCPUTemp(cfg.ThermalZone)
			if err != nil {
				tjc.Debugf("fan control: %v", err)
				continue
			}
			if on, changed := fan.update(temp); changed {
				tjc.Debugf("cpu at %.1f°C, fan on=%t", temp, on)
				if err := s.screen.SetFan(on); err != nil {
					_, _ = fmt.Fprintf(os.Stderr, "fan: %v\n", err)
				}
			}
		}
	}
}

func runCommand(ctx context.Context, s *session, cfg *config, args []string) error {
	switch args[0] {
	case "monitor":
		return runMonitor(ctx, s, cfg)

	case "version":
		version, err := s.screen.BootVersion(ctx)
		if err != nil {
			return err //nolint:wrapcheck // ScreenError carries the op
		}
		_, _ = fmt.Printf("boot version: %s\n", version)
		return nil

	case "send":
		if len(args) < 2 {
			return errUsage
		}
		return s.screen.SendCommand(strings.Join(args[1:], " ")) //nolint:wrapcheck // ScreenError

	case "upload":
		if len(args) != 3 {
			return errUsage
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[1], err)
		}
		return s.screen.UploadToRAM(ctx, data, args[2]) //nolint:wrapcheck // ScreenError

	case "thumbnail":
		if len(args) != 2 {
			return errUsage
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[1], err)
		}
		return s.screen.ShowThumbnail(ctx, data) //nolint:wrapcheck // ScreenError

	case "flash":
		if len(args) != 2 {
			return errUsage
		}
		return s.screen.FlashFirmware(ctx, args[1]) //nolint:wrapcheck // ScreenError

	case "fan":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return errUsage
		}
		return s.screen.SetFan(args[1] == "on") //nolint:wrapcheck // ScreenError

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func run(ctx context.Context, cfg *config, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	if args[0] == "probe" {
		return runProbe(ctx, cfg)
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close panel: %v\n", err)
		}
	}()

	return runCommand(ctx, s, cfg, args)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if flagSession {
		path, err := tjc.InitSessionLog()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stderr, "Session log: %s\n", path)
		defer func() { _ = tjc.CloseSessionLog() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &cfg, flag.Args()); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return 0
		case errors.Is(err, errUsage):
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			flag.Usage()
			return 2
		default:
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	return 0
}
