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

package tjc

import (
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-tjc/internal/frame"
)

// Panel controls addressed by the command layer.
const (
	controlNozzleTemp   = "main.nozzletemp.txt"
	controlBedTemp      = "main.bedtemp.txt"
	controlLEDState     = "led_state"
	controlFanSpeed     = "fan_speed"
	controlPaused       = "paused"
	controlPrintProcess = "printpause.printprocess.val"
	controlPrintValue   = "printpause.printvalue.txt"
	controlPrintTime    = "printpause.printtime.txt"
	controlZValue       = "printpause.zvalue.val"
	controlPrintSpeed   = "printpause.printspeed.txt"
)

// Panel pages.
const (
	PageNameBoot      = "boot"
	PageNameMain      = "main"
	PageNamePrinting  = "printpause"
	PageNameFinish    = "printfinish"
	PageNameLevelWarn = "warn_rdlevel"
)

// CommandsConfig configures a Commands layer.
type CommandsConfig struct {
	// Output drives the fan line. nil makes SetFan fail with
	// ErrOutputNotSupported.
	Output OutputLine
	// QuietControls are never echoed to the log, for values that change
	// every update
	QuietControls []string
	// LogCommands echoes every instruction at debug level
	LogCommands bool
}

// Commands renders control assignments and page changes and writes them
// to the panel.
type Commands struct {
	w       io.Writer
	output  OutputLine
	cache   *ControlValueCache
	quiet   map[string]struct{}
	logger  zerolog.Logger
	logCmds bool
}

// NewCommands creates a command layer writing to w.
func NewCommands(w io.Writer, cfg CommandsConfig, logger zerolog.Logger) *Commands {
	quiet := make(map[string]struct{}, len(cfg.QuietControls))
	for _, name := range cfg.QuietControls {
		quiet[name] = struct{}{}
	}
	return &Commands{
		w:       w,
		output:  cfg.Output,
		cache:   NewControlValueCache(),
		quiet:   quiet,
		logger:  logger.With().Str("component", "commands").Logger(),
		logCmds: cfg.LogCommands,
	}
}

// Cache returns the duplicate suppression cache.
func (c *Commands) Cache() *ControlValueCache {
	return c.cache
}

func (c *Commands) write(data []byte, op string) error {
	n, err := c.w.Write(data)
	if err != nil {
		return NewScreenError(op, "", KindLinkIO, fmt.Errorf("%w: %w", ErrLinkWrite, err))
	}
	if n != len(data) {
		return NewScreenError(op, "", KindLinkIO,
			fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(data)))
	}
	return nil
}

func (c *Commands) send(text string, quiet bool) error {
	if c.logCmds && !quiet {
		c.logger.Debug().Str("cmd", text).Msg("send")
	}
	return c.write(frame.EncodeText(text), "send command")
}

// SendCommand writes one text instruction.
func (c *Commands) SendCommand(text string) error {
	return c.send(text, false)
}

// SendCommands writes instructions in order and stops at the first error.
func (c *Commands) SendCommands(texts ...string) error {
	for _, text := range texts {
		if err := c.SendCommand(text); err != nil {
			return err
		}
	}
	return nil
}

// SendRaw writes raw instruction bytes, adding the terminator when
// missing.
func (c *Commands) SendRaw(data []byte) error {
	if c.logCmds {
		c.logger.Debug().Hex("raw", data).Msg("send")
	}
	return c.write(frame.EncodeRaw(data), "send raw")
}

// SetControlValue assigns value to a control. Strings are quoted. The
// instruction is skipped when the control already holds the same value.
// A failed write forgets the cached value so the next call retries.
func (c *Commands) SetControlValue(name string, value any) error {
	if name == "" || strings.ContainsAny(name, "=\"") {
		return NewScreenError("set control", "", KindUsage, fmt.Errorf("%w: %q", ErrInvalidName, name))
	}

	rendered, err := frame.FormatValue(value)
	if err != nil {
		return NewScreenError("set control", "", KindUsage, fmt.Errorf("control %s: %w", name, err))
	}
	if !c.cache.Changed(name, rendered) {
		return nil
	}

	_, quiet := c.quiet[name]
	if err := c.send(name+"="+rendered, quiet); err != nil {
		c.cache.Forget(name)
		return err
	}
	return nil
}

// SetControlValues assigns several controls in name order. Every control
// is attempted; the errors are joined.
func (c *Commands) SetControlValues(values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if err := c.SetControlValue(name, values[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Update is a sparse set of printer values. nil fields are left alone.
type Update struct {
	ExtruderTemp   *float64
	ExtruderTarget *float64
	BedTemp        *float64
	BedTarget      *float64
	LEDState       *float64
	FanSpeed       *float64
	PrintState     *string
}

// ApplyUpdate renders the present fields of u onto the main page.
// Temperatures are shown as "actual / target"; the fan speed is a
// percentage of a 0..1 ratio.
func (c *Commands) ApplyUpdate(u Update) error {
	var errs []error
	set := func(name string, value any) {
		if err := c.SetControlValue(name, value); err != nil {
			errs = append(errs, err)
		}
	}

	if u.ExtruderTemp != nil {
		set(controlNozzleTemp, formatTemperature(*u.ExtruderTemp, u.ExtruderTarget))
	}
	if u.BedTemp != nil {
		set(controlBedTemp, formatTemperature(*u.BedTemp, u.BedTarget))
	}
	if u.LEDState != nil {
		led := 0
		if *u.LEDState != 0 {
			led = 1
		}
		set(controlLEDState, led)
	}
	if u.FanSpeed != nil {
		set(controlFanSpeed, int(*u.FanSpeed*100))
	}
	if u.PrintState != nil {
		paused := 0
		if *u.PrintState == "paused" {
			paused = 1
		}
		set(controlPaused, paused)
	}
	return errors.Join(errs...)
}

func formatTemperature(actual float64, target *float64) string {
	var t float64
	if target != nil {
		t = *target
	}
	return fmt.Sprintf("%3.0f / %.0f", actual, t)
}

// PrintingProgress updates the print status page. progress and speed are
// 0..1 ratios, z is in millimetres.
func (c *Commands) PrintingProgress(progress float64, printTime string, z, speed float64) error {
	pct := int(progress * 100)
	return errors.Join(
		c.SetControlValue(controlPrintProcess, pct),
		c.SetControlValue(controlPrintValue, fmt.Sprint(pct)),
		c.SetControlValue(controlPrintTime, printTime),
		c.SetControlValue(controlZValue, int(z*100)),
		c.SetControlValue(controlPrintSpeed, fmt.Sprint(int(speed*100))),
	)
}

// Navigate switches the panel to page.
func (c *Commands) Navigate(page string) error {
	return c.SendCommand("page " + page)
}

// PageBoot shows the boot page and enables its version notifier.
func (c *Commands) PageBoot() error {
	return c.SendCommands(bootPageCommands()...)
}

// PageMain shows the main page.
func (c *Commands) PageMain() error {
	return c.Navigate(PageNameMain)
}

// PagePrinting shows the print status page with the file name stem.
func (c *Commands) PagePrinting(filename string) error {
	if err := c.Navigate(PageNamePrinting); err != nil {
		return err
	}
	if filename == "" {
		return nil
	}
	return c.SendCommand("filename.txt=" + quote(fileStem(filename)))
}

// PageFinish shows the print finished page.
func (c *Commands) PageFinish(filename string) error {
	return c.SendCommands(
		"page "+PageNameFinish,
		"printfinish.file.txt=" + quote(filename),
	)
}

// PageHome shows the leveling reminder that precedes the home page.
func (c *Commands) PageHome() error {
	return c.Navigate(PageNameLevelWarn)
}

// SysInit fills in the information page.
func (c *Commands) SysInit(url, version string) error {
	return c.SendCommands(
		"information.klipper_ver.txt=" + quote(version),
		"information.url.txt=" + quote(url),
	)
}

// FileList fills one page of the file browser. list and extList are
// passed through as opaque text.
func (c *Commands) FileList(page, pageMax int, list, extList, dir string) error {
	return c.SendCommands(
		fmt.Sprintf("file.page.val=%d", page),
		fmt.Sprintf("file.page_max.val=%d", pageMax),
		"file.item_list.txt=" + quote(list),
		"file.item_ext_list.txt=" + quote(extList),
		"file.dir.txt=" + quote(dir),
		"click load_list,1",
	)
}

// BedMesh shows a probed mesh on the leveling page. An empty mesh shows a
// zero grid.
func (c *Commands) BedMesh(matrix [][]float64) error {
	return c.SendCommands(bedMeshCommands(matrix)...)
}

// Warning starts or stops the buzzer.
func (c *Commands) Warning(enabled bool) error {
	if enabled {
		return c.SendCommands("cfgpio 7,3,0", "pwmf=2500", "pwm7=50")
	}
	return c.SendCommand("pwm7=0")
}

// SetFan drives the fan output line.
func (c *Commands) SetFan(enabled bool) error {
	if c.output == nil {
		return NewScreenError("set fan", "", KindUsage, ErrOutputNotSupported)
	}
	if err := c.output.SetOutput(enabled); err != nil {
		return NewScreenError("set fan", "", KindLinkIO, err)
	}
	return nil
}

// quote wraps text in string delimiters as is.
func quote(text string) string {
	return `"` + text + `"`
}

// fileStem returns the base name without its extension.
func fileStem(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
