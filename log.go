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
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-tjc/internal/syncutil"
)

// logState holds the package logger and the session log tee.
var logState = struct {
	custom      *zerolog.Logger
	sessionFile *os.File
	sessionPath string
	logger      zerolog.Logger
	mu          syncutil.RWMutex
	debug       bool
}{}

func init() {
	if os.Getenv("TJC_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		logState.debug = true
	}
	rebuildLogger()
}

// levelFilter drops console output below a minimum level while the session
// log still receives everything.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (f levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}

// rebuildLogger must be called with logState.mu held (or from init).
func rebuildLogger() {
	if logState.custom != nil {
		logState.logger = *logState.custom
		return
	}

	consoleLevel := zerolog.InfoLevel
	if logState.debug {
		consoleLevel = zerolog.DebugLevel
	}
	console := levelFilter{
		w:   zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"},
		min: consoleLevel,
	}

	var out io.Writer = console
	level := consoleLevel
	if logState.sessionFile != nil {
		out = zerolog.MultiLevelWriter(console, logState.sessionFile)
		level = zerolog.DebugLevel
	}

	logState.logger = zerolog.New(out).Level(level).With().Timestamp().Str("pkg", "tjc").Logger()
}

// Logger returns the package logger. Components capture it at construction
// unless a logger is supplied through options.
func Logger() zerolog.Logger {
	logState.mu.RLock()
	defer logState.mu.RUnlock()
	return logState.logger
}

// SetLogger replaces the package logger. The session log tee is bypassed
// while a custom logger is installed.
func SetLogger(l zerolog.Logger) {
	logState.mu.Lock()
	defer logState.mu.Unlock()
	logState.custom = &l
	rebuildLogger()
}

// ResetLogger restores the built-in console logger.
func ResetLogger() {
	logState.mu.Lock()
	defer logState.mu.Unlock()
	logState.custom = nil
	rebuildLogger()
}

// SetDebugEnabled toggles debug output on the console.
func SetDebugEnabled(enabled bool) {
	logState.mu.Lock()
	defer logState.mu.Unlock()
	logState.debug = enabled
	rebuildLogger()
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	logState.mu.RLock()
	defer logState.mu.RUnlock()
	return logState.debug
}

// Debugf logs a formatted debug message on the package logger.
func Debugf(format string, args ...any) {
	l := Logger()
	l.Debug().Msgf(format, args...)
}

// InitSessionLog creates a timestamped log file in the current directory
// that receives every message at debug level.
// Returns the log file path for display to the user.
func InitSessionLog() (string, error) {
	filename := fmt.Sprintf("tjc_%s.log", time.Now().Format("20060102_150405"))

	logFile, err := os.Create(filename) //nolint:gosec // filename is constructed internally
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	writeSessionHeader(logFile)

	logState.mu.Lock()
	defer logState.mu.Unlock()
	if logState.sessionFile != nil {
		_ = logState.sessionFile.Close()
	}
	logState.sessionFile = logFile
	logState.sessionPath = filename
	rebuildLogger()

	return filename, nil
}

// CloseSessionLog closes the current session log file.
func CloseSessionLog() error {
	logState.mu.Lock()
	defer logState.mu.Unlock()

	if logState.sessionFile == nil {
		return nil
	}

	_, _ = fmt.Fprintf(logState.sessionFile, "\n%s === session ended ===\n", time.Now().Format("15:04:05.000"))
	err := logState.sessionFile.Close()
	logState.sessionFile = nil
	logState.sessionPath = ""
	rebuildLogger()
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the current session log file path.
func GetSessionLogPath() string {
	logState.mu.RLock()
	defer logState.mu.RUnlock()
	return logState.sessionPath
}

func writeSessionHeader(w io.Writer) {
	_, _ = fmt.Fprint(w, "=== TJC Debug Session Log ===\n")
	_, _ = fmt.Fprintf(w, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(w, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(w, "Go Version: %s\n", runtime.Version())
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(w, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(w, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(w, "=============================\n\n")
}
