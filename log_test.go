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
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// These tests replace the package logger and must not run in parallel.

func TestSetLogger_CapturesOutput(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	t.Cleanup(ResetLogger)

	Debugf("chunk %d acked", 3)
	assert.Contains(t, buf.String(), `"message":"chunk 3 acked"`)
	assert.Contains(t, buf.String(), `"level":"debug"`)
}

func TestSetDebugEnabled(t *testing.T) {
	was := DebugEnabled()
	t.Cleanup(func() { SetDebugEnabled(was) })

	SetDebugEnabled(true)
	assert.True(t, DebugEnabled())
	assert.Equal(t, zerolog.DebugLevel, Logger().GetLevel())

	SetDebugEnabled(false)
	assert.False(t, DebugEnabled())
	assert.Equal(t, zerolog.InfoLevel, Logger().GetLevel())
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	f := levelFilter{w: &buf, min: zerolog.InfoLevel}

	n, err := f.WriteLevel(zerolog.DebugLevel, []byte("dropped\n"))
	assert.NoError(t, err)
	assert.Equal(t, 8, n, "dropped writes still report success")
	assert.Empty(t, buf.String())

	_, err = f.WriteLevel(zerolog.WarnLevel, []byte("kept\n"))
	assert.NoError(t, err)
	assert.Equal(t, "kept\n", buf.String())
}

func TestWriteSessionHeader(t *testing.T) {
	var buf bytes.Buffer
	writeSessionHeader(&buf)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "=== TJC Debug Session Log ==="))
	assert.Contains(t, out, "Go Version: ")
	assert.Contains(t, out, "PID: ")
}

func TestCloseSessionLog_NoSession(t *testing.T) {
	assert.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())
}
