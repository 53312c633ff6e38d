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

//go:build !linux

package uart

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
)

func getSerialPorts(_ context.Context) ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	ports := make([]serialPort, 0, len(details))
	for _, detail := range details {
		port := serialPort{
			Path: detail.Name,
			Name: filepath.Base(detail.Name),
		}
		if detail.IsUSB {
			port.VIDPID = strings.ToUpper(detail.VID + ":" + detail.PID)
			port.Product = detail.Product
			port.SerialNumber = detail.SerialNumber
		}
		ports = append(ports, port)
	}
	return ports, nil
}
