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
)

// BedMeshSize is the side of the grid shown when no mesh is available.
const BedMeshSize = 6

// bedMeshScale converts mesh heights (mm) to the integer hundredths the
// leveling page displays.
const bedMeshScale = 100

// bedMeshCommands flattens a probed mesh into x<i>.val assignments in
// serpentine order: even rows left to right, odd rows right to left. An
// empty mesh renders a zero grid. Rows may differ in length.
func bedMeshCommands(matrix [][]float64) []string {
	if len(matrix) == 0 || len(matrix[0]) == 0 {
		matrix = make([][]float64, BedMeshSize)
		for i := range matrix {
			matrix[i] = make([]float64, BedMeshSize)
		}
	}

	var cmds []string
	index := 0
	for rowIdx, row := range matrix {
		for i := range row {
			col := i
			if rowIdx%2 == 1 {
				col = len(row) - 1 - i
			}
			cmds = append(cmds, fmt.Sprintf("x%d.val=%d", index, int(row[col]*bedMeshScale)))
			index++
		}
	}
	return cmds
}
