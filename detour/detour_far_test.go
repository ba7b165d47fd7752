// This file is part of gdbridge project, available at https://github.com/qrdl/gdbridge
// Copyright (c) 2024 Ilya Caramishev. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build amd64 || arm64

package detour

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrdl/gdbridge/mem"
)

// the detour lies above 4 GiB, so the address only fits a 64-bit uintptr
func TestFarDetour64(t *testing.T) {
	f := newFixture(t, 64)
	prologue := []byte{
		0x48, 0x89, 0x5C, 0x24, 0x08, // mov [rsp+8], rbx
		0x48, 0x89, 0x74, 0x24, 0x10, // mov [rsp+16], rsi
		0x57,                   // push rdi
		0x48, 0x83, 0xEC, 0x20, // sub rsp, 0x20
	}
	f.put(codeBase, prologue...)
	far := mem.Address(0x7FF000000000)

	tramp, err := f.e.Create(codeBase, far)
	require.NoError(t, err)
	require.NoError(t, f.e.Enable(codeBase))

	jump := f.bytes(codeBase, 14)
	assert.Equal(t, []byte{0xFF, 0x25, 0, 0, 0, 0}, jump[:6])
	assert.Equal(t, uint64(far), binary.LittleEndian.Uint64(jump[6:]))

	// all four instructions are needed to cover 14 bytes
	assert.Equal(t, prologue, f.bytes(tramp, len(prologue)))
	assert.Equal(t, append([]byte{0xE9}, rel32(tramp.Add(15), codeBase.Add(15))...), f.bytes(tramp.Add(15), 5))

	require.NoError(t, f.e.Disable(codeBase))
	assert.Equal(t, prologue, f.bytes(codeBase, len(prologue)))
}
