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

package detour

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrdl/gdbridge/mem"
)

const (
	codeBase   = mem.Address(0x400000)
	detourBase = mem.Address(0x401000)
	trampBase  = mem.Address(0x402000)
	dataBase   = mem.Address(0x403000)
)

// fakeProtector treats the page at dataBase as data and everything else as code.
type fakeProtector struct {
	fail    error
	lifted  int
	restore int
}

func (f *fakeProtector) Query(addr mem.Address) (mem.Prot, error) {
	if addr >= dataBase && addr < dataBase+0x1000 {
		return mem.ProtRead | mem.ProtWrite, nil
	}
	return mem.ProtRead | mem.ProtExec, nil
}

func (f *fakeProtector) Unprotect(mem.Address, int) (func() error, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.lifted++
	return func() error {
		f.restore++
		return nil
	}, nil
}

type fixture struct {
	buf   *mem.Buffer
	prot  *fakeProtector
	next  mem.Address
	freed []mem.Address
	e     *Engine
}

func newFixture(t *testing.T, mode int) *fixture {
	t.Helper()
	f := &fixture{
		buf:  mem.NewBuffer(codeBase, 0x4000),
		prot: &fakeProtector{},
		next: trampBase,
	}
	// int3 padding everywhere, as between real functions
	for i := range f.buf.Data {
		f.buf.Data[i] = 0xCC
	}
	alloc := func(mem.Address, int) (mem.Address, error) {
		a := f.next
		f.next += trampolineSize
		return a, nil
	}
	free := func(a mem.Address, _ int) error {
		f.freed = append(f.freed, a)
		return nil
	}
	f.e = New(WithMemory(f.buf, f.prot), WithAllocator(alloc, free), WithMode(mode))
	return f
}

func (f *fixture) put(addr mem.Address, code ...byte) {
	f.buf.Write(addr, code)
}

func (f *fixture) bytes(addr mem.Address, n int) []byte {
	b := make([]byte, n)
	f.buf.Read(addr, b)
	return b
}

func rel32(from, to mem.Address) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(int64(to)-int64(from)-5))
	return b
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, 32)
	prologue := []byte{0x55, 0x8B, 0xEC, 0x83, 0xEC, 0x08} // push ebp; mov ebp, esp; sub esp, 8
	f.put(codeBase, prologue...)

	tramp, err := f.e.Create(codeBase, detourBase)
	require.NoError(t, err)
	assert.Equal(t, trampBase, tramp)
	assert.Equal(t, prologue, f.bytes(codeBase, 6), "create must not patch the target")

	// trampoline: stolen instructions and a jump back behind them
	want := append(append([]byte{}, prologue...), 0xE9)
	want = append(want, rel32(tramp.Add(6), codeBase.Add(6))...)
	assert.Equal(t, want, f.bytes(tramp, len(want)))

	require.NoError(t, f.e.Enable(codeBase))
	assert.True(t, f.e.Enabled(codeBase))
	assert.Equal(t, append([]byte{0xE9}, rel32(codeBase, detourBase)...), f.bytes(codeBase, 5))
	assert.Equal(t, byte(0x08), f.bytes(codeBase.Add(5), 1)[0], "bytes past the jump stay")
	assert.Equal(t, f.prot.lifted, f.prot.restore)

	require.NoError(t, f.e.Disable(codeBase))
	assert.Equal(t, prologue, f.bytes(codeBase, 6))

	require.NoError(t, f.e.Remove(codeBase))
	assert.Equal(t, []mem.Address{tramp}, f.freed)
	_, ok := f.e.Trampoline(codeBase)
	assert.False(t, ok)
}

func TestStatusErrors(t *testing.T) {
	f := newFixture(t, 32)
	f.put(codeBase, 0x55, 0x8B, 0xEC, 0x83, 0xEC, 0x08)

	assert.ErrorIs(t, f.e.Enable(codeBase), StatusNotCreated)
	assert.ErrorIs(t, f.e.Disable(codeBase), StatusNotCreated)
	assert.ErrorIs(t, f.e.Remove(codeBase), StatusNotCreated)

	_, err := f.e.Create(codeBase, detourBase)
	require.NoError(t, err)
	_, err = f.e.Create(codeBase, detourBase.Add(0x10))
	assert.ErrorIs(t, err, StatusAlreadyCreated)

	assert.ErrorIs(t, f.e.Disable(codeBase), StatusDisabled)
	require.NoError(t, f.e.Enable(codeBase))
	assert.ErrorIs(t, f.e.Enable(codeBase), StatusEnabled)

	_, err = f.e.Create(dataBase, detourBase)
	assert.ErrorIs(t, err, StatusNotExecutable)
	_, err = f.e.Create(codeBase.Add(0x100), dataBase)
	assert.ErrorIs(t, err, StatusNotExecutable)
}

func TestRemoveEnabledRestores(t *testing.T) {
	f := newFixture(t, 32)
	prologue := []byte{0x8B, 0xFF, 0x55, 0x8B, 0xEC} // mov edi, edi; push ebp; mov ebp, esp
	f.put(codeBase, prologue...)

	_, err := f.e.Create(codeBase, detourBase)
	require.NoError(t, err)
	require.NoError(t, f.e.Enable(codeBase))
	require.NoError(t, f.e.Remove(codeBase))

	assert.Equal(t, prologue, f.bytes(codeBase, 5))
}

func TestRelocateCall(t *testing.T) {
	f := newFixture(t, 32)
	callee := codeBase.Add(0x800)
	f.put(codeBase, 0xE8)
	f.put(codeBase.Add(1), rel32(codeBase, callee)...) // call callee
	f.put(codeBase.Add(5), 0xC3)

	tramp, err := f.e.Create(codeBase, detourBase)
	require.NoError(t, err)

	got := f.bytes(tramp, 10)
	assert.Equal(t, byte(0xE8), got[0])
	assert.Equal(t, rel32(tramp, callee), got[1:5], "call must still reach the callee")
	assert.Equal(t, byte(0xE9), got[5])
	assert.Equal(t, rel32(tramp.Add(5), codeBase.Add(5)), got[6:10])
}

func TestUnsupportedPrologues(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"short jump", []byte{0xEB, 0x10, 0x90, 0x90, 0x90}},
		{"short conditional jump", []byte{0x85, 0xC0, 0x74, 0x02, 0x90}},
		{"function shorter than the jump", []byte{0x31, 0xC0, 0xC3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 32)
			f.put(codeBase, tt.code...)

			_, err := f.e.Create(codeBase, detourBase)
			assert.ErrorIs(t, err, StatusUnsupportedFunction)
			assert.Equal(t, []mem.Address{trampBase}, f.freed, "trampoline must be released")
			assert.Equal(t, tt.code, f.bytes(codeBase, len(tt.code)))
		})
	}
}

func TestAllocFailure(t *testing.T) {
	f := newFixture(t, 32)
	f.put(codeBase, 0x55, 0x8B, 0xEC, 0x83, 0xEC, 0x08)
	f.e.alloc = func(mem.Address, int) (mem.Address, error) {
		return 0, errors.New("out of memory")
	}

	_, err := f.e.Create(codeBase, detourBase)
	assert.ErrorIs(t, err, StatusMemoryAlloc)
}

func TestProtectFailure(t *testing.T) {
	f := newFixture(t, 32)
	f.put(codeBase, 0x55, 0x8B, 0xEC, 0x83, 0xEC, 0x08)

	_, err := f.e.Create(codeBase, detourBase)
	require.NoError(t, err)

	f.prot.fail = errors.New("EACCES")
	err = f.e.Enable(codeBase)
	assert.ErrorIs(t, err, StatusMemoryProtect)
	assert.ErrorIs(t, err, mem.ErrProtect)
	assert.False(t, f.e.Enabled(codeBase))
	assert.Equal(t, byte(0x55), f.bytes(codeBase, 1)[0])
}

func TestEnableAllDisableAll(t *testing.T) {
	f := newFixture(t, 32)
	first, second := codeBase, codeBase.Add(0x100)
	f.put(first, 0x55, 0x8B, 0xEC, 0x83, 0xEC, 0x08)
	f.put(second, 0x8B, 0xFF, 0x55, 0x8B, 0xEC)

	_, err := f.e.Create(first, detourBase)
	require.NoError(t, err)
	_, err = f.e.Create(second, detourBase.Add(0x40))
	require.NoError(t, err)
	require.NoError(t, f.e.Enable(second))

	require.NoError(t, f.e.EnableAll(), "already enabled hooks are skipped")
	assert.True(t, f.e.Enabled(first))
	assert.True(t, f.e.Enabled(second))
	assert.Equal(t, byte(0xE9), f.bytes(first, 1)[0])
	assert.Equal(t, byte(0xE9), f.bytes(second, 1)[0])

	require.NoError(t, f.e.DisableAll())
	require.NoError(t, f.e.DisableAll(), "disabling twice is harmless")
	assert.Equal(t, byte(0x55), f.bytes(first, 1)[0])
	assert.Equal(t, byte(0x8B), f.bytes(second, 1)[0])
}

func TestRipRelative64(t *testing.T) {
	f := newFixture(t, 64)
	// mov rax, [rip+0x100]
	f.put(codeBase, 0x48, 0x8B, 0x05, 0x00, 0x01, 0x00, 0x00)
	f.put(codeBase.Add(7), 0xC3)

	tramp, err := f.e.Create(codeBase, detourBase)
	require.NoError(t, err)

	got := f.bytes(tramp, 7)
	assert.Equal(t, []byte{0x48, 0x8B, 0x05}, got[:3])
	disp := int64(int32(binary.LittleEndian.Uint32(got[3:])))
	assert.Equal(t, int64(codeBase)+7+0x100, int64(tramp)+7+disp, "operand must address the same data")
}
