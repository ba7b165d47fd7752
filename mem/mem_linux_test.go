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

package mem

import (
	"reflect"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAllocExec(t *testing.T) {
	addr, err := AllocExec(0, 64)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, FreeExec(addr, 64))
	}()

	prot, err := System.Query(addr)
	require.NoError(t, err)
	assert.Equal(t, ProtRead|ProtWrite|ProtExec, prot)
}

func TestAllocExecNear(t *testing.T) {
	if PtrSize != 8 {
		t.Skip("every address is within reach on 32-bit hosts")
	}
	// the executable text is far from where the kernel puts anonymous mappings
	near := Address(reflect.ValueOf(TestAllocExecNear).Pointer())

	addr, err := AllocExec(near, 64)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, FreeExec(addr, 64))
	}()

	assert.Less(t, uintptr(addr), uintptr(near))
	assert.LessOrEqual(t, uintptr(near)-uintptr(addr), uintptr(1<<31))
}

func TestFreeExecUnknown(t *testing.T) {
	assert.Error(t, FreeExec(0x1000, 16))
}

func TestWriteProtectedRestoresMapping(t *testing.T) {
	addr, err := AllocExec(0, 64)
	require.NoError(t, err)
	defer FreeExec(addr, 64) //nolint:errcheck

	page := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 64)
	require.NoError(t, unix.Mprotect(page, unix.PROT_READ|unix.PROT_EXEC))

	prot, err := System.Query(addr)
	require.NoError(t, err)
	require.Equal(t, ProtRead|ProtExec, prot)

	require.NoError(t, WriteProtected(Local, System, addr.Add(8), []byte{0xC3, 0x90}))

	assert.Equal(t, []byte{0xC3, 0x90}, page[8:10])
	prot, err = System.Query(addr)
	require.NoError(t, err)
	assert.Equal(t, ProtRead|ProtExec, prot, "r-x must be restored after the write")
}
