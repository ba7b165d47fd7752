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
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

const allocGranularity = 0x10000

type systemProtector struct{}

// System changes protection with VirtualProtect.
var System Protector = systemProtector{}

func (systemProtector) Query(addr Address) (Prot, error) {
	var mbi windows.MemoryBasicInformation
	err := windows.VirtualQuery(uintptr(addr), &mbi, unsafe.Sizeof(mbi))
	if err != nil {
		return 0, err
	}
	if mbi.State != windows.MEM_COMMIT {
		return 0, nil
	}
	return fromPageFlags(mbi.Protect), nil
}

func (systemProtector) Unprotect(addr Address, size int) (func() error, error) {
	var oldPerms uint32
	err := windows.VirtualProtect(
		uintptr(addr),
		uintptr(size),
		windows.PAGE_EXECUTE_READWRITE,
		&oldPerms)
	if err != nil {
		return nil, err
	}

	return func() error {
		var tmp uint32
		return windows.VirtualProtect(uintptr(addr), uintptr(size), oldPerms, &tmp)
	}, nil
}

func fromPageFlags(flags uint32) Prot {
	switch flags & 0xFF {
	case windows.PAGE_READONLY:
		return ProtRead
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return ProtRead | ProtWrite
	case windows.PAGE_EXECUTE:
		return ProtExec
	case windows.PAGE_EXECUTE_READ:
		return ProtRead | ProtExec
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return ProtRead | ProtWrite | ProtExec
	}
	return 0
}

/*
AllocExec reserves and commits size bytes of read-write-execute memory. On 64-bit
hosts a non-zero near asks for a block within 2GB below near, so the block can be
reached from near with 32-bit displacements; if no such block is free, any address is
accepted.
*/
func AllocExec(near Address, size int) (Address, error) {
	const typ = windows.MEM_COMMIT | windows.MEM_RESERVE
	if PtrSize == 8 && near != 0 {
		start := uintptr(near) &^ (allocGranularity - 1)
		for delta := uintptr(allocGranularity); delta < 1<<31-allocGranularity; delta += allocGranularity {
			if delta > start {
				break
			}
			p, err := windows.VirtualAlloc(start-delta, uintptr(size), typ, windows.PAGE_EXECUTE_READWRITE)
			if err == nil && p != 0 {
				return Address(p), nil
			}
		}
	}
	p, err := windows.VirtualAlloc(0, uintptr(size), typ, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	return Address(p), nil
}

// FreeExec releases memory obtained from AllocExec.
func FreeExec(addr Address, _ int) error {
	return windows.VirtualFree(uintptr(addr), 0, windows.MEM_RELEASE)
}

func flushICache(addr Address, size int) {
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), uintptr(addr), uintptr(size)) //nolint:errcheck
}
