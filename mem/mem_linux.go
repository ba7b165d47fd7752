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
	"sync"
	"unsafe"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

type systemProtector struct{}

// System changes protection with mprotect, reading the current protection from
// /proc/self/maps.
var System Protector = systemProtector{}

type segment struct {
	start, end uintptr
	prot       Prot
}

func (systemProtector) Query(addr Address) (Prot, error) {
	segs, err := segments(addr, 1)
	if err != nil {
		return 0, err
	}
	if len(segs) == 0 {
		return 0, nil
	}
	return segs[0].prot, nil
}

func (systemProtector) Unprotect(addr Address, size int) (func() error, error) {
	segs, err := segments(addr, size)
	if err != nil {
		return nil, err
	}
	start, sz := pageBounds(addr, size)
	if err := mprotect(uintptr(start), sz, ProtRead|ProtWrite|ProtExec); err != nil {
		return nil, err
	}

	return func() error {
		for _, s := range segs {
			if err := mprotect(s.start, s.end-s.start, s.prot); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// segments lists the mappings overlapping the pages of [addr, addr+size), clipped to
// those pages.
func segments(addr Address, size int) ([]segment, error) {
	self, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	maps, err := self.ProcMaps()
	if err != nil {
		return nil, err
	}

	start, sz := pageBounds(addr, size)
	lo, hi := uintptr(start), uintptr(start)+sz
	var segs []segment
	for _, m := range maps {
		if m.EndAddr <= lo || m.StartAddr >= hi {
			continue
		}
		s := segment{start: max(m.StartAddr, lo), end: min(m.EndAddr, hi)}
		if m.Perms != nil {
			s.prot = fromPerms(m.Perms)
		}
		segs = append(segs, s)
	}
	return segs, nil
}

func fromPerms(p *procfs.ProcMapPermissions) Prot {
	var prot Prot
	if p.Read {
		prot |= ProtRead
	}
	if p.Write {
		prot |= ProtWrite
	}
	if p.Execute {
		prot |= ProtExec
	}
	return prot
}

func mprotect(start, size uintptr, prot Prot) error {
	page := unsafe.Slice((*uint8)(unsafe.Pointer(start)), size)
	return unix.Mprotect(page, unixProt(prot))
}

func unixProt(prot Prot) int {
	p := unix.PROT_NONE
	if prot&ProtRead != 0 {
		p |= unix.PROT_READ
	}
	if prot&ProtWrite != 0 {
		p |= unix.PROT_WRITE
	}
	if prot&ProtExec != 0 {
		p |= unix.PROT_EXEC
	}
	return p
}

var (
	execMu    sync.Mutex
	execPages = map[Address][]byte{}
)

const (
	execProt  = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	execFlags = unix.MAP_PRIVATE | unix.MAP_ANON
	nearStep  = 1 << 16
)

/*
AllocExec maps size bytes of anonymous read-write-execute memory. On 64-bit hosts a
non-zero near asks for a block within 2GB below near, so the block can be reached
from near with 32-bit displacements; if no such block is free, any address is
accepted.
*/
func AllocExec(near Address, size int) (Address, error) {
	var b []byte
	if PtrSize == 8 && near != 0 {
		b = mmapBelow(near, size)
	}
	if b == nil {
		var err error
		if b, err = unix.Mmap(-1, 0, size, execProt, execFlags); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrAlloc, err)
		}
	}
	addr := AddressOf(b)

	execMu.Lock()
	execPages[addr] = b
	execMu.Unlock()

	return addr, nil
}

// mmapBelow passes addresses below near as mmap hints until the kernel honours one
// within 32-bit reach. It returns nil if none is found.
func mmapBelow(near Address, size int) []byte {
	start := uintptr(near) &^ (nearStep - 1)
	for delta := uintptr(nearStep); delta < 1<<31-nearStep && delta <= start; delta += nearStep {
		p, _, errno := unix.Syscall6(unix.SYS_MMAP, start-delta, uintptr(size), execProt, execFlags, ^uintptr(0), 0)
		if errno != 0 {
			continue
		}
		if p > uintptr(near) || uintptr(near)-p > 1<<31-uintptr(size) {
			// hint ignored, the block landed somewhere else
			unix.Syscall(unix.SYS_MUNMAP, p, uintptr(size), 0) //nolint:errcheck
			continue
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(p)), size)
	}
	return nil
}

// FreeExec unmaps memory obtained from AllocExec.
func FreeExec(addr Address, _ int) error {
	execMu.Lock()
	b, ok := execPages[addr]
	delete(execPages, addr)
	execMu.Unlock()

	if !ok {
		return fmt.Errorf("%v was not allocated with AllocExec", addr)
	}
	return unix.Munmap(b)
}

// flushICache is a no-op: x86 keeps the instruction cache coherent with data
// writes. Patching code on other Linux architectures is not supported, detour only
// emits x86 anyway.
func flushICache(Address, int) {}
