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
	"errors"
	"fmt"
	"os"
	"strings"
)

// Prot is a set of page access rights.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

func (p Prot) String() string {
	var sb strings.Builder
	for _, r := range []struct {
		bit Prot
		c   byte
	}{{ProtRead, 'r'}, {ProtWrite, 'w'}, {ProtExec, 'x'}} {
		if p&r.bit != 0 {
			sb.WriteByte(r.c)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

/*
Protector changes page protection of the current process.

Unprotect makes [addr, addr+size) readable, writable and executable and returns a
function that puts back whatever protection the pages had before. Query reports the
protection of the page containing addr.
*/
type Protector interface {
	Query(addr Address) (Prot, error)
	Unprotect(addr Address, size int) (restore func() error, err error)
}

/*
WriteProtected copies data to addr, lifting page protection for the duration of the
write. Previous protection is restored on every exit path, including a panic raised
by the write itself, and a failure to restore is reported together with any other
error.
*/
func WriteProtected(r Region, p Protector, addr Address, data []byte) (err error) {
	restore, err := p.Unprotect(addr, len(data))
	if err != nil {
		return fmt.Errorf("%w at %v: %w", ErrProtect, addr, err)
	}
	defer func() {
		if rerr := restore(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: restoring %v: %w", ErrProtect, addr, rerr))
		}
	}()

	r.Write(addr, data)
	flushICache(addr, len(data))

	return nil
}

// pageBounds returns the start of the page containing addr and the length of the area
// from that start up to addr+size.
func pageBounds(addr Address, size int) (Address, uintptr) {
	pageSize := uintptr(os.Getpagesize())
	areaStart := Address(uintptr(addr) &^ (pageSize - 1))
	areaSize := uintptr(addr) + uintptr(size) - uintptr(areaStart)

	return areaStart, areaSize
}
