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

/*
Package mem provides access to memory the Go runtime does not own: objects of the
host process, machine code of its functions, pages allocated for trampolines.

All accesses go through a [Region]. A Region performs no bounds, type or liveness
checks - reading or writing an address that is not mapped crashes the process, and
writing a value of the wrong type silently corrupts the object. Callers are expected to
know the layout of what they touch.

Code pages are normally not writable, so patches are applied with [WriteProtected],
which changes the protection of the affected pages for the duration of the write and
puts the previous protection back on every exit path.
*/
package mem

import (
	"errors"
	"fmt"
	"unicode/utf8"
	"unsafe"
)

var (
	ErrInvalidUTF8  = errors.New("string is not valid UTF-8")
	ErrUnterminated = errors.New("string is not NUL-terminated")
	ErrProtect      = errors.New("cannot change memory protection")
	ErrAlloc        = errors.New("cannot allocate executable memory")
	ErrUnsupported  = errors.New("not supported on this platform")
)

// Address is a location in the address space of the current process. Zero is null.
type Address uintptr

// PtrSize is the width of a native pointer in bytes.
const PtrSize = int(unsafe.Sizeof(uintptr(0)))

// Add returns a+off, wrapping around at the native width.
func (a Address) Add(off int) Address {
	return a + Address(off)
}

func (a Address) IsNull() bool {
	return a == 0
}

func (a Address) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

/*
Region is a capability to read and write raw bytes at absolute addresses.

Implementations never validate addresses. A failed access is a crash (for [Local])
or a panic (for [Buffer]), never an error, as the callers have no way to recover
from a wrong layout anyway.
*/
type Region interface {
	Read(addr Address, buf []byte)
	Write(addr Address, buf []byte)
}

type local struct{}

// Local is the memory of the current process, accessed by dereferencing addresses.
var Local Region = local{}

func (local) Read(addr Address, buf []byte) {
	if len(buf) == 0 {
		return
	}
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(buf)))
}

func (local) Write(addr Address, buf []byte) {
	if len(buf) == 0 {
		return
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(buf)), buf)
}

// AddressOf returns the address of the first byte of a Go-owned buffer.
func AddressOf(buf []byte) Address {
	return Address(unsafe.Pointer(unsafe.SliceData(buf)))
}

// Scalar is the set of plain values that can live in a field of a foreign object.
type Scalar interface {
	bool | int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 |
		float32 | float64 | uintptr | Address
}

// Read loads a T at addr. Booleans are one byte, any non-zero value is true.
func Read[T Scalar](r Region, addr Address) T {
	var v T
	if b, ok := any(&v).(*bool); ok {
		var raw [1]byte
		r.Read(addr, raw[:])
		*b = raw[0] != 0
		return v
	}
	r.Read(addr, unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v)))
	return v
}

// Write stores v at addr.
func Write[T Scalar](r Region, addr Address, v T) {
	if b, ok := any(v).(bool); ok {
		var raw [1]byte
		if b {
			raw[0] = 1
		}
		r.Write(addr, raw[:])
		return
	}
	r.Write(addr, unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v)))
}

// ReadAddress loads a native pointer stored at addr.
func ReadAddress(r Region, addr Address) Address {
	return Read[Address](r, addr)
}

// MaxCString limits how far CString scans for the terminating NUL.
const MaxCString = 4096

/*
CString reads a NUL-terminated string starting at addr, one byte at a time so the scan
never touches memory past the terminator. A string with no terminator within
[MaxCString] bytes is reported as [ErrUnterminated]. Invalid UTF-8 is reported as
[ErrInvalidUTF8] and never replaced.
*/
func CString(r Region, addr Address) (string, error) {
	var (
		out []byte
		c   [1]byte
	)
	for len(out) < MaxCString {
		r.Read(addr.Add(len(out)), c[:])
		if c[0] == 0 {
			return decode(out)
		}
		out = append(out, c[0])
	}
	return "", fmt.Errorf("%w within %d bytes at %v", ErrUnterminated, MaxCString, addr)
}

func decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
