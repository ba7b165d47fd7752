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

import "fmt"

// Buffer is a Region backed by a Go slice mapped at an arbitrary base address. It is
// used to replay memory dumps and to lay out fake objects in tests.
type Buffer struct {
	Base Address
	Data []byte
}

// NewBuffer allocates a zeroed Buffer of size bytes starting at base.
func NewBuffer(base Address, size int) *Buffer {
	return &Buffer{Base: base, Data: make([]byte, size)}
}

func (b *Buffer) Read(addr Address, buf []byte) {
	copy(buf, b.slice(addr, len(buf)))
}

func (b *Buffer) Write(addr Address, buf []byte) {
	copy(b.slice(addr, len(buf)), buf)
}

func (b *Buffer) slice(addr Address, size int) []byte {
	off := uintptr(addr - b.Base)
	if addr < b.Base || off+uintptr(size) > uintptr(len(b.Data)) {
		panic(fmt.Sprintf("access to %v (%d bytes) outside of buffer %v-%v",
			addr, size, b.Base, b.Base.Add(len(b.Data))))
	}
	return b.Data[off : off+uintptr(size)]
}
