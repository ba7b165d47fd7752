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

package proc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/qrdl/gdbridge/mem"
)

type self struct{}

// Self returns the resolver for the current process.
func Self() Resolver {
	return self{}
}

func (self) Base() (mem.Address, error) {
	var h windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &h); err != nil {
		return 0, fmt.Errorf("main module: %w", err)
	}
	return mem.Address(h), nil
}

// Module walks the module list of the current process. GetModuleHandle would match
// names case-insensitively.
func (self) Module(name string) (mem.Address, error) {
	process := windows.CurrentProcess()

	mods := make([]windows.Handle, 256)
	for {
		var needed uint32
		size := uint32(len(mods)) * uint32(unsafe.Sizeof(mods[0]))
		if err := windows.EnumProcessModules(process, &mods[0], size, &needed); err != nil {
			return 0, fmt.Errorf("listing modules: %w", err)
		}
		if needed <= size {
			mods = mods[:needed/uint32(unsafe.Sizeof(mods[0]))]
			break
		}
		mods = make([]windows.Handle, needed/uint32(unsafe.Sizeof(mods[0])))
	}

	buf := make([]uint16, windows.MAX_PATH)
	for _, m := range mods {
		if err := windows.GetModuleBaseName(process, m, &buf[0], uint32(len(buf))); err != nil {
			continue
		}
		if windows.UTF16ToString(buf) == name {
			return mem.Address(m), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrModuleNotLoaded, name)
}

func (s self) Symbol(module, name string) (mem.Address, error) {
	m, err := s.Module(module)
	if err != nil {
		return 0, err
	}
	addr, err := windows.GetProcAddress(windows.Handle(m), name)
	if err != nil || addr == 0 {
		return 0, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, module)
	}
	return mem.Address(addr), nil
}
