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
	"path/filepath"

	"github.com/ebitengine/purego"
	"github.com/prometheus/procfs"

	"github.com/qrdl/gdbridge/mem"
)

// glibc value, purego does not export it.
const rtldNoload = 0x4

type self struct{}

// Self returns the resolver for the current process.
func Self() Resolver {
	return self{}
}

func (self) Base() (mem.Address, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	exe, err := p.Executable()
	if err != nil {
		return 0, fmt.Errorf("main module: %w", err)
	}
	m, err := mapping(p, func(path string) bool { return path == exe })
	if err != nil {
		return 0, err
	}
	return m.StartAddr(), nil
}

func (self) Module(name string) (mem.Address, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	m, err := mapping(p, func(path string) bool { return filepath.Base(path) == name })
	if err != nil {
		return 0, fmt.Errorf("%w: %s", err, name)
	}
	return m.StartAddr(), nil
}

// Symbol asks the dynamic loader for an already loaded module; RTLD_NOLOAD makes
// dlopen fail rather than load it.
func (self) Symbol(module, name string) (mem.Address, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	m, err := mapping(p, func(path string) bool { return filepath.Base(path) == module })
	if err != nil {
		return 0, fmt.Errorf("%w: %s", err, module)
	}

	h, err := purego.Dlopen(m.path, purego.RTLD_NOW|rtldNoload)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrModuleNotLoaded, module, err)
	}
	defer purego.Dlclose(h) //nolint:errcheck

	sym, err := purego.Dlsym(h, name)
	if err != nil || sym == 0 {
		return 0, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, module)
	}
	return mem.Address(sym), nil
}

type moduleMap struct {
	path  string
	start uintptr
}

func (m moduleMap) StartAddr() mem.Address {
	return mem.Address(m.start)
}

// mapping finds the lowest mapping of a file selected by match.
func mapping(p procfs.Proc, match func(path string) bool) (moduleMap, error) {
	maps, err := p.ProcMaps()
	if err != nil {
		return moduleMap{}, err
	}
	var found moduleMap
	for _, m := range maps {
		if m.Pathname == "" || !match(m.Pathname) {
			continue
		}
		if found.path == "" || m.StartAddr < found.start {
			found = moduleMap{path: m.Pathname, start: m.StartAddr}
		}
	}
	if found.path == "" {
		return moduleMap{}, ErrModuleNotLoaded
	}
	return found, nil
}
