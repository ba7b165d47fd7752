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

// Package proc finds the main executable, already loaded modules and their exported
// symbols in the current process. Nothing here ever loads a module.
package proc

import (
	"errors"
	"fmt"

	"github.com/qrdl/gdbridge/mem"
)

var (
	ErrModuleNotLoaded = errors.New("module is not loaded")
	ErrSymbolNotFound  = errors.New("symbol not found")
	ErrUnsupported     = errors.New("module lookup is not supported on this platform")
)

// Resolver locates code in a process. Module names are compared exactly, including
// case.
type Resolver interface {
	// Base returns the load address of the main executable.
	Base() (mem.Address, error)
	// Module returns the load address of an already loaded module.
	Module(name string) (mem.Address, error)
	// Symbol returns the address of an exported symbol of an already loaded module.
	Symbol(module, name string) (mem.Address, error)
}

// Static is a Resolver over fixed tables, for replaying a known process layout.
type Static struct {
	BaseAddr mem.Address
	Modules  map[string]mem.Address
	Symbols  map[string]map[string]mem.Address
}

func (s *Static) Base() (mem.Address, error) {
	return s.BaseAddr, nil
}

func (s *Static) Module(name string) (mem.Address, error) {
	addr, ok := s.Modules[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrModuleNotLoaded, name)
	}
	return addr, nil
}

func (s *Static) Symbol(module, name string) (mem.Address, error) {
	if _, err := s.Module(module); err != nil {
		return 0, err
	}
	addr, ok := s.Symbols[module][name]
	if !ok {
		return 0, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, module)
	}
	return addr, nil
}
