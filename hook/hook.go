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
Package hook keeps the table of function interceptions installed in the current
process.

A [Registry] maps hook identifiers to their state: the resolved target, the
replacement and the trampoline that still runs the original code. The machine code
itself is owned by an [Interceptor] (normally a *detour.Engine); the registry only
does the bookkeeping.

Every hook goes through

	Uninitialized --Create--> Installed --EnableAll--> Active
	Active --DisableAll--> Installed
	Installed, Active --Remove--> Uninitialized

There is no per-hook enable, the whole table is switched at once.

Targets are given by one of three strategies: an absolute address, an offset from the
base of the main executable, or an exported symbol of an already loaded module.
*/
package hook

import (
	"errors"
	"fmt"

	"github.com/qrdl/gdbridge/mem"
	"github.com/qrdl/gdbridge/proc"
)

var (
	ErrDoubleHook   = errors.New("hook already installed")
	ErrHookNotFound = errors.New("hook not installed")
	ErrNoSignature  = errors.New("hook has no signature")
)

// ID names a hook.
type ID string

// State of a hook.
type State uint8

const (
	Uninitialized State = iota
	Installed
	Active
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Installed:
		return "installed"
	case Active:
		return "active"
	}
	return fmt.Sprintf("State(%d)", s)
}

// Strategy is the way a Target is turned into an address.
type Strategy uint8

const (
	ByAddress Strategy = iota
	ByBaseOffset
	BySymbol
)

// Target says where a function lives. Build it with Absolute, BaseRelative or Symbol.
type Target struct {
	Strategy Strategy
	Addr     mem.Address
	Offset   uintptr
	Module   string
	Name     string
}

// Absolute targets a literal address.
func Absolute(addr mem.Address) Target {
	return Target{Strategy: ByAddress, Addr: addr}
}

// BaseRelative targets an offset from the load address of the main executable.
func BaseRelative(offset uintptr) Target {
	return Target{Strategy: ByBaseOffset, Offset: offset}
}

// Symbol targets an exported, usually mangled, symbol of an already loaded module.
func Symbol(module, name string) Target {
	return Target{Strategy: BySymbol, Module: module, Name: name}
}

// Resolve computes the address of t. Only BaseRelative and Symbol consult r.
func (t Target) Resolve(r proc.Resolver) (mem.Address, error) {
	switch t.Strategy {
	case ByAddress:
		return t.Addr, nil
	case ByBaseOffset:
		base, err := r.Base()
		if err != nil {
			return 0, err
		}
		return base + mem.Address(t.Offset), nil
	case BySymbol:
		return r.Symbol(t.Module, t.Name)
	}
	return 0, fmt.Errorf("unknown target strategy %d", t.Strategy)
}

func (t Target) String() string {
	switch t.Strategy {
	case ByAddress:
		return t.Addr.String()
	case ByBaseOffset:
		return fmt.Sprintf("base+%#x", t.Offset)
	case BySymbol:
		return fmt.Sprintf("%s!%s", t.Module, t.Name)
	}
	return "?"
}
