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

package handle

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/qrdl/gdbridge/callconv"
	"github.com/qrdl/gdbridge/hook"
	"github.com/qrdl/gdbridge/mem"
)

var ErrBadFunc = errors.New("bad function descriptor")

// funcEntry is the configuration form of a function descriptor, one of
//
//	{offset: 0x2029C0, sig: "thiscall(ptr, f32)"}
//	{address: 0x401000, sig: "cdecl() ptr"}
//	{module: libcocos2d.dll, symbol: "?sharedDirector@...", sig: "cdecl() ptr"}
type funcEntry struct {
	Offset      *uintptr            `yaml:"offset"`
	Address     *uintptr            `yaml:"address"`
	Module      string              `yaml:"module"`
	Symbol      string              `yaml:"symbol"`
	Sig         *callconv.Signature `yaml:"sig"`
	Placeholder bool                `yaml:"placeholder"`
}

func (s funcEntry) target() (hook.Target, error) {
	set := 0
	var t hook.Target
	if s.Offset != nil {
		t = hook.BaseRelative(*s.Offset)
		set++
	}
	if s.Address != nil {
		if *s.Address == 0 {
			return t, fmt.Errorf("%w: address is zero", ErrBadFunc)
		}
		t = hook.Absolute(mem.Address(*s.Address))
		set++
	}
	if s.Module != "" || s.Symbol != "" {
		if s.Module == "" || s.Symbol == "" {
			return t, fmt.Errorf("%w: symbol needs both module and symbol", ErrBadFunc)
		}
		t = hook.Symbol(s.Module, s.Symbol)
		set++
	}
	if set != 1 {
		return t, fmt.Errorf("%w: exactly one of offset, address or module+symbol expected", ErrBadFunc)
	}
	return t, nil
}

func decodeFunc(node *yaml.Node) (Func, bool, error) {
	var s funcEntry
	if err := node.Decode(&s); err != nil {
		return Func{}, false, err
	}
	t, err := s.target()
	if err != nil {
		return Func{}, false, fmt.Errorf("line %d: %w", node.Line, err)
	}
	if s.Sig == nil {
		return Func{}, false, fmt.Errorf("line %d: %w: no signature", node.Line, ErrBadFunc)
	}
	return Func{Target: t, Sig: *s.Sig}, s.Placeholder, nil
}

func (f *Func) UnmarshalYAML(node *yaml.Node) error {
	fn, placeholder, err := decodeFunc(node)
	if err != nil {
		return err
	}
	if placeholder {
		return fmt.Errorf("line %d: %w: placeholder is only meaningful for methods", node.Line, ErrBadFunc)
	}
	*f = fn
	return nil
}

func (m *Method[C]) UnmarshalYAML(node *yaml.Node) error {
	fn, placeholder, err := decodeFunc(node)
	if err != nil {
		return err
	}
	*m = Method[C]{Func: fn, Placeholder: placeholder}
	return nil
}
