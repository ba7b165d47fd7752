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
Package callconv describes native function signatures as data and calls foreign
functions through them.

A [Signature] names a calling convention, the parameter kinds and the result kind:

	sig := callconv.MustParse("thiscall(ptr, f32) f32")

Every call site goes through one generic [Invoker.Invoke] instead of a hand-written
wrapper per signature. On 32-bit Windows the conventions differ in where arguments
live (ECX, EDX, the stack) and who pops them, see [Lower]. On 64-bit hosts every
convention collapses into the single native one, so the tag is only informative there.
*/
package callconv

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/qrdl/gdbridge/mem"
)

var (
	ErrSignature   = errors.New("invalid signature")
	ErrArgument    = errors.New("invalid argument")
	ErrUnsupported = errors.New("signature not supported on this platform")
)

// Convention is a calling convention tag.
type Convention uint8

const (
	Cdecl Convention = iota
	Stdcall
	Fastcall
	Thiscall
	// Native is whatever the host platform uses by default.
	Native
)

var convNames = [...]string{"cdecl", "stdcall", "fastcall", "thiscall", "native"}

func (c Convention) String() string {
	if int(c) < len(convNames) {
		return convNames[c]
	}
	return fmt.Sprintf("Convention(%d)", c)
}

// Kind is the type of a parameter or result as seen by the machine.
type Kind uint8

const (
	Void Kind = iota
	Ptr
	Int32
	Uint32
	Bool
	Float32
	Float64
)

var kindNames = [...]string{"void", "ptr", "i32", "u32", "bool", "f32", "f64"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// IsFloat reports whether values of the kind travel in floating point registers.
func (k Kind) IsFloat() bool {
	return k == Float32 || k == Float64
}

// Signature is a declarative description of a native function.
type Signature struct {
	Conv   Convention
	Params []Kind
	Result Kind
}

// String formats the signature in the syntax accepted by Parse.
func (s Signature) String() string {
	var sb strings.Builder
	sb.WriteString(s.Conv.String())
	sb.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteByte(')')
	if s.Result != Void {
		sb.WriteByte(' ')
		sb.WriteString(s.Result.String())
	}
	return sb.String()
}

/*
Parse reads a signature of the form

	conv(kind, kind, ...) result

conv is one of cdecl, stdcall, fastcall, thiscall, native. Kinds are ptr, i32, u32,
bool, f32 and f64. The result may be omitted or given as void.
*/
func Parse(s string) (Signature, error) {
	var sig Signature

	open := strings.IndexByte(s, '(')
	closing := strings.LastIndexByte(s, ')')
	if open < 0 || closing < open {
		return sig, fmt.Errorf("%w %q: missing parameter list", ErrSignature, s)
	}

	conv, ok := lookup(convNames[:], strings.TrimSpace(s[:open]))
	if !ok {
		return sig, fmt.Errorf("%w %q: unknown convention", ErrSignature, s)
	}
	sig.Conv = Convention(conv)

	if params := strings.TrimSpace(s[open+1 : closing]); params != "" {
		for _, p := range strings.Split(params, ",") {
			k, ok := lookup(kindNames[:], strings.TrimSpace(p))
			if !ok || Kind(k) == Void {
				return sig, fmt.Errorf("%w %q: bad parameter %q", ErrSignature, s, strings.TrimSpace(p))
			}
			sig.Params = append(sig.Params, Kind(k))
		}
	}

	if res := strings.TrimSpace(s[closing+1:]); res != "" {
		k, ok := lookup(kindNames[:], res)
		if !ok {
			return sig, fmt.Errorf("%w %q: bad result %q", ErrSignature, s, res)
		}
		sig.Result = Kind(k)
	}

	return sig, nil
}

// MustParse is like Parse but panics on error. It is meant for signatures written
// as literals.
func MustParse(s string) Signature {
	sig, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sig
}

// UnmarshalText lets signatures be read from configuration files.
func (s *Signature) UnmarshalText(text []byte) error {
	sig, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func lookup(names []string, name string) (int, bool) {
	for i, n := range names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Value is a raw machine word or floating point value passed to or returned from
// native code. Floats are kept as their IEEE-754 bits.
type Value struct {
	Bits uint64
}

func (v Value) Uintptr() uintptr { return uintptr(v.Bits) }
func (v Value) Address() mem.Address { return mem.Address(v.Bits) }
func (v Value) Int32() int32 { return int32(uint32(v.Bits)) }
func (v Value) Uint32() uint32 { return uint32(v.Bits) }
func (v Value) Bool() bool { return uint8(v.Bits) != 0 }
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) Float64() float64 { return math.Float64frombits(v.Bits) }
func (v Value) String() string { return fmt.Sprintf("%#x", v.Bits) }
func Float32Value(f float32) Value { return Value{Bits: uint64(math.Float32bits(f))} }
func Float64Value(f float64) Value { return Value{Bits: math.Float64bits(f)} }
func AddressValue(a mem.Address) Value { return Value{Bits: uint64(a)} }

/*
encode converts a Go argument to the raw value of a parameter of kind k. Accepted Go
types are mem.Address, uintptr, int, int32, uint32, bool, float32, float64 and Value;
integer types are accepted for any integer kind, floats only for float kinds.
*/
func encode(k Kind, arg any) (Value, error) {
	if v, ok := arg.(Value); ok {
		return v, nil
	}
	switch k {
	case Float32:
		switch a := arg.(type) {
		case float32:
			return Float32Value(a), nil
		case float64:
			return Float32Value(float32(a)), nil
		}
	case Float64:
		switch a := arg.(type) {
		case float64:
			return Float64Value(a), nil
		case float32:
			return Float64Value(float64(a)), nil
		}
	case Bool:
		if a, ok := arg.(bool); ok {
			if a {
				return Value{Bits: 1}, nil
			}
			return Value{}, nil
		}
	case Ptr, Int32, Uint32:
		switch a := arg.(type) {
		case mem.Address:
			return Value{Bits: uint64(a)}, nil
		case uintptr:
			return Value{Bits: uint64(a)}, nil
		case int:
			return Value{Bits: uint64(a)}, nil
		case int32:
			if k == Int32 {
				return Value{Bits: uint64(uint32(a))}, nil
			}
			return Value{Bits: uint64(a)}, nil
		case uint32:
			return Value{Bits: uint64(a)}, nil
		case bool:
			if a {
				return Value{Bits: 1}, nil
			}
			return Value{}, nil
		}
	}
	return Value{}, fmt.Errorf("%w: %T cannot be passed as %v", ErrArgument, arg, k)
}

func encodeAll(sig Signature, args []any) ([]Value, error) {
	if len(args) != len(sig.Params) {
		return nil, fmt.Errorf("%w: %v takes %d arguments, got %d", ErrArgument, sig, len(sig.Params), len(args))
	}
	vals := make([]Value, len(args))
	for i, a := range args {
		v, err := encode(sig.Params[i], a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// Invoker calls native code at fn as described by sig.
type Invoker interface {
	Invoke(fn mem.Address, sig Signature, args ...any) (Value, error)
}

// Callback is a Go function standing in for native code. args holds the arguments in
// declaration order, the returned value is handed back to the native caller.
type Callback func(args []Value) Value
