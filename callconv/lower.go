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

package callconv

import "fmt"

// Location says where a 32-bit x86 caller puts a parameter.
type Location uint8

const (
	OnStack Location = iota
	InECX
	InEDX
)

// Slot is the place of one parameter. Word indexes Frame.Stack for stack parameters.
type Slot struct {
	Loc   Location
	Word  int
	Words int
}

/*
Frame is the machine state a 32-bit x86 caller sets up right before the call
instruction. Stack is in memory order, Stack[0] ends up at [ESP], so a caller pushes
it from the last word to the first.
*/
type Frame struct {
	ECX, EDX       uint32
	UseECX, UseEDX bool
	Stack          []uint32
	CalleeCleans   bool
	FloatResult    bool
}

/*
Layout assigns every parameter of sig to a register or to stack words following the
32-bit MSVC rules:

  - cdecl and stdcall pass everything on the stack, right to left;
  - thiscall passes the first parameter (the receiver) in ECX;
  - fastcall passes the first two parameters that fit a DWORD and are not floats in
    ECX and EDX, in order of appearance.

Float64 parameters take two stack words, low half first. Native is treated as cdecl.
*/
func Layout(sig Signature) (slots []Slot, stackWords int, err error) {
	regs := []Location{}
	switch sig.Conv {
	case Thiscall:
		if len(sig.Params) == 0 || sig.Params[0].IsFloat() {
			return nil, 0, fmt.Errorf("%w %v: thiscall needs an integer receiver", ErrSignature, sig)
		}
		regs = []Location{InECX}
	case Fastcall:
		regs = []Location{InECX, InEDX}
	case Cdecl, Stdcall, Native:
	default:
		return nil, 0, fmt.Errorf("%w: unknown convention %v", ErrSignature, sig.Conv)
	}

	slots = make([]Slot, len(sig.Params))
	for i, k := range sig.Params {
		if len(regs) > 0 && !k.IsFloat() {
			slots[i] = Slot{Loc: regs[0]}
			regs = regs[1:]
			continue
		}
		words := 1
		if k == Float64 {
			words = 2
		}
		slots[i] = Slot{Loc: OnStack, Word: stackWords, Words: words}
		stackWords += words
	}
	return slots, stackWords, nil
}

// Lower lays out args for a 32-bit x86 call through sig.
func Lower(sig Signature, args ...any) (Frame, error) {
	vals, err := encodeAll(sig, args)
	if err != nil {
		return Frame{}, err
	}
	slots, words, err := Layout(sig)
	if err != nil {
		return Frame{}, err
	}

	f := Frame{
		Stack:        make([]uint32, words),
		CalleeCleans: sig.Conv == Stdcall || sig.Conv == Thiscall || sig.Conv == Fastcall,
		FloatResult:  sig.Result.IsFloat(),
	}
	for i, s := range slots {
		v := vals[i]
		if sig.Params[i] == Float32 {
			v = Float32Value(v.Float32())
		}
		switch s.Loc {
		case InECX:
			f.ECX, f.UseECX = uint32(v.Bits), true
		case InEDX:
			f.EDX, f.UseEDX = uint32(v.Bits), true
		case OnStack:
			f.Stack[s.Word] = uint32(v.Bits)
			if s.Words == 2 {
				f.Stack[s.Word+1] = uint32(v.Bits >> 32)
			}
		}
	}
	return f, nil
}

// Collect is the reverse of Lower: it rebuilds the arguments of a call through sig
// from the registers and stack words a 32-bit x86 caller left behind.
func Collect(sig Signature, ecx, edx uint32, stack []uint32) ([]Value, error) {
	slots, words, err := Layout(sig)
	if err != nil {
		return nil, err
	}
	if len(stack) < words {
		return nil, fmt.Errorf("%w: %v needs %d stack words, got %d", ErrArgument, sig, words, len(stack))
	}

	vals := make([]Value, len(slots))
	for i, s := range slots {
		switch s.Loc {
		case InECX:
			vals[i] = Value{Bits: uint64(ecx)}
		case InEDX:
			vals[i] = Value{Bits: uint64(edx)}
		case OnStack:
			vals[i] = Value{Bits: uint64(stack[s.Word])}
			if s.Words == 2 {
				vals[i].Bits |= uint64(stack[s.Word+1]) << 32
			}
		}
	}
	return vals, nil
}

// result32 builds the return value of a 32-bit x86 call. Integers come back in EAX,
// floats in ST0.
func result32(k Kind, eax uint32, st0 float64) Value {
	switch k {
	case Void:
		return Value{}
	case Float32:
		return Float32Value(float32(st0))
	case Float64:
		return Float64Value(st0)
	case Bool:
		return Value{Bits: uint64(uint8(eax))}
	}
	return Value{Bits: uint64(eax)}
}
