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

//go:build windows && 386

package callconv

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/qrdl/gdbridge/mem"
)

// callThunk is a stdcall function taking a *thunkCtx. It pushes the stack words,
// loads ECX and EDX, calls ctx.fn and stores EAX, EDX and (if asked) ST0 back into the
// context. ESP is restored from EBP, so both caller- and callee-cleaned targets work.
var callThunk = []byte{
	0x55,             // push ebp
	0x89, 0xE5,       // mov ebp, esp
	0x53,             // push ebx
	0x56,             // push esi
	0x57,             // push edi
	0x8B, 0x5D, 0x08, // mov ebx, [ebp+8]
	0x8B, 0x4B, 0x0C, // mov ecx, [ebx+12]
	0x8B, 0x73, 0x10, // mov esi, [ebx+16]
	0x85, 0xC9, // test ecx, ecx
	0x74, 0x07, // jz +7
	0xFF, 0x74, 0x8E, 0xFC, // push dword [esi+ecx*4-4]
	0x49,       // dec ecx
	0x75, 0xF9, // jnz -7
	0x8B, 0x4B, 0x04, // mov ecx, [ebx+4]
	0x8B, 0x53, 0x08, // mov edx, [ebx+8]
	0xFF, 0x13, // call [ebx]
	0x89, 0x43, 0x14, // mov [ebx+20], eax
	0x89, 0x53, 0x18, // mov [ebx+24], edx
	0x83, 0x7B, 0x24, 0x00, // cmp dword [ebx+36], 0
	0x74, 0x03, // je +3
	0xDD, 0x5B, 0x1C, // fstp qword [ebx+28]
	0x8D, 0x65, 0xF4, // lea esp, [ebp-12]
	0x5F,             // pop edi
	0x5E,             // pop esi
	0x5B,             // pop ebx
	0x5D,             // pop ebp
	0xC2, 0x04, 0x00, // ret 4
}

type thunkCtx struct {
	fn     uint32
	ecx    uint32
	edx    uint32
	nstack uint32
	stack  uint32
	eax    uint32
	edxOut uint32
	st0    float64
	float  uint32
}

var (
	thunkOnce sync.Once
	thunkAddr mem.Address
	thunkErr  error
)

func loadThunk() (mem.Address, error) {
	thunkOnce.Do(func() {
		thunkAddr, thunkErr = mem.AllocExec(0, len(callThunk))
		if thunkErr == nil {
			mem.Local.Write(thunkAddr, callThunk)
		}
	})
	return thunkAddr, thunkErr
}

type native struct{}

// NativeInvoker returns the invoker for the current platform.
func NativeInvoker() Invoker {
	return native{}
}

func (native) Invoke(fn mem.Address, sig Signature, args ...any) (Value, error) {
	f, err := Lower(sig, args...)
	if err != nil {
		return Value{}, err
	}
	thunk, err := loadThunk()
	if err != nil {
		return Value{}, err
	}

	ctx := &thunkCtx{fn: uint32(fn), ecx: f.ECX, edx: f.EDX, nstack: uint32(len(f.Stack))}
	if len(f.Stack) > 0 {
		ctx.stack = uint32(uintptr(unsafe.Pointer(&f.Stack[0])))
	}
	if f.FloatResult {
		ctx.float = 1
	}
	syscall.SyscallN(uintptr(thunk), uintptr(unsafe.Pointer(ctx)))
	runtime.KeepAlive(f.Stack)

	return result32(sig.Result, ctx.eax, ctx.st0), nil
}

// Register spilling adapters turning fastcall and thiscall entries into stdcall ones:
// the return address is popped, the register arguments are pushed in front of the
// stack ones and control goes to the stdcall callback, which pops them all on return.
var (
	fastcallAdapter = []byte{0x58, 0x52, 0x51, 0x50, 0x68, 0, 0, 0, 0, 0xC3} // pop eax; push edx; push ecx; push eax; push cb; ret
	thiscallAdapter = []byte{0x58, 0x51, 0x50, 0x68, 0, 0, 0, 0, 0xC3}       // pop eax; push ecx; push eax; push cb; ret
)

const adapterSlot = 16

var adapters struct {
	sync.Mutex
	page mem.Address
	used int
}

func newAdapter(code []byte, cb uintptr) (mem.Address, error) {
	adapters.Lock()
	defer adapters.Unlock()

	const pageSize = 4096
	if adapters.page == 0 || adapters.used+adapterSlot > pageSize {
		p, err := mem.AllocExec(0, pageSize)
		if err != nil {
			return 0, err
		}
		adapters.page, adapters.used = p, 0
	}

	buf := append([]byte(nil), code...)
	binary.LittleEndian.PutUint32(buf[len(buf)-5:], uint32(cb))
	addr := adapters.page.Add(adapters.used)
	mem.Local.Write(addr, buf)
	adapters.used += adapterSlot

	return addr, nil
}

var uintptrType = reflect.TypeOf(uintptr(0))

/*
NewCallback returns a native entry point with the calling convention of sig that runs
fn. Float results cannot be handed back through ST0 and are rejected.
*/
func NewCallback(sig Signature, fn Callback) (mem.Address, error) {
	if sig.Result.IsFloat() {
		return 0, fmt.Errorf("%w: callback %v returns a float", ErrUnsupported, sig)
	}
	_, words, err := Layout(sig)
	if err != nil {
		return 0, err
	}

	regs := 0
	switch sig.Conv {
	case Fastcall:
		regs = 2
	case Thiscall:
		regs = 1
	}

	in := make([]reflect.Type, regs+words)
	for i := range in {
		in[i] = uintptrType
	}
	typ := reflect.FuncOf(in, []reflect.Type{uintptrType}, false)
	impl := reflect.MakeFunc(typ, func(raw []reflect.Value) []reflect.Value {
		words := make([]uint32, len(raw))
		for i, r := range raw {
			words[i] = uint32(r.Uint())
		}
		var ecx, edx uint32
		switch regs {
		case 2:
			ecx, edx = words[0], words[1]
		case 1:
			ecx = words[0]
		}
		args, err := Collect(sig, ecx, edx, words[regs:])
		if err != nil {
			panic(err)
		}
		return []reflect.Value{reflect.ValueOf(fn(args).Uintptr())}
	}).Interface()

	switch sig.Conv {
	case Cdecl, Native:
		return mem.Address(windows.NewCallbackCDecl(impl)), nil
	case Stdcall:
		return mem.Address(windows.NewCallback(impl)), nil
	case Fastcall:
		return newAdapter(fastcallAdapter, windows.NewCallback(impl))
	case Thiscall:
		return newAdapter(thiscallAdapter, windows.NewCallback(impl))
	}
	return 0, fmt.Errorf("%w: unknown convention %v", ErrSignature, sig.Conv)
}
