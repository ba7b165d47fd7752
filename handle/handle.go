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
Package handle gives typed access to objects living in foreign memory.

A [Handle] is an address tagged with a class C. It owns nothing and checks nothing:
the class only decides which descriptors can be applied to it. Descriptors are plain
data (offset and value type, or target and signature), so the layout of a class is a
table that can be loaded from configuration and consumed by the generic getters and
setters below.

None of the operations validate the address. Reading a field of a null or dangling
handle, or through a descriptor with a wrong offset or type, is undefined behaviour
of the host process: expect a crash or silent corruption, not an error. Check
[Handle.IsNull] (or use [Handle.Option]) before touching a handle you did not just
obtain from a live object.
*/
package handle

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/qrdl/gdbridge/callconv"
	"github.com/qrdl/gdbridge/hook"
	"github.com/qrdl/gdbridge/mem"
	"github.com/qrdl/gdbridge/proc"
)

// Env is what handles use to reach the host process.
type Env struct {
	Mem      mem.Region
	Calls    callconv.Invoker
	Resolver proc.Resolver
}

// Local returns an Env for the current process.
func Local() *Env {
	return &Env{
		Mem:      mem.Local,
		Calls:    callconv.NativeInvoker(),
		Resolver: proc.Self(),
	}
}

// Handle is the address of an object of class C.
type Handle[C any] struct {
	env  *Env
	addr mem.Address
}

// From wraps addr. It never fails and never looks at the memory.
func From[C any](env *Env, addr mem.Address) Handle[C] {
	return Handle[C]{env: env, addr: addr}
}

func (h Handle[C]) Ptr() mem.Address {
	return h.addr
}

func (h Handle[C]) IsNull() bool {
	return h.addr == 0
}

// Option returns h and true for a non-null handle, the zero handle and false otherwise.
func (h Handle[C]) Option() (Handle[C], bool) {
	if h.IsNull() {
		return Handle[C]{}, false
	}
	return h, true
}

func (h Handle[C]) Env() *Env {
	return h.env
}

func (h Handle[C]) String() string {
	var c C
	return fmt.Sprintf("%T@%v", c, h.addr)
}

// Field describes a value of type T stored at Offset inside objects of class C.
type Field[C any, T mem.Scalar] struct {
	Offset uintptr
}

// At builds a field descriptor.
func At[C any, T mem.Scalar](offset uintptr) Field[C, T] {
	return Field[C, T]{Offset: offset}
}

// Addr returns the address of the field in h.
func (f Field[C, T]) Addr(h Handle[C]) mem.Address {
	return h.addr + mem.Address(f.Offset)
}

func (f Field[C, T]) Get(h Handle[C]) T {
	return mem.Read[T](h.env.Mem, f.Addr(h))
}

func (f Field[C, T]) Set(h Handle[C], v T) {
	mem.Write(h.env.Mem, f.Addr(h), v)
}

// UnmarshalText reads the offset, decimal or 0x-prefixed hex.
func (f *Field[C, T]) UnmarshalText(text []byte) error {
	return parseOffset(text, &f.Offset)
}

// PtrField describes a pointer to an object of class P stored inside objects of class C.
type PtrField[C, P any] struct {
	Offset uintptr
}

// PtrAt builds a pointer field descriptor.
func PtrAt[C, P any](offset uintptr) PtrField[C, P] {
	return PtrField[C, P]{Offset: offset}
}

// Get follows the pointer. The child handle starts at the pointed-to address, its
// own field offsets are unrelated to the parent's.
func (f PtrField[C, P]) Get(h Handle[C]) Handle[P] {
	return From[P](h.env, mem.ReadAddress(h.env.Mem, h.addr+mem.Address(f.Offset)))
}

func (f PtrField[C, P]) Set(h Handle[C], child Handle[P]) {
	mem.Write(h.env.Mem, h.addr+mem.Address(f.Offset), child.addr)
}

func (f *PtrField[C, P]) UnmarshalText(text []byte) error {
	return parseOffset(text, &f.Offset)
}

// StringField describes a pointer to a NUL-terminated string inside objects of class C.
type StringField[C any] struct {
	Offset uintptr
}

// Get reads the string. A null pointer reads as the empty string, invalid UTF-8 is
// reported as mem.ErrInvalidUTF8.
func (f StringField[C]) Get(h Handle[C]) (string, error) {
	p := mem.ReadAddress(h.env.Mem, h.addr+mem.Address(f.Offset))
	if p.IsNull() {
		return "", nil
	}
	return mem.CString(h.env.Mem, p)
}

func (f *StringField[C]) UnmarshalText(text []byte) error {
	return parseOffset(text, &f.Offset)
}

func parseOffset(text []byte, off *uintptr) error {
	v, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return fmt.Errorf("bad offset %q: %w", text, err)
	}
	*off = uintptr(v)
	return nil
}

// Func describes a foreign function: where it is and how to call it.
type Func struct {
	Target hook.Target
	Sig    callconv.Signature
}

// Addr resolves the function.
func (f Func) Addr(env *Env) (mem.Address, error) {
	return f.Target.Resolve(env.Resolver)
}

// Call invokes the function with args as declared by its signature.
func (f Func) Call(env *Env, args ...any) (callconv.Value, error) {
	fn, err := f.Addr(env)
	if err != nil {
		return callconv.Value{}, err
	}
	return env.Calls.Invoke(fn, f.Sig, args...)
}

/*
Method is a function taking an object of class C as its first argument. Compilers
approximating thiscall with fastcall expect a dummy second argument in EDX; with
Placeholder set, Call inserts it, and the signature must declare it.
*/
type Method[C any] struct {
	Func
	Placeholder bool
}

// Call invokes the method on h.
func (m Method[C]) Call(h Handle[C], args ...any) (callconv.Value, error) {
	full := make([]any, 0, len(args)+2)
	full = append(full, h.addr)
	if m.Placeholder {
		full = append(full, uintptr(0))
	}
	full = append(full, args...)
	return m.Func.Call(h.env, full...)
}

/*
Singleton is the accessor of a process-wide object of class C, like a "shared
instance" getter. The host creates such objects during its own start-up, so calling
the accessor too early returns null; null is not an error and is not cached. The first
non-null result is cached per Env.
*/
type Singleton[C any] struct {
	Func Func

	mu    sync.Mutex
	cache map[*Env]mem.Address
}

// NewSingleton declares a singleton accessor.
func NewSingleton[C any](f Func) *Singleton[C] {
	return &Singleton[C]{Func: f}
}

// Shared returns the singleton. An accessor that cannot be resolved is an error.
func (s *Singleton[C]) Shared(env *Env) (Handle[C], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr, ok := s.cache[env]; ok {
		return From[C](env, addr), nil
	}
	res, err := s.Func.Call(env)
	if err != nil {
		return Handle[C]{}, err
	}
	h := From[C](env, res.Address())
	if !h.IsNull() {
		if s.cache == nil {
			s.cache = map[*Env]mem.Address{}
		}
		s.cache[env] = h.addr
	}
	return h, nil
}

// MustShared is like Shared but panics when the accessor cannot be resolved.
func (s *Singleton[C]) MustShared(env *Env) Handle[C] {
	h, err := s.Shared(env)
	if err != nil {
		panic(fmt.Errorf("singleton %T: %w", *new(C), err))
	}
	return h
}

// Reset forgets cached instances, for hosts that tear singletons down.
func (s *Singleton[C]) Reset() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}
