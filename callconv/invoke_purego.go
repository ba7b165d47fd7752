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

//go:build (linux || darwin || freebsd || windows) && (amd64 || arm64)

package callconv

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/qrdl/gdbridge/mem"
)

const maxArgs = 15

type funcKey struct {
	fn  mem.Address
	sig string
}

// native calls through purego. 64-bit hosts have a single calling convention, so the
// convention tag of a signature is ignored here.
type native struct {
	mu    sync.Mutex
	funcs map[funcKey]reflect.Value
}

var nativeInvoker = &native{funcs: map[funcKey]reflect.Value{}}

// NativeInvoker returns the invoker for the current platform.
func NativeInvoker() Invoker {
	return nativeInvoker
}

func (n *native) Invoke(fn mem.Address, sig Signature, args ...any) (Value, error) {
	vals, err := encodeAll(sig, args)
	if err != nil {
		return Value{}, err
	}
	f, err := n.lookup(fn, sig)
	if err != nil {
		return Value{}, err
	}

	in := make([]reflect.Value, len(vals))
	for i, v := range vals {
		in[i] = goValue(sig.Params[i], v)
	}
	out := f.Call(in)
	if len(out) == 0 {
		return Value{}, nil
	}
	return fromGo(out[0]), nil
}

func (n *native) lookup(fn mem.Address, sig Signature) (reflect.Value, error) {
	if len(sig.Params) > maxArgs {
		return reflect.Value{}, fmt.Errorf("%w: %v has more than %d parameters", ErrUnsupported, sig, maxArgs)
	}
	key := funcKey{fn: fn, sig: sig.String()}

	n.mu.Lock()
	defer n.mu.Unlock()

	if f, ok := n.funcs[key]; ok {
		return f, nil
	}
	ptr := reflect.New(funcType(sig, false))
	purego.RegisterFunc(ptr.Interface(), uintptr(fn))
	n.funcs[key] = ptr.Elem()

	return ptr.Elem(), nil
}

var goTypes = map[Kind]reflect.Type{
	Ptr:     reflect.TypeOf(uintptr(0)),
	Int32:   reflect.TypeOf(int32(0)),
	Uint32:  reflect.TypeOf(uint32(0)),
	Bool:    reflect.TypeOf(false),
	Float32: reflect.TypeOf(float32(0)),
	Float64: reflect.TypeOf(float64(0)),
}

// funcType builds the Go function type purego binds native code to. Callbacks always
// return a uintptr, as the runtime requires a single word-sized result.
func funcType(sig Signature, callback bool) reflect.Type {
	in := make([]reflect.Type, len(sig.Params))
	for i, k := range sig.Params {
		in[i] = goTypes[k]
	}
	var out []reflect.Type
	switch {
	case callback:
		out = []reflect.Type{goTypes[Ptr]}
	case sig.Result != Void:
		out = []reflect.Type{goTypes[sig.Result]}
	}
	return reflect.FuncOf(in, out, false)
}

func goValue(k Kind, v Value) reflect.Value {
	switch k {
	case Int32:
		return reflect.ValueOf(v.Int32())
	case Uint32:
		return reflect.ValueOf(v.Uint32())
	case Bool:
		return reflect.ValueOf(v.Bool())
	case Float32:
		return reflect.ValueOf(v.Float32())
	case Float64:
		return reflect.ValueOf(v.Float64())
	}
	return reflect.ValueOf(v.Uintptr())
}

func fromGo(v reflect.Value) Value {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return Value{Bits: 1}
		}
		return Value{}
	case reflect.Int32:
		return Value{Bits: uint64(uint32(v.Int()))}
	case reflect.Float32:
		return Float32Value(float32(v.Float()))
	case reflect.Float64:
		return Float64Value(v.Float())
	}
	return Value{Bits: v.Uint()}
}

/*
NewCallback returns a native entry point that runs fn. Float results are rejected
everywhere, float parameters are rejected on Windows where the runtime only spills
integer registers for callbacks.
*/
func NewCallback(sig Signature, fn Callback) (mem.Address, error) {
	if sig.Result.IsFloat() {
		return 0, fmt.Errorf("%w: callback %v returns a float", ErrUnsupported, sig)
	}
	if len(sig.Params) > maxArgs {
		return 0, fmt.Errorf("%w: %v has more than %d parameters", ErrUnsupported, sig, maxArgs)
	}
	if runtime.GOOS == "windows" {
		for _, k := range sig.Params {
			if k.IsFloat() {
				return 0, fmt.Errorf("%w: callback %v takes a float", ErrUnsupported, sig)
			}
		}
	}

	impl := reflect.MakeFunc(funcType(sig, true), func(in []reflect.Value) []reflect.Value {
		args := make([]Value, len(in))
		for i, v := range in {
			args[i] = fromGo(v)
		}
		return []reflect.Value{reflect.ValueOf(fn(args).Uintptr())}
	})
	return mem.Address(purego.NewCallback(impl.Interface())), nil
}
