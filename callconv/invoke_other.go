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

//go:build !(windows && 386) && !((linux || darwin || freebsd || windows) && (amd64 || arm64))

package callconv

import "github.com/qrdl/gdbridge/mem"

type native struct{}

// NativeInvoker returns an invoker that refuses every call, as there is no way to call
// foreign code on this platform.
func NativeInvoker() Invoker {
	return native{}
}

func (native) Invoke(mem.Address, Signature, ...any) (Value, error) {
	return Value{}, ErrUnsupported
}

func NewCallback(Signature, Callback) (mem.Address, error) {
	return 0, ErrUnsupported
}
