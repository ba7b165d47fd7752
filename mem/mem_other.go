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

//go:build !linux && !windows

package mem

type systemProtector struct{}

var System Protector = systemProtector{}

func (systemProtector) Query(Address) (Prot, error) {
	return 0, ErrUnsupported
}

func (systemProtector) Unprotect(Address, int) (func() error, error) {
	return nil, ErrUnsupported
}

func AllocExec(Address, int) (Address, error) {
	return 0, ErrUnsupported
}

func FreeExec(Address, int) error {
	return ErrUnsupported
}

func flushICache(Address, int) {}
