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

package proc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfBase(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	base, err := Self().Base()
	require.NoError(t, err)
	assert.False(t, base.IsNull())

	mod, err := Self().Module(filepath.Base(exe))
	require.NoError(t, err)
	assert.Equal(t, base, mod)
}

func TestSelfModuleNotLoaded(t *testing.T) {
	_, err := Self().Module("libcocos2d.dll")
	assert.ErrorIs(t, err, ErrModuleNotLoaded)

	_, err = Self().Symbol("libcocos2d.dll", "?sharedDirector@CCDirector@cocos2d@@SAPAV12@XZ")
	assert.ErrorIs(t, err, ErrModuleNotLoaded)
}

func TestSelfSymbol(t *testing.T) {
	if _, err := Self().Module("libc.so.6"); err != nil {
		t.Skip("libc is not mapped into the test binary")
	}

	addr, err := Self().Symbol("libc.so.6", "strlen")
	require.NoError(t, err)
	assert.False(t, addr.IsNull())

	_, err = Self().Symbol("libc.so.6", "no_such_function_in_libc")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}
