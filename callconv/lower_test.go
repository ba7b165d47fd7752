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

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLower(t *testing.T) {
	f64 := math.Float64bits(1.0 / 60)
	tests := []struct {
		name string
		sig  string
		args []any
		want Frame
	}{
		{
			name: "stdcall singleton accessor",
			sig:  "stdcall() ptr",
			want: Frame{Stack: []uint32{}, CalleeCleans: true},
		},
		{
			name: "cdecl method returning double",
			sig:  "cdecl(ptr) f64",
			args: []any{uintptr(0x1000)},
			want: Frame{Stack: []uint32{0x1000}, FloatResult: true},
		},
		{
			name: "thiscall receiver in ECX",
			sig:  "thiscall(ptr, f32) f32",
			args: []any{uintptr(0x2000), float32(1)},
			want: Frame{
				ECX: 0x2000, UseECX: true,
				Stack:        []uint32{math.Float32bits(1)},
				CalleeCleans: true,
				FloatResult:  true,
			},
		},
		{
			name: "fastcall with placeholder EDX and a double",
			sig:  "fastcall(ptr, ptr, f64)",
			args: []any{uintptr(0x3000), uintptr(0), 1.0 / 60},
			want: Frame{
				ECX: 0x3000, UseECX: true,
				EDX: 0, UseEDX: true,
				Stack:        []uint32{uint32(f64), uint32(f64 >> 32)},
				CalleeCleans: true,
			},
		},
		{
			name: "fastcall skips floats when filling registers",
			sig:  "fastcall(f32, ptr, i32, u32) bool",
			args: []any{float32(2), uintptr(0x10), int32(-2), uint32(9)},
			want: Frame{
				ECX: 0x10, UseECX: true,
				EDX: 0xFFFFFFFE, UseEDX: true,
				Stack:        []uint32{math.Float32bits(2), 9},
				CalleeCleans: true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Lower(MustParse(tt.sig), tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f)
		})
	}
}

func TestLowerFloat32FromFloat64(t *testing.T) {
	f, err := Lower(MustParse("stdcall(f32)"), 0.5)
	require.NoError(t, err)
	assert.Equal(t, []uint32{math.Float32bits(0.5)}, f.Stack)
}

func TestThiscallNeedsReceiver(t *testing.T) {
	_, _, err := Layout(MustParse("thiscall()"))
	assert.ErrorIs(t, err, ErrSignature)

	_, _, err = Layout(MustParse("thiscall(f32)"))
	assert.ErrorIs(t, err, ErrSignature)
}

func TestCollectIsInverse(t *testing.T) {
	for _, s := range []string{
		"thiscall(ptr, f32, i32)",
		"fastcall(ptr, ptr, f64, bool)",
		"fastcall(f64, ptr)",
		"cdecl(ptr, f64, u32)",
		"stdcall(f32)",
	} {
		sig := MustParse(s)
		args := make([]any, len(sig.Params))
		for i, k := range sig.Params {
			switch k {
			case Float32:
				args[i] = float32(i) + 0.5
			case Float64:
				args[i] = float64(i) + 0.25
			case Bool:
				args[i] = true
			default:
				args[i] = uintptr(0x100 + i)
			}
		}

		f, err := Lower(sig, args...)
		require.NoError(t, err, s)
		got, err := Collect(sig, f.ECX, f.EDX, f.Stack)
		require.NoError(t, err, s)

		want, err := encodeAll(sig, args)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
}

func TestCollectShortStack(t *testing.T) {
	_, err := Collect(MustParse("stdcall(f64)"), 0, 0, []uint32{1})
	assert.ErrorIs(t, err, ErrArgument)
}

func TestResult32(t *testing.T) {
	assert.Equal(t, Value{}, result32(Void, 7, 0))
	assert.Equal(t, uint32(0x4A8), result32(Ptr, 0x4A8, 0).Uint32())
	assert.False(t, result32(Bool, 0x100, 0).Bool())
	assert.Equal(t, float32(0.25), result32(Float32, 0, 0.25).Float32())
	assert.Equal(t, 1.0/60, result32(Float64, 0, 1.0/60).Float64())
}
