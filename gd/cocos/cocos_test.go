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

package cocos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrdl/gdbridge/callconv"
	"github.com/qrdl/gdbridge/handle"
	"github.com/qrdl/gdbridge/hook"
	"github.com/qrdl/gdbridge/mem"
	"github.com/qrdl/gdbridge/proc"
)

const module = "libcocos2d.dll"

const (
	sharedDirector    = mem.Address(0x10001000)
	animInterval      = mem.Address(0x10001100)
	getScheduler      = mem.Address(0x10001200)
	sharedApplication = mem.Address(0x10002000)
	setAnimInterval   = mem.Address(0x10002100)
	getTimeScale      = mem.Address(0x10003000)
	setTimeScale      = mem.Address(0x10003100)
)

type call struct {
	fn   mem.Address
	sig  callconv.Signature
	args []any
}

type fakeInvoker struct {
	results map[mem.Address]callconv.Value
	calls   []call
}

func (f *fakeInvoker) Invoke(fn mem.Address, sig callconv.Signature, args ...any) (callconv.Value, error) {
	f.calls = append(f.calls, call{fn, sig, args})
	return f.results[fn], nil
}

func method[C any](name, sig string, placeholder bool) handle.Method[C] {
	return handle.Method[C]{
		Func:        handle.Func{Target: hook.Symbol(module, name), Sig: callconv.MustParse(sig)},
		Placeholder: placeholder,
	}
}

func testLayout() *Layout {
	return &Layout{
		SharedDirector:       handle.Func{Target: hook.Symbol(module, "sharedDirector"), Sig: callconv.MustParse("cdecl() ptr")},
		GetAnimationInterval: method[DirectorClass]("getAnimationInterval", "thiscall(ptr) f64", false),
		GetScheduler:         method[DirectorClass]("getScheduler", "thiscall(ptr) ptr", false),
		SharedApplication:    handle.Func{Target: hook.Symbol(module, "sharedApplication"), Sig: callconv.MustParse("cdecl() ptr")},
		SetAnimationInterval: method[ApplicationClass]("setAnimationInterval", "fastcall(ptr, ptr, f64)", true),
		GetTimeScale:         method[SchedulerClass]("getTimeScale", "thiscall(ptr) f32", false),
		SetTimeScale:         method[SchedulerClass]("setTimeScale", "thiscall(ptr, f32)", false),
	}
}

func newRuntime(loaded bool) (*Runtime, *fakeInvoker) {
	inv := &fakeInvoker{results: map[mem.Address]callconv.Value{}}
	res := &proc.Static{BaseAddr: 0x400000}
	if loaded {
		res.Modules = map[string]mem.Address{module: 0x10000000}
		res.Symbols = map[string]map[string]mem.Address{module: {
			"sharedDirector":       sharedDirector,
			"getAnimationInterval": animInterval,
			"getScheduler":         getScheduler,
			"sharedApplication":    sharedApplication,
			"setAnimationInterval": setAnimInterval,
			"getTimeScale":         getTimeScale,
			"setTimeScale":         setTimeScale,
		}}
	}
	env := &handle.Env{Mem: mem.NewBuffer(0, 0), Calls: inv, Resolver: res}
	return New(env, testLayout()), inv
}

func TestDirector(t *testing.T) {
	rt, inv := newRuntime(true)
	inv.results[sharedDirector] = callconv.AddressValue(0x2000)
	inv.results[animInterval] = callconv.Float64Value(1.0 / 60)
	inv.results[getScheduler] = callconv.AddressValue(0x3000)
	inv.results[getTimeScale] = callconv.Float32Value(0.5)

	d, err := rt.Director()
	require.NoError(t, err)
	d, ok := d.Option()
	require.True(t, ok)

	interval, err := d.AnimationInterval()
	require.NoError(t, err)
	assert.Equal(t, 1.0/60, interval)

	s, err := d.Scheduler()
	require.NoError(t, err)
	assert.Equal(t, mem.Address(0x3000), s.Ptr())

	scale, err := s.TimeScale()
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), scale)
	require.NoError(t, s.SetTimeScale(2))

	last := inv.calls[len(inv.calls)-1]
	assert.Equal(t, setTimeScale, last.fn)
	assert.Equal(t, []any{mem.Address(0x3000), float32(2)}, last.args)
}

func TestApplication(t *testing.T) {
	rt, inv := newRuntime(true)
	inv.results[sharedApplication] = callconv.AddressValue(0x4000)

	app, err := rt.Application()
	require.NoError(t, err)
	require.NoError(t, app.SetAnimationInterval(1.0/240))

	last := inv.calls[len(inv.calls)-1]
	assert.Equal(t, setAnimInterval, last.fn)
	assert.Equal(t, []any{mem.Address(0x4000), uintptr(0), 1.0 / 240}, last.args)
}

func TestEngineNotStarted(t *testing.T) {
	rt, _ := newRuntime(true)

	d, err := rt.Director()
	require.NoError(t, err)
	_, ok := d.Option()
	assert.False(t, ok)

	_, ok = rt.Scheduler(0).Option()
	assert.False(t, ok)
}

func TestModuleNotLoaded(t *testing.T) {
	rt, inv := newRuntime(false)

	_, err := rt.Director()
	assert.ErrorIs(t, err, proc.ErrModuleNotLoaded)
	_, err = rt.Application()
	assert.ErrorIs(t, err, proc.ErrModuleNotLoaded)
	assert.Empty(t, inv.calls)
}
