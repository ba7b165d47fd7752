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

// Package cocos maps the parts of the bundled cocos2d-x runtime the game relies on.
// Everything is found by exported symbol, so the tables survive rebuilds of the game
// as long as libcocos2d.dll stays the same.
package cocos

import (
	"github.com/qrdl/gdbridge/handle"
	"github.com/qrdl/gdbridge/mem"
)

type (
	DirectorClass    struct{}
	ApplicationClass struct{}
	SchedulerClass   struct{}
)

// Layout lists the cocos2d entry points.
type Layout struct {
	SharedDirector       handle.Func                     `yaml:"shared_director"`
	GetAnimationInterval handle.Method[DirectorClass]    `yaml:"get_animation_interval"`
	GetScheduler         handle.Method[DirectorClass]    `yaml:"get_scheduler"`
	SharedApplication    handle.Func                     `yaml:"shared_application"`
	SetAnimationInterval handle.Method[ApplicationClass] `yaml:"set_animation_interval"`
	GetTimeScale         handle.Method[SchedulerClass]   `yaml:"get_time_scale"`
	SetTimeScale         handle.Method[SchedulerClass]   `yaml:"set_time_scale"`
}

// Runtime gives access to the cocos2d singletons of one process.
type Runtime struct {
	env    *handle.Env
	layout *Layout

	director *handle.Singleton[DirectorClass]
	app      *handle.Singleton[ApplicationClass]
}

func New(env *handle.Env, l *Layout) *Runtime {
	return &Runtime{
		env:      env,
		layout:   l,
		director: handle.NewSingleton[DirectorClass](l.SharedDirector),
		app:      handle.NewSingleton[ApplicationClass](l.SharedApplication),
	}
}

// Director returns CCDirector::sharedDirector(). It is null until the engine has
// started.
func (r *Runtime) Director() (Director, error) {
	h, err := r.director.Shared(r.env)
	return Director{h, r.layout}, err
}

// Application returns CCApplication::sharedApplication().
func (r *Runtime) Application() (Application, error) {
	h, err := r.app.Shared(r.env)
	return Application{h, r.layout}, err
}

// Scheduler wraps a CCScheduler found elsewhere, e.g. in hook arguments.
func (r *Runtime) Scheduler(addr mem.Address) Scheduler {
	return Scheduler{handle.From[SchedulerClass](r.env, addr), r.layout}
}

type Director struct {
	handle.Handle[DirectorClass]
	layout *Layout
}

func (d Director) Option() (Director, bool) {
	return d, !d.IsNull()
}

// AnimationInterval is the target frame time in seconds.
func (d Director) AnimationInterval() (float64, error) {
	v, err := d.layout.GetAnimationInterval.Call(d.Handle)
	return v.Float64(), err
}

func (d Director) Scheduler() (Scheduler, error) {
	v, err := d.layout.GetScheduler.Call(d.Handle)
	return Scheduler{handle.From[SchedulerClass](d.Env(), v.Address()), d.layout}, err
}

type Application struct {
	handle.Handle[ApplicationClass]
	layout *Layout
}

func (a Application) Option() (Application, bool) {
	return a, !a.IsNull()
}

// SetAnimationInterval changes the target frame time, e.g. 1.0/240 for 240 FPS.
func (a Application) SetAnimationInterval(interval float64) error {
	_, err := a.layout.SetAnimationInterval.Call(a.Handle, interval)
	return err
}

type Scheduler struct {
	handle.Handle[SchedulerClass]
	layout *Layout
}

func (s Scheduler) Option() (Scheduler, bool) {
	return s, !s.IsNull()
}

// TimeScale is the speed multiplier applied to every scheduled update.
func (s Scheduler) TimeScale() (float32, error) {
	v, err := s.layout.GetTimeScale.Call(s.Handle)
	return v.Float32(), err
}

func (s Scheduler) SetTimeScale(scale float32) error {
	_, err := s.layout.SetTimeScale.Call(s.Handle, scale)
	return err
}
