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
Package gd maps the objects of Geometry Dash 2.113 that mods usually need: the game
manager, the running level (PlayLayer) with its players, level settings, game objects
and the FMOD audio engine.

All offsets come from a [Layout], normally [DefaultLayout]. Wrappers returned by [Game]
are thin: every getter is one read of foreign memory at the address the wrapper holds,
with no caching and no validation. Singletons are null until the game has created
them, check with Option before use:

	g := gd.New(handle.Local(), gd.DefaultLayout())
	gm, err := g.GameManager()
	if err != nil {
		return err
	}
	if pl, ok := gm.PlayLayer().Option(); ok {
		log.Infof("attempt %d", pl.CurrentAttempt())
	}
*/
package gd

import (
	"github.com/qrdl/gdbridge/gd/cocos"
	"github.com/qrdl/gdbridge/handle"
	"github.com/qrdl/gdbridge/hook"
	"github.com/qrdl/gdbridge/mem"
)

// Game is the entry point to the objects of one game process.
type Game struct {
	env    *handle.Env
	layout *Layout
	prot   mem.Protector

	gameManager *handle.Singleton[GameManagerClass]
	audio       *handle.Singleton[FMODAudioEngineClass]

	Cocos *cocos.Runtime
}

type Option func(*Game)

// WithProtector sets what Patch uses to lift page protection, mem.System by default.
func WithProtector(p mem.Protector) Option {
	return func(g *Game) {
		g.prot = p
	}
}

func New(env *handle.Env, l *Layout, opts ...Option) *Game {
	g := &Game{
		env:         env,
		layout:      l,
		prot:        mem.System,
		gameManager: handle.NewSingleton[GameManagerClass](l.GameManager.Shared),
		audio:       handle.NewSingleton[FMODAudioEngineClass](l.FMODAudioEngine.Shared),
		Cocos:       cocos.New(env, &l.Cocos),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Game) Env() *handle.Env {
	return g.env
}

func (g *Game) Layout() *Layout {
	return g.layout
}

// GameManager returns GameManager::sharedState().
func (g *Game) GameManager() (GameManager, error) {
	h, err := g.gameManager.Shared(g.env)
	return GameManager{h, g}, err
}

// AudioEngine returns FMODAudioEngine::sharedEngine().
func (g *Game) AudioEngine() (FMODAudioEngine, error) {
	h, err := g.audio.Shared(g.env)
	return FMODAudioEngine{h, &g.layout.FMODAudioEngine}, err
}

// PlayLayer wraps addr, typically the receiver seen by a hook.
func (g *Game) PlayLayer(addr mem.Address) PlayLayer {
	return PlayLayer{handle.From[PlayLayerClass](g.env, addr), g}
}

func (g *Game) PlayerObject(addr mem.Address) PlayerObject {
	return PlayerObject{handle.From[PlayerObjectClass](g.env, addr), &g.layout.PlayerObject}
}

func (g *Game) GameObject(addr mem.Address) GameObject {
	return GameObject{handle.From[GameObjectClass](g.env, addr), &g.layout.GameObject}
}

// Patch overwrites code or read-only data at t with data.
func (g *Game) Patch(t hook.Target, data []byte) error {
	addr, err := t.Resolve(g.env.Resolver)
	if err != nil {
		return err
	}
	return mem.WriteProtected(g.env.Mem, g.prot, addr, data)
}
