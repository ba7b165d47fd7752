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

package main

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qrdl/gdbridge/attach"
	"github.com/qrdl/gdbridge/callconv"
	"github.com/qrdl/gdbridge/gd"
	"github.com/qrdl/gdbridge/handle"
	"github.com/qrdl/gdbridge/hook"
)

const hookUpdate hook.ID = "PlayLayer::update"

// bridge watches the running level through a hook on PlayLayer::update and reports
// attempts and deaths to the log.
type bridge struct {
	log   *logrus.Entry
	game  *gd.Game
	hooks *hook.Registry

	mu      sync.Mutex
	attempt int32
	dead    bool
}

// run loads the offsets and installs the hooks. Hooks are only enabled if ctx is
// still live at that point.
func run(ctx context.Context, log *logrus.Entry, cfg attach.Config, env *handle.Env, icpt hook.Interceptor, opts ...hook.Option) (*bridge, error) {
	layout := gd.DefaultLayout()
	if cfg.Offsets != "" {
		var err error
		if layout, err = gd.LoadLayoutFile(cfg.Offsets); err != nil {
			return nil, err
		}
	}
	log.WithField("build", layout.Build).Info("offsets loaded")

	opts = append([]hook.Option{
		hook.WithInvoker(env.Calls),
		hook.WithLogger(log.WithField("component", "hook")),
	}, opts...)
	b := &bridge{
		log:   log,
		game:  gd.New(env, layout),
		hooks: hook.NewRegistry(icpt, env.Resolver, opts...),
	}

	update := layout.PlayLayer.Update
	if err := b.hooks.CreateFunc(hookUpdate, update.Target, update.Sig, b.onUpdate); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		if rmErr := b.hooks.Remove(hookUpdate); rmErr != nil {
			log.WithError(rmErr).Error("cannot remove hook")
		}
		return nil, err
	}
	if err := b.hooks.EnableAll(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *bridge) onUpdate(args []callconv.Value) callconv.Value {
	b.observe(b.game.PlayLayer(args[0].Address()))

	orig := make([]any, len(args))
	for i, a := range args {
		orig[i] = a
	}
	res, err := b.hooks.CallOriginal(hookUpdate, orig...)
	if err != nil {
		b.log.WithError(err).Error("cannot call original PlayLayer::update")
	}
	return res
}

func (b *bridge) observe(pl gd.PlayLayer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if attempt := pl.CurrentAttempt(); attempt != b.attempt {
		b.attempt = attempt
		b.dead = false
		b.log.WithField("attempt", attempt).Info("attempt started")
	}

	dead := pl.IsDead()
	if dead && !b.dead {
		fields := logrus.Fields{"attempt": b.attempt, "time": pl.Time()}
		if length := pl.LevelLength(); length > 0 {
			fields["percent"] = int(pl.Player1().X() / length * 100)
		}
		b.log.WithFields(fields).Info("player died")
	}
	b.dead = dead
}

// shutdown deactivates the hooks. They stay installed: the trampolines may still be
// on the stack of a game thread.
func (b *bridge) shutdown() error {
	return b.hooks.DisableAll()
}
