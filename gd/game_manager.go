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

package gd

import (
	"errors"
	"runtime"
	"strings"

	"github.com/qrdl/gdbridge/handle"
	"github.com/qrdl/gdbridge/mem"
)

var ErrBadKey = errors.New("game variable key contains NUL")

// GameManager is the global game state: settings, current layers, account.
type GameManager struct {
	handle.Handle[GameManagerClass]
	g *Game
}

func (m GameManager) Option() (GameManager, bool) {
	return m, !m.IsNull()
}

// PlayLayer is the level being played, null outside of a level.
func (m GameManager) PlayLayer() PlayLayer {
	return PlayLayer{m.g.layout.GameManager.PlayLayer.Get(m.Handle), m.g}
}

// EditorLayer is the level editor, null outside of it. Its layout is not mapped.
func (m GameManager) EditorLayer() handle.Handle[EditorLayerClass] {
	return m.g.layout.GameManager.EditorLayer.Get(m.Handle)
}

// UserName is the name of the logged in account, empty if there is none.
func (m GameManager) UserName() (string, error) {
	return m.g.layout.GameManager.UserName.Get(m.Handle)
}

// GameVariable reads one of the numbered boolean options, e.g. "0024".
func (m GameManager) GameVariable(key string) (bool, error) {
	if strings.IndexByte(key, 0) >= 0 {
		return false, ErrBadKey
	}
	cstr := append([]byte(key), 0)
	v, err := m.g.layout.GameManager.GetGameVariable.Call(m.Handle, mem.AddressOf(cstr))
	runtime.KeepAlive(cstr)
	return v.Bool(), err
}
