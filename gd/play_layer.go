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
	"github.com/qrdl/gdbridge/handle"
	"github.com/qrdl/gdbridge/mem"
)

// PlayLayer is a level being played.
type PlayLayer struct {
	handle.Handle[PlayLayerClass]
	g *Game
}

// CreatePlayLayer builds a new PlayLayer for the GJGameLevel at level.
func (g *Game) CreatePlayLayer(level mem.Address) (PlayLayer, error) {
	v, err := g.layout.PlayLayer.Create.Call(g.env, level)
	return g.PlayLayer(v.Address()), err
}

func (p PlayLayer) Option() (PlayLayer, bool) {
	return p, !p.IsNull()
}

func (p PlayLayer) l() *PlayLayerLayout {
	return &p.g.layout.PlayLayer
}

func (p PlayLayer) Player1() PlayerObject {
	return PlayerObject{p.l().Player1.Get(p.Handle), &p.g.layout.PlayerObject}
}

func (p PlayLayer) Player2() PlayerObject {
	return PlayerObject{p.l().Player2.Get(p.Handle), &p.g.layout.PlayerObject}
}

func (p PlayLayer) SetPlayer1(o PlayerObject) { p.l().Player1.Set(p.Handle, o.Handle) }
func (p PlayLayer) SetPlayer2(o PlayerObject) { p.l().Player2.Set(p.Handle, o.Handle) }

func (p PlayLayer) LevelSettings() LevelSettings {
	return LevelSettings{p.l().LevelSettings.Get(p.Handle), &p.g.layout.LevelSettings}
}

// IsDead reports a death. The raw flag is briefly set while the level is being
// (re)started, so a player still at x=0 is not considered dead.
func (p PlayLayer) IsDead() bool {
	if !p.IsDeadRaw() {
		return false
	}
	p1, ok := p.Player1().Option()
	return ok && p1.X() != 0
}

func (p PlayLayer) IsDeadRaw() bool { return p.l().IsDead.Get(p.Handle) }
func (p PlayLayer) SetIsDeadRaw(v bool) { p.l().IsDead.Set(p.Handle, v) }
func (p PlayLayer) LevelLength() float32 { return p.l().LevelLength.Get(p.Handle) }
func (p PlayLayer) SetLevelLength(v float32) { p.l().LevelLength.Set(p.Handle, v) }
func (p PlayLayer) Time() float64 { return p.l().Time.Get(p.Handle) }
func (p PlayLayer) SetTime(v float64) { p.l().Time.Set(p.Handle, v) }
func (p PlayLayer) CameraX() float32 { return p.l().CameraX.Get(p.Handle) }
func (p PlayLayer) SetCameraX(v float32) { p.l().CameraX.Set(p.Handle, v) }
func (p PlayLayer) CameraY() float32 { return p.l().CameraY.Get(p.Handle) }
func (p PlayLayer) SetCameraY(v float32) { p.l().CameraY.Set(p.Handle, v) }
func (p PlayLayer) IsTestMode() bool { return p.l().IsTestMode.Get(p.Handle) }
func (p PlayLayer) SetIsTestMode(v bool) { p.l().IsTestMode.Set(p.Handle, v) }
func (p PlayLayer) IsPracticeMode() bool { return p.l().IsPracticeMode.Get(p.Handle) }
func (p PlayLayer) SetIsPracticeMode(v bool) { p.l().IsPracticeMode.Set(p.Handle, v) }

func (p PlayLayer) CurrentAttempt() int32 { return p.l().CurrentAttempt.Get(p.Handle) }
func (p PlayLayer) SetCurrentAttempt(v int32) { p.l().CurrentAttempt.Set(p.Handle, v) }
func (p PlayLayer) JumpCount() int32 { return p.l().JumpCount.Get(p.Handle) }
func (p PlayLayer) SetJumpCount(v int32) { p.l().JumpCount.Set(p.Handle, v) }
func (p PlayLayer) AttemptJumpCount() int32 { return p.l().AttemptJumpCount.Get(p.Handle) }
func (p PlayLayer) SetAttemptJumpCount(v int32) { p.l().AttemptJumpCount.Set(p.Handle, v) }
func (p PlayLayer) LastDeathPercent() int32 { return p.l().LastDeathPercent.Get(p.Handle) }
func (p PlayLayer) SetLastDeathPercent(v int32) { p.l().LastDeathPercent.Set(p.Handle, v) }

func (p PlayLayer) HasLevelCompleteMenu() bool { return p.l().HasLevelCompleteMenu.Get(p.Handle) }
func (p PlayLayer) SetHasLevelCompleteMenu(v bool) { p.l().HasLevelCompleteMenu.Set(p.Handle, v) }
func (p PlayLayer) HasCompletedLevel() bool { return p.l().HasCompletedLevel.Get(p.Handle) }
func (p PlayLayer) SetHasCompletedLevel(v bool) { p.l().HasCompletedLevel.Set(p.Handle, v) }

// TimeForXPos is the time in seconds it takes to reach x from the level start.
func (p PlayLayer) TimeForXPos(x float32) (float32, error) {
	v, err := p.l().TimeForXPos.Call(p.Handle, x)
	return v.Float32(), err
}

func (p PlayLayer) TogglePracticeMode(on bool) error {
	_, err := p.l().TogglePracticeMode.Call(p.Handle, on)
	return err
}

func (p PlayLayer) RemoveLastCheckpoint() error {
	_, err := p.l().RemoveLastCheckpoint.Call(p.Handle)
	return err
}

func (p PlayLayer) CheckCollisions(o PlayerObject) (bool, error) {
	v, err := p.l().CheckCollisions.Call(p.Handle, o.Ptr())
	return v.Bool(), err
}

func (p PlayLayer) PauseGame(unk bool) error {
	_, err := p.l().PauseGame.Call(p.Handle, unk)
	return err
}

// ResetLevel restarts the level from the beginning or the last checkpoint.
func (p PlayLayer) ResetLevel() error {
	_, err := p.l().ResetLevel.Call(p.Handle)
	return err
}

// PushButton simulates pressing the jump button, for player 1 unless player2 is set.
func (p PlayLayer) PushButton(button int32, player2 bool) error {
	_, err := p.l().PushButton.Call(p.Handle, button, player2)
	return err
}

func (p PlayLayer) ReleaseButton(button int32, player2 bool) error {
	_, err := p.l().ReleaseButton.Call(p.Handle, button, player2)
	return err
}
