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
)

// GameMode is the vehicle the player is in.
type GameMode uint8

const (
	Cube GameMode = iota
	Ship
	Ufo
	Ball
	Wave
	Robot
	Spider
)

var gameModeNames = [...]string{"cube", "ship", "ufo", "ball", "wave", "robot", "spider"}

func (m GameMode) String() string {
	if int(m) < len(gameModeNames) {
		return gameModeNames[m]
	}
	return "unknown"
}

type PlayerObject struct {
	handle.Handle[PlayerObjectClass]
	l *PlayerObjectLayout
}

func (o PlayerObject) Option() (PlayerObject, bool) {
	return o, !o.IsNull()
}

func (o PlayerObject) X() float32 { return o.l.X.Get(o.Handle) }
func (o PlayerObject) SetX(v float32) { o.l.X.Set(o.Handle, v) }
func (o PlayerObject) Y() float32 { return o.l.Y.Get(o.Handle) }
func (o PlayerObject) SetY(v float32) { o.l.Y.Set(o.Handle, v) }

func (o PlayerObject) Position() (x, y float32) {
	return o.X(), o.Y()
}

func (o PlayerObject) SetPosition(x, y float32) {
	o.SetX(x)
	o.SetY(y)
}

func (o PlayerObject) XAccel() float64 { return o.l.XAccel.Get(o.Handle) }
func (o PlayerObject) SetXAccel(v float64) { o.l.XAccel.Set(o.Handle, v) }
func (o PlayerObject) YAccel() float64 { return o.l.YAccel.Get(o.Handle) }
func (o PlayerObject) SetYAccel(v float64) { o.l.YAccel.Set(o.Handle, v) }
func (o PlayerObject) JumpAccel() float64 { return o.l.JumpAccel.Get(o.Handle) }
func (o PlayerObject) SetJumpAccel(v float64) { o.l.JumpAccel.Set(o.Handle, v) }
func (o PlayerObject) RotationX() float32 { return o.l.RotationX.Get(o.Handle) }
func (o PlayerObject) SetRotationX(v float32) { o.l.RotationX.Set(o.Handle, v) }
func (o PlayerObject) RotationY() float32 { return o.l.RotationY.Get(o.Handle) }
func (o PlayerObject) SetRotationY(v float32) { o.l.RotationY.Set(o.Handle, v) }
func (o PlayerObject) VehicleSize() float32 { return o.l.VehicleSize.Get(o.Handle) }
func (o PlayerObject) SetVehicleSize(v float32) { o.l.VehicleSize.Set(o.Handle, v) }
func (o PlayerObject) PlayerSpeed() float32 { return o.l.PlayerSpeed.Get(o.Handle) }
func (o PlayerObject) SetPlayerSpeed(v float32) { o.l.PlayerSpeed.Set(o.Handle, v) }

func (o PlayerObject) IsHolding() bool { return o.l.IsHolding.Get(o.Handle) }
func (o PlayerObject) SetIsHolding(v bool) { o.l.IsHolding.Set(o.Handle, v) }
func (o PlayerObject) HasJustHeld() bool { return o.l.HasJustHeld.Get(o.Handle) }
func (o PlayerObject) SetHasJustHeld(v bool) { o.l.HasJustHeld.Set(o.Handle, v) }
func (o PlayerObject) IsHolding2() bool { return o.l.IsHolding2.Get(o.Handle) }
func (o PlayerObject) SetIsHolding2(v bool) { o.l.IsHolding2.Set(o.Handle, v) }
func (o PlayerObject) HasJustHeld2() bool { return o.l.HasJustHeld2.Get(o.Handle) }
func (o PlayerObject) SetHasJustHeld2(v bool) { o.l.HasJustHeld2.Set(o.Handle, v) }
func (o PlayerObject) CanRobotJump() bool { return o.l.CanRobotJump.Get(o.Handle) }
func (o PlayerObject) SetCanRobotJump(v bool) { o.l.CanRobotJump.Set(o.Handle, v) }
func (o PlayerObject) IsUpsideDown() bool { return o.l.IsUpsideDown.Get(o.Handle) }
func (o PlayerObject) SetIsUpsideDown(v bool) { o.l.IsUpsideDown.Set(o.Handle, v) }
func (o PlayerObject) IsOnGround() bool { return o.l.IsOnGround.Get(o.Handle) }
func (o PlayerObject) SetIsOnGround(v bool) { o.l.IsOnGround.Set(o.Handle, v) }
func (o PlayerObject) IsDashing() bool { return o.l.IsDashing.Get(o.Handle) }
func (o PlayerObject) SetIsDashing(v bool) { o.l.IsDashing.Set(o.Handle, v) }
func (o PlayerObject) IsSliding() bool { return o.l.IsSliding.Get(o.Handle) }
func (o PlayerObject) SetIsSliding(v bool) { o.l.IsSliding.Set(o.Handle, v) }
func (o PlayerObject) IsRising() bool { return o.l.IsRising.Get(o.Handle) }
func (o PlayerObject) SetIsRising(v bool) { o.l.IsRising.Set(o.Handle, v) }
func (o PlayerObject) BlackOrb() bool { return o.l.BlackOrb.Get(o.Handle) }
func (o PlayerObject) SetBlackOrb(v bool) { o.l.BlackOrb.Set(o.Handle, v) }

// modeFlags are the per-vehicle flags in GameMode order, cube has none.
func (o PlayerObject) modeFlags() []handle.Field[PlayerObjectClass, bool] {
	return []handle.Field[PlayerObjectClass, bool]{
		o.l.IsShip, o.l.IsBird, o.l.IsBall, o.l.IsDart, o.l.IsRobot, o.l.IsSpider,
	}
}

// GameMode derives the vehicle from the mode flags. If several are set, the first
// one in GameMode order wins.
func (o PlayerObject) GameMode() GameMode {
	for i, f := range o.modeFlags() {
		if f.Get(o.Handle) {
			return GameMode(i + 1)
		}
	}
	return Cube
}

// SetGameMode sets exactly the flag of m and clears the others. It changes what the
// game thinks the vehicle is, without the transition the game does itself.
func (o PlayerObject) SetGameMode(m GameMode) {
	for i, f := range o.modeFlags() {
		f.Set(o.Handle, GameMode(i+1) == m)
	}
}

// PushButton presses the button (1 is jump) for this player only.
func (o PlayerObject) PushButton(button int32) error {
	_, err := o.l.PushButton.Call(o.Handle, button)
	return err
}

func (o PlayerObject) ReleaseButton(button int32) error {
	_, err := o.l.ReleaseButton.Call(o.Handle, button)
	return err
}

func (o PlayerObject) ResetObject() error {
	_, err := o.l.ResetObject.Call(o.Handle)
	return err
}
