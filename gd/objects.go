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

type LevelSettings struct {
	handle.Handle[LevelSettingsClass]
	l *LevelSettingsLayout
}

func (s LevelSettings) Option() (LevelSettings, bool) {
	return s, !s.IsNull()
}

// Is2Player reports dual-control levels.
func (s LevelSettings) Is2Player() bool {
	return s.l.Is2Player.Get(s.Handle)
}

type GameObject struct {
	handle.Handle[GameObjectClass]
	l *GameObjectLayout
}

func (o GameObject) Option() (GameObject, bool) {
	return o, !o.IsNull()
}

func (o GameObject) IsObjectRectDirty() bool { return o.l.IsObjectRectDirty.Get(o.Handle) }
func (o GameObject) SetIsObjectRectDirty(v bool) { o.l.IsObjectRectDirty.Set(o.Handle, v) }
func (o GameObject) IsOrientedRectDirty() bool { return o.l.IsOrientedRectDirty.Get(o.Handle) }
func (o GameObject) SetIsOrientedRectDirty(v bool) { o.l.IsOrientedRectDirty.Set(o.Handle, v) }
func (o GameObject) HasBeenActivated() bool { return o.l.HasBeenActivated.Get(o.Handle) }
func (o GameObject) SetHasBeenActivated(v bool) { o.l.HasBeenActivated.Set(o.Handle, v) }
func (o GameObject) HasBeenActivatedP2() bool { return o.l.HasBeenActivatedP2.Get(o.Handle) }
func (o GameObject) SetHasBeenActivatedP2(v bool) { o.l.HasBeenActivatedP2.Set(o.Handle, v) }

// FMODAudioEngine owns the FMOD system and the music channel. The pointers it holds
// are FMOD handles, to be passed to FMOD functions as they are.
type FMODAudioEngine struct {
	handle.Handle[FMODAudioEngineClass]
	l *FMODAudioEngineLayout
}

func (e FMODAudioEngine) Option() (FMODAudioEngine, bool) {
	return e, !e.IsNull()
}

func (e FMODAudioEngine) System() mem.Address { return e.l.System.Get(e.Handle) }
func (e FMODAudioEngine) SetSystem(v mem.Address) { e.l.System.Set(e.Handle, v) }
func (e FMODAudioEngine) CurrentSoundChannel() mem.Address {
	return e.l.CurrentSoundChannel.Get(e.Handle)
}
func (e FMODAudioEngine) SetCurrentSoundChannel(v mem.Address) {
	e.l.CurrentSoundChannel.Set(e.Handle, v)
}
func (e FMODAudioEngine) ExtraDriverData() mem.Address { return e.l.ExtraDriverData.Get(e.Handle) }
func (e FMODAudioEngine) SetExtraDriverData(v mem.Address) {
	e.l.ExtraDriverData.Set(e.Handle, v)
}
