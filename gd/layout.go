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
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qrdl/gdbridge/gd/cocos"
	"github.com/qrdl/gdbridge/handle"
	"github.com/qrdl/gdbridge/mem"
)

type (
	GameManagerClass     struct{}
	EditorLayerClass     struct{}
	PlayLayerClass       struct{}
	PlayerObjectClass    struct{}
	LevelSettingsClass   struct{}
	GameObjectClass      struct{}
	FMODAudioEngineClass struct{}
)

// ErrMissingOffset is returned by LoadLayout when the table leaves a field or
// function out.
var ErrMissingOffset = errors.New("offset not set")

//go:embed offsets/gd-2.113.yaml
var defaultOffsets []byte

// Layout is the complete offset table of one game build.
type Layout struct {
	Build           string                `yaml:"build"`
	GameManager     GameManagerLayout     `yaml:"game_manager"`
	PlayLayer       PlayLayerLayout       `yaml:"play_layer"`
	PlayerObject    PlayerObjectLayout    `yaml:"player_object"`
	LevelSettings   LevelSettingsLayout   `yaml:"level_settings"`
	GameObject      GameObjectLayout      `yaml:"game_object"`
	FMODAudioEngine FMODAudioEngineLayout `yaml:"fmod_audio_engine"`
	Cocos           cocos.Layout          `yaml:"cocos2d"`
}

type GameManagerLayout struct {
	Shared          handle.Func                                         `yaml:"shared"`
	GetGameVariable handle.Method[GameManagerClass]                     `yaml:"get_game_variable"`
	PlayLayer       handle.PtrField[GameManagerClass, PlayLayerClass]   `yaml:"play_layer"`
	EditorLayer     handle.PtrField[GameManagerClass, EditorLayerClass] `yaml:"editor_layer"`
	UserName        handle.StringField[GameManagerClass]                `yaml:"user_name"`
}

type PlayLayerLayout struct {
	Player1       handle.PtrField[PlayLayerClass, PlayerObjectClass]  `yaml:"player1"`
	Player2       handle.PtrField[PlayLayerClass, PlayerObjectClass]  `yaml:"player2"`
	LevelSettings handle.PtrField[PlayLayerClass, LevelSettingsClass] `yaml:"level_settings"`

	IsDead               handle.Field[PlayLayerClass, bool]    `yaml:"is_dead"`
	LevelLength          handle.Field[PlayLayerClass, float32] `yaml:"level_length"`
	Time                 handle.Field[PlayLayerClass, float64] `yaml:"time"`
	CameraX              handle.Field[PlayLayerClass, float32] `yaml:"camera_x"`
	CameraY              handle.Field[PlayLayerClass, float32] `yaml:"camera_y"`
	IsTestMode           handle.Field[PlayLayerClass, bool]    `yaml:"is_test_mode"`
	IsPracticeMode       handle.Field[PlayLayerClass, bool]    `yaml:"is_practice_mode"`
	CurrentAttempt       handle.Field[PlayLayerClass, int32]   `yaml:"current_attempt"`
	JumpCount            handle.Field[PlayLayerClass, int32]   `yaml:"jump_count"`
	AttemptJumpCount     handle.Field[PlayLayerClass, int32]   `yaml:"attempt_jump_count"`
	HasLevelCompleteMenu handle.Field[PlayLayerClass, bool]    `yaml:"has_level_complete_menu"`
	HasCompletedLevel    handle.Field[PlayLayerClass, bool]    `yaml:"has_completed_level"`
	LastDeathPercent     handle.Field[PlayLayerClass, int32]   `yaml:"last_death_percent"`

	Create               handle.Func                   `yaml:"create"`
	Update               handle.Method[PlayLayerClass] `yaml:"update"`
	PushButton           handle.Method[PlayLayerClass] `yaml:"push_button"`
	ReleaseButton        handle.Method[PlayLayerClass] `yaml:"release_button"`
	TimeForXPos          handle.Method[PlayLayerClass] `yaml:"time_for_xpos"`
	TogglePracticeMode   handle.Method[PlayLayerClass] `yaml:"toggle_practice_mode"`
	RemoveLastCheckpoint handle.Method[PlayLayerClass] `yaml:"remove_last_checkpoint"`
	CheckCollisions      handle.Method[PlayLayerClass] `yaml:"check_collisions"`
	PauseGame            handle.Method[PlayLayerClass] `yaml:"pause_game"`
	ResetLevel           handle.Method[PlayLayerClass] `yaml:"reset_level"`
}

type PlayerObjectLayout struct {
	RotationX    handle.Field[PlayerObjectClass, float32] `yaml:"rotation_x"`
	RotationY    handle.Field[PlayerObjectClass, float32] `yaml:"rotation_y"`
	XAccel       handle.Field[PlayerObjectClass, float64] `yaml:"x_accel"`
	JumpAccel    handle.Field[PlayerObjectClass, float64] `yaml:"jump_accel"`
	BlackOrb     handle.Field[PlayerObjectClass, bool]    `yaml:"black_orb"`
	IsHolding    handle.Field[PlayerObjectClass, bool]    `yaml:"is_holding"`
	HasJustHeld  handle.Field[PlayerObjectClass, bool]    `yaml:"has_just_held"`
	IsHolding2   handle.Field[PlayerObjectClass, bool]    `yaml:"is_holding2"`
	HasJustHeld2 handle.Field[PlayerObjectClass, bool]    `yaml:"has_just_held2"`
	CanRobotJump handle.Field[PlayerObjectClass, bool]    `yaml:"can_robot_jump"`
	YAccel       handle.Field[PlayerObjectClass, float64] `yaml:"y_accel"`
	Unk630       handle.Field[PlayerObjectClass, bool]    `yaml:"unk630"`
	Unk631       handle.Field[PlayerObjectClass, bool]    `yaml:"unk631"`
	IsShip       handle.Field[PlayerObjectClass, bool]    `yaml:"is_ship"`
	IsBird       handle.Field[PlayerObjectClass, bool]    `yaml:"is_bird"`
	IsBall       handle.Field[PlayerObjectClass, bool]    `yaml:"is_ball"`
	IsDart       handle.Field[PlayerObjectClass, bool]    `yaml:"is_dart"`
	IsRobot      handle.Field[PlayerObjectClass, bool]    `yaml:"is_robot"`
	IsSpider     handle.Field[PlayerObjectClass, bool]    `yaml:"is_spider"`
	IsUpsideDown handle.Field[PlayerObjectClass, bool]    `yaml:"is_upside_down"`
	IsOnGround   handle.Field[PlayerObjectClass, bool]    `yaml:"is_on_ground"`
	IsDashing    handle.Field[PlayerObjectClass, bool]    `yaml:"is_dashing"`
	VehicleSize  handle.Field[PlayerObjectClass, float32] `yaml:"vehicle_size"`
	PlayerSpeed  handle.Field[PlayerObjectClass, float32] `yaml:"player_speed"`
	IsSliding    handle.Field[PlayerObjectClass, bool]    `yaml:"is_sliding"`
	IsRising     handle.Field[PlayerObjectClass, bool]    `yaml:"is_rising"`
	Unk662       handle.Field[PlayerObjectClass, bool]    `yaml:"unk662"`
	X            handle.Field[PlayerObjectClass, float32] `yaml:"x"`
	Y            handle.Field[PlayerObjectClass, float32] `yaml:"y"`

	PushButton    handle.Method[PlayerObjectClass] `yaml:"push_button"`
	ReleaseButton handle.Method[PlayerObjectClass] `yaml:"release_button"`
	ResetObject   handle.Method[PlayerObjectClass] `yaml:"reset_object"`
}

type LevelSettingsLayout struct {
	Is2Player handle.Field[LevelSettingsClass, bool] `yaml:"is_2player"`
}

type GameObjectLayout struct {
	IsObjectRectDirty   handle.Field[GameObjectClass, bool] `yaml:"is_object_rect_dirty"`
	IsOrientedRectDirty handle.Field[GameObjectClass, bool] `yaml:"is_oriented_rect_dirty"`
	HasBeenActivated    handle.Field[GameObjectClass, bool] `yaml:"has_been_activated"`
	HasBeenActivatedP2  handle.Field[GameObjectClass, bool] `yaml:"has_been_activated_p2"`
}

type FMODAudioEngineLayout struct {
	Shared              handle.Func                                     `yaml:"shared"`
	System              handle.Field[FMODAudioEngineClass, mem.Address] `yaml:"system"`
	CurrentSoundChannel handle.Field[FMODAudioEngineClass, mem.Address] `yaml:"current_sound_channel"`
	ExtraDriverData     handle.Field[FMODAudioEngineClass, mem.Address] `yaml:"extra_driver_data"`
}

/*
LoadLayout reads an offset table. The table must be complete: unknown keys are
errors, and so is every field or function left out, as it would otherwise read the
vtable pointer or call address zero. An explicit offset of zero counts as left out.
*/
func LoadLayout(r io.Reader) (*Layout, error) {
	var l Layout
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("cannot load offsets: %w", err)
	}
	if l.Build == "" {
		return nil, fmt.Errorf("cannot load offsets: build is not set")
	}
	if keys := unset(reflect.ValueOf(l), ""); len(keys) > 0 {
		return nil, fmt.Errorf("cannot load offsets: %w: %s", ErrMissingOffset, strings.Join(keys, ", "))
	}
	return &l, nil
}

var descriptorPkg = reflect.TypeOf(handle.Func{}).PkgPath()

// unset lists the keys of all zero descriptors in the section v.
func unset(v reflect.Value, prefix string) []string {
	var keys []string
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		key, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
		if key == "" || sf.Type.Kind() != reflect.Struct {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if sf.Type.PkgPath() != descriptorPkg {
			keys = append(keys, unset(v.Field(i), key)...)
			continue
		}
		if v.Field(i).IsZero() {
			keys = append(keys, key)
		}
	}
	return keys
}

// LoadLayoutFile reads an offset table from path.
func LoadLayoutFile(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadLayout(f)
}

// DefaultLayout returns the built-in table for 2.113.
func DefaultLayout() *Layout {
	l, err := LoadLayout(bytes.NewReader(defaultOffsets))
	if err != nil {
		panic(err)
	}
	return l
}
