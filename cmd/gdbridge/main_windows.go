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

//go:build windows

// Command gdbridge is the bridge DLL. Build it with
//
//	GOARCH=386 CGO_ENABLED=1 go build -buildmode=c-shared -o gdbridge.dll ./cmd/gdbridge
//
// and load it into the game with any DLL injector. Set GDBRIDGE_OFFSETS to use a
// different offset table, GDBRIDGE_LOG and GDBRIDGE_LOG_LEVEL to control logging.
package main

import "C"

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qrdl/gdbridge/attach"
	"github.com/qrdl/gdbridge/detour"
	"github.com/qrdl/gdbridge/handle"
)

const unloadTimeout = 5 * time.Second

var state struct {
	sync.Mutex
	bridge *bridge
	logs   io.Closer
	worker *attach.Worker
	cancel context.CancelFunc
	log    *logrus.Logger
}

func init() {
	cfg, cfgErr := attach.ConfigFromEnv()
	log, closer, err := cfg.Logger()
	if err != nil {
		// nowhere better to report it
		log = logrus.StandardLogger()
	}
	state.logs = closer
	state.log = log

	ctx, cancel := context.WithCancel(context.Background())
	state.cancel = cancel
	state.worker = attach.Start(ctx, "gdbridge", log, func(ctx context.Context, l *logrus.Entry) error {
		if cfgErr != nil {
			return cfgErr
		}
		b, err := run(ctx, l, cfg, handle.Local(), detour.New(detour.WithLogger(l.WithField("component", "detour"))))
		if err != nil {
			return err
		}
		state.Lock()
		state.bridge = b
		state.Unlock()
		return nil
	})
}

// GdbridgeUnload deactivates all hooks, to be called by the injector before it
// unloads the DLL. If setup is still running it is cancelled and waited for first.
// Returns 0 on success.
//
//export GdbridgeUnload
func GdbridgeUnload() C.int {
	state.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()
	if err := state.worker.Wait(ctx); errors.Is(err, context.DeadlineExceeded) {
		// the worker may still touch the hooks and the log, keep both
		state.log.Error("setup did not finish, cannot unload")
		return 1
	}

	state.Lock()
	defer state.Unlock()

	rc := C.int(0)
	if state.bridge != nil {
		if err := state.bridge.shutdown(); err != nil {
			state.bridge.log.WithError(err).Error("cannot disable hooks")
			rc = 1
		} else {
			state.bridge.log.Info("hooks disabled, ready to unload")
		}
		state.bridge = nil
	}
	if state.logs != nil {
		state.logs.Close()
		state.logs = nil
	}
	return rc
}

func main() {}
