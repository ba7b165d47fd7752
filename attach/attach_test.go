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

package attach

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wait(t *testing.T, w *Worker) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := w.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func TestWorkerSuccess(t *testing.T) {
	log, hook := test.NewNullLogger()
	ran := false
	w := Start(context.Background(), "setup", log, func(_ context.Context, l *logrus.Entry) error {
		ran = true
		l.Info("working")
		return nil
	})

	require.NoError(t, wait(t, w))
	assert.True(t, ran)
	assert.NoError(t, w.Err())

	require.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, "setup", hook.LastEntry().Data["worker"])
	assert.Equal(t, "finished", hook.LastEntry().Message)
}

func TestWorkerError(t *testing.T) {
	log, hook := test.NewNullLogger()
	boom := errors.New("boom")
	w := Start(context.Background(), "setup", log, func(context.Context, *logrus.Entry) error {
		return boom
	})

	err := wait(t, w)
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, w.Err(), "setup failed: boom")
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestWorkerPanic(t *testing.T) {
	log, hook := test.NewNullLogger()
	w := Start(context.Background(), "setup", log, func(context.Context, *logrus.Entry) error {
		panic("bad offset")
	})

	<-w.Done()
	assert.EqualError(t, w.Err(), "setup panicked: bad offset")
	assert.Contains(t, hook.LastEntry().Data["stack"], "attach.(*Worker).run")
}

func TestWorkerWaitCancelled(t *testing.T) {
	log, _ := test.NewNullLogger()
	release := make(chan struct{})
	w := Start(context.Background(), "slow", log, func(context.Context, *logrus.Entry) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.Canceled)
	assert.NoError(t, w.Err(), "not finished yet")

	close(release)
	assert.NoError(t, wait(t, w))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvOffsets, "")
	t.Setenv(EnvLogFile, "")
	t.Setenv(EnvLogLevel, "")

	c, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, Config{LogFile: DefaultLogFile, LogLevel: logrus.InfoLevel}, c)

	t.Setenv(EnvOffsets, "gd-2.113-custom.yaml")
	t.Setenv(EnvLogFile, "bridge.log")
	t.Setenv(EnvLogLevel, "debug")
	c, err = ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, Config{Offsets: "gd-2.113-custom.yaml", LogFile: "bridge.log", LogLevel: logrus.DebugLevel}, c)

	t.Setenv(EnvLogLevel, "chatty")
	_, err = ConfigFromEnv()
	assert.ErrorContains(t, err, EnvLogLevel)
}

func TestLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gdbridge.log")
	log, closer, err := Config{LogFile: path, LogLevel: logrus.WarnLevel}.Logger()
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "msg=kept")

	_, _, err = Config{LogFile: filepath.Join(t.TempDir(), "no", "such", "dir.log")}.Logger()
	assert.Error(t, err)
}
