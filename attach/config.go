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
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvOffsets  = "GDBRIDGE_OFFSETS"
	EnvLogFile  = "GDBRIDGE_LOG"
	EnvLogLevel = "GDBRIDGE_LOG_LEVEL"
)

const DefaultLogFile = "gdbridge.log"

// Config is the runtime configuration of the bridge. The host offers no command line
// and no console, so it comes from the environment.
type Config struct {
	// Offsets is the path of an offset table replacing the built-in one, empty to
	// keep the built-in one.
	Offsets  string
	LogFile  string
	LogLevel logrus.Level
}

func ConfigFromEnv() (Config, error) {
	c := Config{
		Offsets:  os.Getenv(EnvOffsets),
		LogFile:  os.Getenv(EnvLogFile),
		LogLevel: logrus.InfoLevel,
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		l, err := logrus.ParseLevel(lvl)
		if err != nil {
			return c, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		c.LogLevel = l
	}
	return c, nil
}

// Logger opens the log file, appending to it. The returned closer closes the file.
func (c Config) Logger() (*logrus.Logger, io.Closer, error) {
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open log: %w", err)
	}
	log := logrus.New()
	log.SetOutput(f)
	log.SetLevel(c.LogLevel)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	return log, f, nil
}
