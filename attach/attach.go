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
Package attach runs the bridge inside the host process.

A DLL must not do real work while the loader lock is held, so the entry point only
starts a [Worker]: a goroutine pinned to its own OS thread that sets everything up
and returns. Failures, panics included, are logged and kept in the Worker, they never
propagate into the host.
*/
package attach

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Worker is a running attach routine.
type Worker struct {
	name string
	done chan struct{}
	err  error
	log  *logrus.Entry
}

// Start runs fn on a dedicated OS thread.
func Start(ctx context.Context, name string, log *logrus.Logger, fn func(context.Context, *logrus.Entry) error) *Worker {
	w := &Worker{
		name: name,
		done: make(chan struct{}),
		log:  log.WithField("worker", name),
	}
	go w.run(ctx, fn)
	return w
}

func (w *Worker) run(ctx context.Context, fn func(context.Context, *logrus.Entry) error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.err = fmt.Errorf("%s panicked: %v", w.name, r)
			w.log.WithField("stack", string(debug.Stack())).Error(w.err)
		}
	}()

	w.log.Info("started")
	if err := fn(ctx, w.log); err != nil {
		w.err = fmt.Errorf("%s failed: %w", w.name, err)
		w.log.WithError(err).Error("failed")
		return
	}
	w.log.Info("finished")
}

// Done is closed when the worker has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err is the outcome of the worker, valid once Done is closed.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Wait blocks until the worker has returned or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
