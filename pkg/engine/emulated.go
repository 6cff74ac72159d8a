/*
 * Copyright 2026 RatAcad.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Emulated is the engine used for devices with the EMU serial marker and
// for tests. Failure injection and run behavior are configurable.
type Emulated struct {
	// StartErr, GUIErr, CalibrateErr, RunErr and EndErr are returned by
	// the corresponding command when non-nil.
	StartErr     error
	GUIErr       error
	CalibrateErr error
	RunErr       error
	EndErr       error

	// StartDelay makes Start block that long before succeeding,
	// regardless of its context deadline.
	StartDelay time.Duration

	// RunDuration bounds a run; zero means the run lasts until canceled.
	RunDuration time.Duration

	// IgnoreCancel simulates a run task that never observes its
	// cancellation token.
	IgnoreCancel bool

	// Output receives emulated engine chatter when non-nil.
	Output io.Writer
}

func (e *Emulated) log(format string, args ...interface{}) {
	if e.Output != nil {
		fmt.Fprintf(e.Output, format+"\n", args...)
	}
}

func (e *Emulated) Start(_ context.Context) error {
	if e.StartDelay > 0 {
		time.Sleep(e.StartDelay)
	}

	e.log("emulated engine started")

	return e.StartErr
}

func (e *Emulated) SwitchGUI(_ context.Context) error {
	return e.GUIErr
}

func (e *Emulated) Calibrate(_ context.Context) error {
	return e.CalibrateErr
}

func (e *Emulated) RunProtocol(ctx context.Context, protocol, subject, settings string) error {
	if e.RunErr != nil {
		return e.RunErr
	}

	e.log("running protocol=%s subject=%s settings=%s", protocol, subject, settings)

	var timeout <-chan time.Time
	if e.RunDuration > 0 {
		timer := time.NewTimer(e.RunDuration)
		defer timer.Stop()

		timeout = timer.C
	}

	if e.IgnoreCancel {
		// Block as a runaway protocol would: only a bounded run ends.
		if timeout == nil {
			select {}
		}

		<-timeout

		return nil
	}

	select {
	case <-timeout:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emulated) End(_ context.Context) error {
	e.log("emulated engine ended")
	return e.EndErr
}
