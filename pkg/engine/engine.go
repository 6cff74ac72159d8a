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

// Package engine addresses the external scriptable engine as a black box.
// The engine accepts textual commands and either returns or hangs; run
// invocations block for the life of the run and honor context cancellation
// only at their boundaries.
package engine

import "context"

// Engine drives one rig's engine instance. Implementations must be safe
// for use from a single supervisor worker goroutine; they are not required
// to be safe for concurrent use.
type Engine interface {
	// Start launches the engine and attaches it to the named hardware.
	Start(ctx context.Context) error

	// SwitchGUI toggles the engine-side console display.
	SwitchGUI(ctx context.Context) error

	// Calibrate invokes the engine-side liquid calibration routine.
	Calibrate(ctx context.Context) error

	// RunProtocol invokes the engine's run entry point and blocks until
	// the run ends or ctx is canceled. A task that ignores cancellation
	// keeps this call blocked; callers must bound their join.
	RunProtocol(ctx context.Context, protocol, subject, settings string) error

	// End releases the hardware and exits the engine instance.
	End(ctx context.Context) error
}
