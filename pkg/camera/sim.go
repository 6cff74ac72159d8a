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

package camera

import (
	"errors"
	"sync"
	"time"
)

// SimulatedDevice is a capture device producing synthetic frames. It
// backs emulated rigs and the test suite.
type SimulatedDevice struct {
	// FailOpen makes Open refuse, as a disconnected camera would.
	FailOpen bool
	// FailAfter makes Read fail once that many frames were delivered.
	// Zero means never.
	FailAfter int
	// Paced makes Read block for one frame interval, emulating a real
	// sensor. Unpaced reads return immediately.
	Paced bool
	// Clock supplies frame capture timestamps; defaults to time.Now.
	Clock func() time.Time

	mu        sync.Mutex
	width     int
	height    int
	fps       float64
	open      bool
	delivered int
}

var errSimClosed = errors.New("simulated device not open")

// ErrSimReadFailed marks the injected device disconnection.
var ErrSimReadFailed = errors.New("simulated frame read failure")

func (d *SimulatedDevice) Open(settings CaptureSettings) error {
	if d.FailOpen {
		return errors.New("simulated device refused to open")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.width = settings.Width
	if d.width == 0 {
		d.width = 640
	}

	d.height = settings.Height
	if d.height == 0 {
		d.height = 480
	}

	d.fps = float64(settings.FPS)
	if d.fps == 0 {
		d.fps = 30
	}

	d.open = true
	d.delivered = 0

	return nil
}

func (d *SimulatedDevice) Read() (*Frame, error) {
	d.mu.Lock()

	if !d.open {
		d.mu.Unlock()
		return nil, errSimClosed
	}

	if d.FailAfter > 0 && d.delivered >= d.FailAfter {
		d.mu.Unlock()
		return nil, ErrSimReadFailed
	}

	d.delivered++
	n := d.delivered
	width, height, fps := d.width, d.height, d.fps
	clock := d.Clock
	d.mu.Unlock()

	if d.Paced && fps > 0 {
		time.Sleep(time.Duration(float64(time.Second) / fps))
	}

	now := time.Now()
	if clock != nil {
		now = clock()
	}

	pixels := make([]byte, width*height*3)
	for i := 0; i < len(pixels); i += 3 {
		pixels[i] = byte(n) // frame counter baked into the red plane
	}

	return &Frame{Pixels: pixels, Width: width, Height: height, Time: now}, nil
}

func (d *SimulatedDevice) FPS() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.fps
}

func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.open = false

	return nil
}
