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

// Package camera acquires frames from one capture device, exposes the
// latest frame for live preview, and persists frames to hour-rotating
// video segments with a per-frame timestamp sidecar.
package camera

import (
	"time"

	"github.com/RatAcad/BpodAcademy/pkg/syncdev"
)

// DisplayMaxWidth bounds the preview resolution. Full-resolution frames
// are downsampled before publication so preview memory is independent of
// capture resolution.
const DisplayMaxWidth = 320

// Frame is one captured image, RGB24 packed rows. Frames published to the
// preview cell are immutable once stored.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
	Time   time.Time
}

// CaptureSettings are applied when the device opens. Zero values fall
// back to device defaults.
type CaptureSettings struct {
	Width    int
	Height   int
	FPS      int
	Exposure int
	Gain     int
}

// CaptureDevice is one camera. Read blocks until the next frame; a read
// error is a fatal device disconnection and is never retried.
type CaptureDevice interface {
	Open(settings CaptureSettings) error
	Read() (*Frame, error)
	// FPS reports the rate the device actually negotiated.
	FPS() float64
	Close() error
}

// SyncSource provides correlated timestamps for a just-closed segment.
type SyncSource interface {
	GetSyncTimes(channel int, maxHostTime time.Time, drain bool) []syncdev.Event
}

// displaySize bounds a capture resolution to the preview maximum,
// preserving aspect ratio.
func displaySize(width, height int) (int, int) {
	if width <= DisplayMaxWidth || width == 0 || height == 0 {
		return width, height
	}

	return DisplayMaxWidth, DisplayMaxWidth * height / width
}

// downsample produces the preview copy of a frame with nearest-neighbor
// sampling. The result is a fresh allocation, never aliasing src.
func downsample(src *Frame, dstW, dstH int) *Frame {
	if src.Width == dstW && src.Height == dstH {
		pixels := make([]byte, len(src.Pixels))
		copy(pixels, src.Pixels)

		return &Frame{Pixels: pixels, Width: dstW, Height: dstH, Time: src.Time}
	}

	pixels := make([]byte, dstW*dstH*3)

	for y := 0; y < dstH; y++ {
		srcY := y * src.Height / dstH
		for x := 0; x < dstW; x++ {
			srcX := x * src.Width / dstW
			si := (srcY*src.Width + srcX) * 3
			di := (y*dstW + x) * 3
			copy(pixels[di:di+3], src.Pixels[si:si+3])
		}
	}

	return &Frame{Pixels: pixels, Width: dstW, Height: dstH, Time: src.Time}
}
