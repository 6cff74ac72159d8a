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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplaySize(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		wantW int
		wantH int
	}{
		{name: "vga", w: 640, h: 480, wantW: 320, wantH: 240},
		{name: "hd", w: 1280, h: 720, wantW: 320, wantH: 180},
		{name: "already small", w: 320, h: 240, wantW: 320, wantH: 240},
		{name: "smaller than max", w: 160, h: 120, wantW: 160, wantH: 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := displaySize(tt.w, tt.h)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestDownsampleAllocatesFreshPixels(t *testing.T) {
	src := &Frame{
		Pixels: make([]byte, 640*480*3),
		Width:  640,
		Height: 480,
		Time:   time.Now(),
	}
	src.Pixels[0] = 0x7f

	dst := downsample(src, 320, 240)

	require.Equal(t, 320, dst.Width)
	require.Equal(t, 240, dst.Height)
	require.Len(t, dst.Pixels, 320*240*3)
	assert.Equal(t, src.Time, dst.Time)

	// The preview frame must not alias the source buffer.
	dst.Pixels[0] = 0x01
	assert.Equal(t, byte(0x7f), src.Pixels[0])
}

func TestFrameQueueOrderAndTimeout(t *testing.T) {
	q := newFrameQueue()

	first := &Frame{Width: 1}
	second := &Frame{Width: 2}

	q.push(first)
	q.push(second)

	got, ok := q.pop(10 * time.Millisecond)
	require.True(t, ok)
	assert.Same(t, first, got)

	got, ok = q.pop(10 * time.Millisecond)
	require.True(t, ok)
	assert.Same(t, second, got)

	_, ok = q.pop(10 * time.Millisecond)
	assert.False(t, ok)

	q.push(first)
	q.reset()
	assert.Zero(t, q.len())
}
