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
	"bufio"
	"fmt"
	"image"
	"image/jpeg"
	"os"
)

// SegmentEncoder persists the frames of one video segment.
type SegmentEncoder interface {
	WriteFrame(f *Frame) error
	Close() error
}

// EncoderFactory opens the encoder for a new segment file. path carries
// no extension; the factory appends its own.
type EncoderFactory func(path string, width, height int, fps float64) (SegmentEncoder, string, error)

const mjpegQuality = 85

// NewMJPEGEncoder writes segments as concatenated JPEG frames (MJPEG).
// It needs no external codec stack; players and analysis tools ingest the
// stream directly.
func NewMJPEGEncoder(path string, _, _ int, _ float64) (SegmentEncoder, string, error) {
	full := path + ".mjpeg"

	file, err := os.Create(full)
	if err != nil {
		return nil, "", fmt.Errorf("creating segment file: %w", err)
	}

	return &mjpegEncoder{file: file, w: bufio.NewWriter(file)}, full, nil
}

type mjpegEncoder struct {
	file *os.File
	w    *bufio.Writer
}

func (e *mjpegEncoder) WriteFrame(f *Frame) error {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))

	for i := 0; i < f.Width*f.Height; i++ {
		si := i * 3
		di := i * 4
		img.Pix[di] = f.Pixels[si]
		img.Pix[di+1] = f.Pixels[si+1]
		img.Pix[di+2] = f.Pixels[si+2]
		img.Pix[di+3] = 0xff
	}

	return jpeg.Encode(e.w, img, &jpeg.Options{Quality: mjpegQuality})
}

func (e *mjpegEncoder) Close() error {
	if err := e.w.Flush(); err != nil {
		_ = e.file.Close()
		return err
	}

	return e.file.Close()
}
