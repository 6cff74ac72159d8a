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
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"time"
)

// V4L2Device captures from a local V4L2 camera by streaming MJPEG out of
// an ffmpeg child process. Camera controls (exposure, gain) are applied
// with v4l2-ctl before the stream starts.
type V4L2Device struct {
	path string

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stream bytes.Buffer
	chunk  []byte
	fps    float64
}

// NewV4L2Device builds a device for one capture identifier: either a
// /dev path, or a bare index as the rigs historically configured them.
func NewV4L2Device(capture string) *V4L2Device {
	path := capture
	if n, err := strconv.Atoi(capture); err == nil {
		path = fmt.Sprintf("/dev/video%d", n)
	}

	return &V4L2Device{path: path}
}

func (d *V4L2Device) Open(settings CaptureSettings) error {
	// Controls vary by camera model; a control the camera lacks is not
	// fatal, the stream just runs with the device default.
	if settings.Exposure > 0 {
		d.setControl("exposure_absolute", settings.Exposure)
	}

	if settings.Gain > 0 {
		d.setControl("gain", settings.Gain)
	}

	fps := settings.FPS
	if fps <= 0 {
		fps = 30
	}

	d.fps = float64(fps)

	args := []string{"-f", "v4l2"}

	if settings.Width > 0 && settings.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", settings.Width, settings.Height))
	}

	args = append(args,
		"-r", strconv.Itoa(fps),
		"-i", d.path,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)

	d.cmd = exec.Command("ffmpeg", args...)
	d.cmd.Stderr = io.Discard

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating capture pipe: %w", err)
	}

	d.stdout = stdout
	d.chunk = make([]byte, 64*1024)

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("starting capture on %s: %w", d.path, err)
	}

	return nil
}

func (d *V4L2Device) setControl(name string, value int) {
	_ = exec.Command("v4l2-ctl", "--device", d.path,
		"--set-ctrl", fmt.Sprintf("%s=%d", name, value)).Run()
}

// Read blocks until ffmpeg has emitted the next complete JPEG, then
// decodes it into an RGB frame stamped with the arrival time.
func (d *V4L2Device) Read() (*Frame, error) {
	for {
		if data := extractJPEG(&d.stream); data != nil {
			return frameFromJPEG(data, time.Now())
		}

		n, err := d.stdout.Read(d.chunk)
		if err != nil {
			return nil, fmt.Errorf("capture stream on %s: %w", d.path, err)
		}

		d.stream.Write(d.chunk[:n])
	}
}

func (d *V4L2Device) FPS() float64 { return d.fps }

func (d *V4L2Device) Close() error {
	if d.cmd == nil {
		return nil
	}

	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}

	_ = d.stdout.Close()
	err := d.cmd.Wait()
	d.cmd = nil

	return err
}

var (
	jpegSOI = []byte{0xff, 0xd8}
	jpegEOI = []byte{0xff, 0xd9}
)

// extractJPEG returns the first complete JPEG in the stream buffer and
// consumes it, or nil when no full frame has arrived yet. Garbage before
// the start marker is discarded.
func extractJPEG(stream *bytes.Buffer) []byte {
	data := stream.Bytes()

	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		// Drop the garbage but keep a trailing half marker for the next
		// read to complete.
		keepTail := len(data) > 0 && data[len(data)-1] == 0xff
		stream.Reset()

		if keepTail {
			stream.WriteByte(0xff)
		}

		return nil
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		if start > 0 {
			rest := data[start:]
			stream.Reset()
			stream.Write(rest)
		}

		return nil
	}

	end += start + 2 + len(jpegEOI)

	frame := make([]byte, end-start)
	copy(frame, data[start:end])

	rest := data[end:]
	stream.Reset()
	stream.Write(rest)

	return frame
}

// frameFromJPEG decodes one JPEG into packed RGB24 rows.
func frameFromJPEG(data []byte, at time.Time) (*Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding captured frame: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pixels := make([]byte, w*h*3)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*w + x) * 3
			pixels[i] = byte(r >> 8)
			pixels[i+1] = byte(g >> 8)
			pixels[i+2] = byte(b >> 8)
		}
	}

	return &Frame{Pixels: pixels, Width: w, Height: h, Time: at}, nil
}
