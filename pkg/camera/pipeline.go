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
	"sync/atomic"
	"time"

	"github.com/RatAcad/BpodAcademy/pkg/logger"
	"github.com/RatAcad/BpodAcademy/pkg/models"
)

const (
	// DefaultAcquireTimeout bounds the wait for the acquisition worker's
	// first-frame confirmation.
	DefaultAcquireTimeout = 10 * time.Second
	// DefaultWriterAckTimeout bounds the wait for the writer's
	// first-segment-opened acknowledgment.
	DefaultWriterAckTimeout = 5 * time.Second
	// SegmentDuration caps each video segment, bounding file size and
	// crash data loss to one hour.
	SegmentDuration = time.Hour

	queuePollInterval = 100 * time.Millisecond
)

var (
	ErrAlreadyAcquiring = errors.New("acquisition already running")
	ErrNotAcquiring     = errors.New("acquisition not running")
	// ErrOpenFailed means the capture device refused to open.
	ErrOpenFailed = errors.New("capture device failed to open")
	// ErrAcquireTimeout means the worker never confirmed; distinct from
	// ErrOpenFailed so clients can render a specific message.
	ErrAcquireTimeout = errors.New("timed out waiting for acquisition worker")
	ErrWriterTimeout  = errors.New("timed out waiting for writer to open first segment")
)

// Pipeline is the per-device acquisition/writer pair. One acquisition
// worker reads frames continuously; an optional writer sub-task persists
// them. The writer may exist only while the acquisition worker is alive.
type Pipeline struct {
	deviceID string
	dev      CaptureDevice
	cfg      models.CameraConfig
	dataRoot string
	sync     SyncSource
	encoder  EncoderFactory
	log      logger.Logger

	// preview holds the latest display-resolution frame. Single writer
	// (the acquisition loop), any number of readers, no locking: frames
	// are immutable once stored, so reads are stale at worst, never
	// torn. A slow reader sees an old frame; it never blocks the loop.
	preview atomic.Pointer[Frame]

	acquiring    atomic.Bool
	writeEnabled atomic.Bool
	queue        *frameQueue
	fps          float64

	acqStop chan struct{}
	acqDone chan struct{}

	mu         sync.Mutex
	writerDone chan struct{}

	acquireTimeout time.Duration
	writerTimeout  time.Duration
}

// New builds a pipeline. dataRoot is the academy data directory; sync may
// be nil when no correlation device is configured.
func New(deviceID string, dev CaptureDevice, cfg models.CameraConfig, dataRoot string, sync SyncSource, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Pipeline{
		deviceID:       deviceID,
		dev:            dev,
		cfg:            cfg,
		dataRoot:       dataRoot,
		sync:           sync,
		encoder:        NewMJPEGEncoder,
		log:            log,
		queue:          newFrameQueue(),
		acquireTimeout: DefaultAcquireTimeout,
		writerTimeout:  DefaultWriterAckTimeout,
	}
}

// SetEncoderFactory overrides the segment encoder, mainly for tests.
func (p *Pipeline) SetEncoderFactory(f EncoderFactory) { p.encoder = f }

// SetTimeouts overrides the bounded waits, mainly for tests.
func (p *Pipeline) SetTimeouts(acquire, writer time.Duration) {
	p.acquireTimeout = acquire
	p.writerTimeout = writer
}

// Config returns the pipeline's camera configuration.
func (p *Pipeline) Config() models.CameraConfig { return p.cfg }

// Acquiring reports whether the acquisition worker is alive.
func (p *Pipeline) Acquiring() bool { return p.acquiring.Load() }

// StartAcquisition spawns the acquisition worker and blocks until it
// confirms the device is live, reporting the negotiated fps.
func (p *Pipeline) StartAcquisition() (float64, error) {
	if !p.acquiring.CompareAndSwap(false, true) {
		return 0, ErrAlreadyAcquiring
	}

	p.acqStop = make(chan struct{})
	p.acqDone = make(chan struct{})

	ready := make(chan error, 1)

	go p.acquireLoop(ready)

	select {
	case err := <-ready:
		if err != nil {
			p.acquiring.Store(false)
			return 0, err
		}

		return p.fps, nil
	case <-time.After(p.acquireTimeout):
		p.acquiring.Store(false)
		return 0, ErrAcquireTimeout
	}
}

func (p *Pipeline) acquireLoop(ready chan<- error) {
	defer close(p.acqDone)
	defer p.acquiring.Store(false)
	// The writer may not outlive this worker, whatever the exit path.
	defer func() { _ = p.StopWrite() }()

	settings := CaptureSettings{
		Width:    p.cfg.Width,
		Height:   p.cfg.Height,
		FPS:      p.cfg.FPS,
		Exposure: p.cfg.Exposure,
		Gain:     p.cfg.Gain,
	}

	if err := p.dev.Open(settings); err != nil {
		ready <- errors.Join(ErrOpenFailed, err)
		return
	}

	defer func() { _ = p.dev.Close() }()

	// One probe read confirms the device is actually delivering.
	probe, err := p.dev.Read()
	if err != nil {
		ready <- errors.Join(ErrOpenFailed, err)
		return
	}

	p.fps = p.dev.FPS()

	dispW, dispH := displaySize(probe.Width, probe.Height)
	p.preview.Store(downsample(probe, dispW, dispH))

	ready <- nil

	for {
		select {
		case <-p.acqStop:
			return
		default:
		}

		frame, err := p.dev.Read()
		if err != nil {
			// Fatal device disconnection: no reconnect attempts; the
			// operator resolves it with an explicit stop and restart.
			p.log.Error().Err(err).
				Str("device_id", p.deviceID).
				Str("capture", p.cfg.Capture).
				Msg("Frame read failed, stopping acquisition")

			return
		}

		p.preview.Store(downsample(frame, dispW, dispH))

		if p.writeEnabled.Load() {
			p.queue.push(frame)
		}
	}
}

// GetImage returns the current preview frame, or nil when acquisition is
// not active. Never blocks.
func (p *Pipeline) GetImage() *Frame {
	if !p.acquiring.Load() {
		return nil
	}

	return p.preview.Load()
}

// FPS reports the negotiated capture rate.
func (p *Pipeline) FPS() float64 { return p.fps }

// Writing reports whether frame persistence is enabled.
func (p *Pipeline) Writing() bool { return p.writeEnabled.Load() }

// StartWrite enables writing and spawns the writer sub-task if it is not
// already running, blocking up to the ack timeout for the first segment
// to open.
func (p *Pipeline) StartWrite(protocol, subject string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.acquiring.Load() {
		return ErrNotAcquiring
	}

	if p.writeEnabled.Load() {
		return nil
	}

	p.queue.reset()
	p.writeEnabled.Store(true)

	if p.writerDone != nil {
		select {
		case <-p.writerDone:
		default:
			return nil
		}
	}

	p.writerDone = make(chan struct{})
	ack := make(chan error, 1)

	go p.writeLoop(protocol, subject, ack, p.writerDone)

	select {
	case err := <-ack:
		if err != nil {
			p.writeEnabled.Store(false)
			return err
		}

		return nil
	case <-time.After(p.writerTimeout):
		p.writeEnabled.Store(false)
		return ErrWriterTimeout
	}
}

// StopWrite disables writing and blocks until the writer has flushed and
// joined. Calling it when writing is already disabled is a no-op success.
func (p *Pipeline) StopWrite() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.writeEnabled.Load() {
		return nil
	}

	p.writeEnabled.Store(false)

	if p.writerDone != nil {
		<-p.writerDone
		p.writerDone = nil
	}

	return nil
}

// StopAcquisition disables writing, then signals the acquisition loop to
// exit and joins the worker. Writing is stopped even when the worker
// already died on its own, so a stop always leaves the pipeline fully
// idle.
func (p *Pipeline) StopAcquisition() error {
	if err := p.StopWrite(); err != nil {
		return err
	}

	if !p.acquiring.Load() {
		return nil
	}

	close(p.acqStop)
	<-p.acqDone

	return nil
}
