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

// Package core is the control-plane server. It owns the fleet table, one
// supervisor per started device, one camera pipeline per configured
// camera and the shared sync device, and serves the request/reply and
// broadcast endpoints over NATS.
package core

import (
	"encoding/json"
	"io"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/RatAcad/BpodAcademy/pkg/academy"
	"github.com/RatAcad/BpodAcademy/pkg/camera"
	"github.com/RatAcad/BpodAcademy/pkg/engine"
	"github.com/RatAcad/BpodAcademy/pkg/logger"
	"github.com/RatAcad/BpodAcademy/pkg/models"
	"github.com/RatAcad/BpodAcademy/pkg/supervisor"
	"github.com/RatAcad/BpodAcademy/pkg/syncdev"
)

// SyncController is the shared correlation device. Satisfied by
// *syncdev.Driver; tests substitute an in-memory implementation.
type SyncController interface {
	Active() bool
	StartDevice() error
	StopDevice() error
	StartChannel(channel int, owner string) error
	StopChannel(channel int, owner string) error
	GetSyncTimes(channel int, maxHostTime time.Time, drain bool) []syncdev.Event
	Close() error
}

// EngineFactory builds the engine instance for one device. The output
// writer feeds the device's rolling log buffer.
type EngineFactory func(dev models.Device, port string, output io.Writer) engine.Engine

// CaptureOpener builds the capture device for one camera configuration.
type CaptureOpener func(cfg models.CameraConfig) camera.CaptureDevice

// PortLister enumerates connected serial hardware.
type PortLister func() ([]models.PortInfo, error)

// recordingState records exactly which coordination steps a run start
// performed, so failure and stop paths release them in reverse and
// nothing else.
type recordingState struct {
	startedAcq   bool
	startedWrite bool
	syncChannel  int // -1 when no channel was claimed
}

func (r recordingState) active() bool {
	return r.startedAcq || r.startedWrite || r.syncChannel >= 0
}

// Server serializes the whole command vocabulary through one dispatch
// goroutine, so at most one request mutates fleet state at a time.
type Server struct {
	cfg   *Config
	log   logger.Logger
	store *academy.Store
	sync  SyncController // nil when no sync device is configured

	fleet       *models.FleetConfig
	supervisors map[string]*supervisor.Supervisor
	pipelines   map[string]*camera.Pipeline
	recording   map[string]recordingState
	syncTests   map[string]int

	engines EngineFactory
	openCam CaptureOpener
	ports   PortLister
	events  EventPublisher

	nc       *nats.Conn
	sub      *nats.Subscription
	requests chan *nats.Msg
	done     chan struct{}
	closed   atomic.Bool
}

// NewServer loads the fleet table and builds the server. All devices
// start Offline regardless of how the previous process ended.
func NewServer(cfg *Config, store *academy.Store, sync SyncController, log logger.Logger) (*Server, error) {
	fleet, err := store.LoadFleet()
	if err != nil {
		return nil, err
	}

	if cfg.Supervisor.LogDir == "" {
		cfg.Supervisor.LogDir = store.LogDir()
	}

	s := &Server{
		cfg:         cfg,
		log:         log,
		store:       store,
		sync:        sync,
		fleet:       fleet,
		supervisors: make(map[string]*supervisor.Supervisor),
		pipelines:   make(map[string]*camera.Pipeline),
		recording:   make(map[string]recordingState),
		syncTests:   make(map[string]int),
		ports:       syncdev.ListPorts,
		done:        make(chan struct{}),
	}

	s.engines = s.defaultEngineFactory
	s.openCam = defaultCaptureOpener

	return s, nil
}

// SetEngineFactory overrides engine construction. Test seam.
func (s *Server) SetEngineFactory(f EngineFactory) { s.engines = f }

// SetCaptureOpener overrides capture device construction. Test seam.
func (s *Server) SetCaptureOpener(f CaptureOpener) { s.openCam = f }

// SetPortLister overrides serial port discovery. Test seam.
func (s *Server) SetPortLister(f PortLister) { s.ports = f }

// SetPublisher overrides the broadcast publisher. Test seam.
func (s *Server) SetPublisher(p EventPublisher) { s.events = p }

// defaultEngineFactory builds an emulated engine for EMU devices and an
// exec-hosted one otherwise.
func (s *Server) defaultEngineFactory(dev models.Device, port string, output io.Writer) engine.Engine {
	if dev.Emulated() {
		return &engine.Emulated{Output: output}
	}

	return engine.NewExecEngine(s.cfg.EngineCommand, dev.ID, port, output)
}

// defaultCaptureOpener backs a camera with the local V4L2 hardware named
// by its capture identifier. The "sim" identifier maps to the synthetic
// device, for rigs exercised without cameras attached.
func defaultCaptureOpener(cfg models.CameraConfig) camera.CaptureDevice {
	if cfg.Capture == "" || cfg.Capture == "sim" {
		return &camera.SimulatedDevice{Paced: true}
	}

	return camera.NewV4L2Device(cfg.Capture)
}

// Serve subscribes the request endpoint on an established connection and
// starts the dispatch goroutine.
func (s *Server) Serve(nc *nats.Conn) error {
	s.nc = nc

	if s.events == nil {
		s.events = &natsPublisher{nc: nc}
	}

	s.requests = make(chan *nats.Msg, 64)

	sub, err := nc.ChanSubscribe(RequestSubject, s.requests)
	if err != nil {
		return err
	}

	s.sub = sub

	go s.dispatchLoop()

	s.log.Info().Str("subject", RequestSubject).Msg("Control plane serving")

	return nil
}

// Done closes when the server has shut down.
func (s *Server) Done() <-chan struct{} { return s.done }

// dispatchLoop answers requests one at a time. Holding the loop for the
// duration of each handler is what makes every operation atomic with
// respect to fleet state.
func (s *Server) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.requests:
			var req models.Request

			var reply *models.Reply

			if err := json.Unmarshal(msg.Data, &req); err != nil {
				reply = &models.Reply{Code: models.CodeInvalid, Error: "malformed request: " + err.Error()}
			} else {
				reply = s.Handle(&req)
			}

			data, err := json.Marshal(reply)
			if err != nil {
				s.log.Error().Err(err).Msg("Failed to encode reply")
				continue
			}

			if err := msg.Respond(data); err != nil {
				s.log.Warn().Err(err).Msg("Failed to deliver reply")
			}

			if req.Command == models.CmdClose && reply.Code.OK() {
				s.Close()
				return
			}
		}
	}
}

// Close shuts the server down: unsubscribes, stops every camera
// pipeline, ends every started device and releases the sync device.
// Idempotent.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	close(s.done)

	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}

	for id, pl := range s.pipelines {
		// Unconditional: a pipeline whose acquisition died on its own may
		// still hold a writer to join.
		if err := pl.StopAcquisition(); err != nil {
			s.log.Warn().Err(err).Str("device_id", id).Msg("Failed to stop camera on shutdown")
		}
	}

	for id, sup := range s.supervisors {
		if code := sup.Close(); !code.OK() {
			s.log.Warn().Str("device_id", id).Str("code", string(code)).Msg("Device did not end cleanly on shutdown")
		}
	}

	if s.sync != nil {
		if s.sync.Active() {
			_ = s.sync.StopDevice()
		}

		if err := s.sync.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to close sync device")
		}
	}

	s.log.Info().Msg("Control plane stopped")
}
