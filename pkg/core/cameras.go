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

package core

import (
	"errors"

	"github.com/RatAcad/BpodAcademy/pkg/camera"
	"github.com/RatAcad/BpodAcademy/pkg/models"
	"github.com/RatAcad/BpodAcademy/pkg/syncdev"
)

var errNoCamera = errors.New("no camera configured for device")

// ensurePipeline returns the device's pipeline, building it from the
// fleet's camera configuration on first use.
func (s *Server) ensurePipeline(deviceID string) (*camera.Pipeline, error) {
	if pl, okp := s.pipelines[deviceID]; okp {
		return pl, nil
	}

	cfg, okc := s.fleet.Cameras[deviceID]
	if !okc {
		return nil, errNoCamera
	}

	var sync camera.SyncSource
	if s.sync != nil {
		sync = s.sync
	}

	pl := camera.New(deviceID, s.openCam(cfg), cfg, s.store.Root(), sync, s.log)
	s.pipelines[deviceID] = pl

	return pl, nil
}

func (s *Server) handleCameras(req *models.Request) *models.Reply {
	if req.Action == models.ActionFetch || req.Action == models.ActionRefresh {
		return s.fetchCameras(req.Action == models.ActionRefresh)
	}

	p := req.Cameras
	if p == nil || p.DeviceID == "" {
		return invalid("cameras request requires a device id")
	}

	switch req.Action {
	case models.ActionEdit:
		return s.editCamera(p)
	case models.ActionStart:
		return s.startCamera(p.DeviceID)
	case models.ActionImage:
		return s.cameraImage(p.DeviceID)
	case models.ActionStop:
		return s.stopCamera(p.DeviceID)
	case models.ActionSync:
		return s.toggleCameraSync(p.DeviceID)
	default:
		return invalid("unknown cameras action " + string(req.Action))
	}
}

func (s *Server) fetchCameras(refresh bool) *models.Reply {
	snap := &models.FleetConfig{Cameras: make(map[string]models.CameraConfig, len(s.fleet.Cameras))}
	for id, cam := range s.fleet.Cameras {
		snap.Cameras[id] = cam
	}

	if refresh {
		s.publish(models.Event{Type: models.EventCamerasRefreshed})
	}

	return &models.Reply{Code: models.CodeOK, Config: snap}
}

// editCamera replaces a device's camera configuration. The cached
// pipeline is discarded so the next start picks the new settings up.
func (s *Server) editCamera(p *models.CamerasPayload) *models.Reply {
	if p.Config == nil {
		return invalid("cameras edit requires a configuration")
	}

	if s.findDevice(p.DeviceID) == nil {
		return &models.Reply{Code: models.CodeNotFound, Error: "no device " + p.DeviceID}
	}

	if pl, okp := s.pipelines[p.DeviceID]; okp {
		if pl.Acquiring() {
			return &models.Reply{Code: models.CodeBusy, Error: "stop the camera before editing it"}
		}

		delete(s.pipelines, p.DeviceID)
	}

	cfg := *p.Config
	cfg.DeviceID = p.DeviceID

	old, existed := s.fleet.Cameras[p.DeviceID]
	s.fleet.Cameras[p.DeviceID] = cfg

	if err := s.store.SaveFleet(s.fleet); err != nil {
		if existed {
			s.fleet.Cameras[p.DeviceID] = old
		} else {
			delete(s.fleet.Cameras, p.DeviceID)
		}

		return fail(models.CodeFailed, err)
	}

	s.publish(models.Event{Type: models.EventCamerasRefreshed, DeviceID: p.DeviceID})

	return ok()
}

func (s *Server) startCamera(deviceID string) *models.Reply {
	pl, err := s.ensurePipeline(deviceID)
	if err != nil {
		return fail(models.CodeNotFound, err)
	}

	fps, err := pl.StartAcquisition()
	if err != nil {
		return fail(acquisitionCode(err), err)
	}

	return &models.Reply{Code: models.CodeOK, FPS: fps}
}

// cameraImage hands back the most recent preview frame without waiting
// for a fresh one.
func (s *Server) cameraImage(deviceID string) *models.Reply {
	pl, okp := s.pipelines[deviceID]
	if !okp || !pl.Acquiring() {
		return &models.Reply{Code: models.CodeNoSignal, Error: "camera is not acquiring"}
	}

	frame := pl.GetImage()
	if frame == nil {
		return &models.Reply{Code: models.CodeNoSignal, Error: "no frame captured yet"}
	}

	return &models.Reply{Code: models.CodeOK, Image: &models.ImagePayload{
		Width:  frame.Width,
		Height: frame.Height,
		Pixels: frame.Pixels,
	}}
}

func (s *Server) stopCamera(deviceID string) *models.Reply {
	pl, okp := s.pipelines[deviceID]
	if !okp || !pl.Acquiring() {
		return invalid("camera is not acquiring")
	}

	if rec, okr := s.recording[deviceID]; okr && rec.active() {
		return &models.Reply{Code: models.CodeBusy, Error: "camera is recording an active run"}
	}

	if err := pl.StopAcquisition(); err != nil {
		if errors.Is(err, camera.ErrNotAcquiring) {
			return invalid("camera is not acquiring")
		}

		return fail(models.CodeFailed, err)
	}

	return ok()
}

// toggleCameraSync flips the device's sync channel outside of a run, so
// operators can verify the wiring end to end.
func (s *Server) toggleCameraSync(deviceID string) *models.Reply {
	if channel, okt := s.syncTests[deviceID]; okt {
		delete(s.syncTests, deviceID)

		if err := s.sync.StopChannel(channel, deviceID); err != nil {
			return fail(models.CodeFailed, err)
		}

		return ok()
	}

	cam, okc := s.fleet.Cameras[deviceID]
	if !okc || cam.SyncChannel == nil {
		return invalid("no sync channel configured for device")
	}

	if s.sync == nil || !s.sync.Active() {
		return &models.Reply{Code: models.CodeNoSignal, Error: "sync device is not active"}
	}

	if err := s.sync.StartChannel(*cam.SyncChannel, deviceID); err != nil {
		if errors.Is(err, syncdev.ErrChannelBusy) {
			return fail(models.CodeBusy, err)
		}

		return fail(models.CodeFailed, err)
	}

	s.syncTests[deviceID] = *cam.SyncChannel

	return ok()
}
