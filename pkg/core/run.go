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
)

// runDevice launches a protocol run, coordinating the device's camera
// and sync channel when its configuration asks for recording. Every
// failure branch releases exactly what was already claimed, in reverse,
// so a failed start leaves no trace.
func (s *Server) runDevice(dev *models.Device, p *models.BpodPayload) *models.Reply {
	if dev.Status == models.StatusRunning {
		return &models.Reply{Code: models.CodeBusy, Error: "a run is already active"}
	}

	if !dev.Status.CanRun() {
		return invalid("device is offline")
	}

	if p.Protocol == "" || p.Subject == "" {
		return invalid("bpod run requires a protocol and subject")
	}

	sup, okd := s.supervisors[dev.ID]
	if !okd {
		return invalid("device is offline")
	}

	rec, errReply := s.startRecording(dev.ID, p)
	if errReply != nil {
		return errReply
	}

	code := sup.Run(p.Protocol, p.Subject, p.Settings)
	if code != models.CodeOK {
		s.unwindRecording(dev.ID, rec)
		return &models.Reply{Code: code}
	}

	dev.Status = models.StatusRunning
	dev.Run = &models.RunDetails{Protocol: p.Protocol, Subject: p.Subject, Settings: p.Settings}

	if rec.active() {
		s.recording[dev.ID] = rec
	}

	s.publish(models.Event{Type: models.EventRunStarted, DeviceID: dev.ID, Run: dev.Run})

	return ok()
}

// startRecording claims the recording resources a run needs, in order:
// acquisition, sync channel, writer. A nil error reply with an inactive
// state means the run records nothing.
func (s *Server) startRecording(deviceID string, p *models.BpodPayload) (recordingState, *models.Reply) {
	rec := recordingState{syncChannel: -1}

	cam, okc := s.fleet.Cameras[deviceID]
	if !okc || cam.RecordProtocol == "" || cam.RecordProtocol != p.Protocol {
		return rec, nil
	}

	pl, err := s.ensurePipeline(deviceID)
	if err != nil {
		return rec, fail(models.CodeOpenFailed, err)
	}

	if !pl.Acquiring() {
		if _, err := pl.StartAcquisition(); err != nil {
			return rec, fail(acquisitionCode(err), err)
		}

		rec.startedAcq = true
	}

	if cam.SyncChannel != nil && s.sync != nil {
		if err := s.sync.StartChannel(*cam.SyncChannel, deviceID); err != nil {
			s.unwindRecording(deviceID, rec)
			return rec, fail(models.CodeFailed, err)
		}

		rec.syncChannel = *cam.SyncChannel
	}

	if err := pl.StartWrite(p.Protocol, p.Subject); err != nil {
		s.unwindRecording(deviceID, rec)
		return rec, fail(models.CodeFailed, err)
	}

	rec.startedWrite = true

	return rec, nil
}

// unwindRecording releases claimed recording resources in reverse claim
// order. Release failures are logged and do not halt the unwind.
func (s *Server) unwindRecording(deviceID string, rec recordingState) {
	pl := s.pipelines[deviceID]

	if rec.startedWrite && pl != nil {
		if err := pl.StopWrite(); err != nil {
			s.log.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to stop camera writer")
		}
	}

	if rec.syncChannel >= 0 && s.sync != nil {
		if err := s.sync.StopChannel(rec.syncChannel, deviceID); err != nil {
			s.log.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to release sync channel")
		}
	}

	if rec.startedAcq && pl != nil {
		if err := pl.StopAcquisition(); err != nil {
			s.log.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to stop camera acquisition")
		}
	}
}

func acquisitionCode(err error) models.ResultCode {
	switch {
	case errors.Is(err, camera.ErrOpenFailed):
		return models.CodeOpenFailed
	case errors.Is(err, camera.ErrAlreadyAcquiring):
		return models.CodeBusy
	case errors.Is(err, camera.ErrAcquireTimeout):
		return models.CodeNoReply
	default:
		return models.CodeFailed
	}
}
