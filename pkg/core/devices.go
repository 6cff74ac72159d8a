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
	"io"
	"strings"
	"sync"

	"github.com/RatAcad/BpodAcademy/pkg/engine"
	"github.com/RatAcad/BpodAcademy/pkg/models"
	"github.com/RatAcad/BpodAcademy/pkg/supervisor"
)

func (s *Server) findDevice(id string) *models.Device {
	for i := range s.fleet.Devices {
		if s.fleet.Devices[i].ID == id {
			return &s.fleet.Devices[i]
		}
	}

	return nil
}

func (s *Server) handleBpod(req *models.Request) *models.Reply {
	p := req.Bpod
	if p == nil || p.DeviceID == "" {
		return invalid("bpod request requires a device id")
	}

	if req.Action == models.ActionAdd {
		return s.addDevice(p)
	}

	dev := s.findDevice(p.DeviceID)
	if dev == nil {
		return &models.Reply{Code: models.CodeNotFound, Error: "no device " + p.DeviceID}
	}

	switch req.Action {
	case models.ActionRemove:
		return s.removeDevice(dev)
	case models.ActionChangePort:
		return s.changePort(dev, p.Serial)
	case models.ActionStart:
		return s.startDevice(dev)
	case models.ActionGUI:
		return s.engineCommand(dev, (*supervisor.Supervisor).SwitchGUI)
	case models.ActionCalibrate:
		return s.engineCommand(dev, (*supervisor.Supervisor).Calibrate)
	case models.ActionRun:
		return s.runDevice(dev, p)
	case models.ActionQuery:
		return s.queryDevice(dev)
	case models.ActionStop:
		return s.stopDevice(dev)
	case models.ActionEnd:
		return s.endDevice(dev)
	default:
		return invalid("unknown bpod action " + string(req.Action))
	}
}

func (s *Server) addDevice(p *models.BpodPayload) *models.Reply {
	if p.Serial == "" {
		return invalid("bpod add requires a serial")
	}

	if s.findDevice(p.DeviceID) != nil {
		return &models.Reply{Code: models.CodeDuplicate, Error: "device " + p.DeviceID + " already exists"}
	}

	s.fleet.Devices = append(s.fleet.Devices, models.Device{
		ID:     p.DeviceID,
		Serial: p.Serial,
		Row:    p.Row,
		Column: p.Column,
		Status: models.StatusOffline,
	})

	if err := s.store.SaveFleet(s.fleet); err != nil {
		s.fleet.Devices = s.fleet.Devices[:len(s.fleet.Devices)-1]
		return fail(models.CodeFailed, err)
	}

	s.publish(models.Event{Type: models.EventDeviceAdded, DeviceID: p.DeviceID, Serial: p.Serial})

	return ok()
}

func (s *Server) removeDevice(dev *models.Device) *models.Reply {
	if dev.Status != models.StatusOffline {
		return &models.Reply{Code: models.CodeBusy, Error: "end the device before removing it"}
	}

	if pl, okc := s.pipelines[dev.ID]; okc {
		if pl.Acquiring() {
			return &models.Reply{Code: models.CodeBusy, Error: "stop the camera before removing the device"}
		}

		delete(s.pipelines, dev.ID)
	}

	id := dev.ID
	serial := dev.Serial

	for i := range s.fleet.Devices {
		if s.fleet.Devices[i].ID == id {
			s.fleet.Devices = append(s.fleet.Devices[:i], s.fleet.Devices[i+1:]...)
			break
		}
	}

	delete(s.fleet.Cameras, id)

	if err := s.store.SaveFleet(s.fleet); err != nil {
		return fail(models.CodeFailed, err)
	}

	s.publish(models.Event{Type: models.EventDeviceRemoved, DeviceID: id, Serial: serial})

	return ok()
}

func (s *Server) changePort(dev *models.Device, serial string) *models.Reply {
	if serial == "" {
		return invalid("bpod change_port requires a serial")
	}

	if dev.Status != models.StatusOffline {
		return &models.Reply{Code: models.CodeBusy, Error: "end the device before changing its port"}
	}

	dev.Serial = serial

	if err := s.store.SaveFleet(s.fleet); err != nil {
		return fail(models.CodeFailed, err)
	}

	s.publish(models.Event{Type: models.EventPortChanged, DeviceID: dev.ID, Serial: serial})

	return ok()
}

// resolvePort maps the device's serial number to a connected port.
// Emulated devices skip discovery.
func (s *Server) resolvePort(dev models.Device) (string, *models.Reply) {
	if dev.Emulated() {
		return "", nil
	}

	ports, err := s.ports()
	if err != nil {
		return "", fail(models.CodeFailed, err)
	}

	for _, p := range ports {
		if p.Serial == dev.Serial {
			return p.Port, nil
		}
	}

	return "", &models.Reply{
		Code:  models.CodeNotFound,
		Error: "serial " + dev.Serial + " not among connected ports",
	}
}

func (s *Server) newSupervisor(dev models.Device, port string) *supervisor.Supervisor {
	return supervisor.NewWithBuffer(dev.ID, s.cfg.Supervisor, s.log, func(output io.Writer) engine.Engine {
		return s.engines(dev, port, output)
	})
}

// registerStarted records a successful start. CodeNoCalibration signals
// the device is usable but its liquid calibration file is missing.
func (s *Server) registerStarted(dev *models.Device, sup *supervisor.Supervisor) models.ResultCode {
	s.supervisors[dev.ID] = sup
	dev.Status = models.StatusReady

	code := models.CodeOK
	if !s.store.HasCalibration(dev.ID) {
		code = models.CodeNoCalibration
	}

	s.publish(models.Event{Type: models.EventDeviceStarted, DeviceID: dev.ID, Serial: dev.Serial, Code: code})

	return code
}

func (s *Server) startDevice(dev *models.Device) *models.Reply {
	if !dev.Status.CanStart() {
		return &models.Reply{Code: models.CodeBusy, Error: "device already started"}
	}

	port, errReply := s.resolvePort(*dev)
	if errReply != nil {
		return errReply
	}

	sup := s.newSupervisor(*dev, port)

	if code := sup.Start(); !code.OK() {
		return &models.Reply{Code: code, Error: "engine failed to start"}
	}

	return &models.Reply{Code: s.registerStarted(dev, sup)}
}

// engineCommand forwards a run-excluded engine command (GUI, calibrate)
// to the device's supervisor.
func (s *Server) engineCommand(dev *models.Device, cmd func(*supervisor.Supervisor) models.ResultCode) *models.Reply {
	sup, okd := s.supervisors[dev.ID]
	if !okd {
		return invalid("device is offline")
	}

	return &models.Reply{Code: cmd(sup)}
}

func (s *Server) queryDevice(dev *models.Device) *models.Reply {
	sup, okd := s.supervisors[dev.ID]
	if !okd {
		return &models.Reply{Code: models.CodeOK, Device: snapshotDevice(dev)}
	}

	running, details, code := sup.Query()
	if !code.OK() {
		return &models.Reply{Code: code, Device: snapshotDevice(dev)}
	}

	// A run that ended on its own leaves the device Running until this
	// reconciliation observes the truth.
	if !running && dev.Status == models.StatusRunning {
		s.finishRun(dev)
	}

	if running {
		dev.Run = &details
	}

	return &models.Reply{Code: models.CodeOK, Device: snapshotDevice(dev)}
}

func snapshotDevice(dev *models.Device) *models.Device {
	snap := *dev

	if dev.Run != nil {
		run := *dev.Run
		snap.Run = &run
	}

	return &snap
}

func (s *Server) stopDevice(dev *models.Device) *models.Reply {
	if !dev.Status.CanStop() {
		return invalid("no run to stop")
	}

	sup, okd := s.supervisors[dev.ID]
	if !okd {
		return invalid("device is offline")
	}

	code := sup.Stop()
	if code != models.CodeOK {
		// CodeStillRunning leaves the device Running; the caller
		// retries.
		return &models.Reply{Code: code}
	}

	s.finishRun(dev)

	return ok()
}

// finishRun releases whatever the run start claimed, in reverse order,
// then returns the device to Ready and broadcasts the transition.
func (s *Server) finishRun(dev *models.Device) {
	if rec, okr := s.recording[dev.ID]; okr {
		s.unwindRecording(dev.ID, rec)
		delete(s.recording, dev.ID)
	}

	run := dev.Run
	dev.Status = models.StatusReady
	dev.Run = nil

	s.publish(models.Event{Type: models.EventRunStopped, DeviceID: dev.ID, Run: run})
}

func (s *Server) endDevice(dev *models.Device) *models.Reply {
	if dev.Status == models.StatusRunning {
		return &models.Reply{Code: models.CodeBusy, Error: "stop the run before ending the device"}
	}

	if !dev.Status.CanEnd() {
		return invalid("device is offline")
	}

	sup, okd := s.supervisors[dev.ID]
	if !okd {
		return invalid("device is offline")
	}

	code := sup.End()
	if code != models.CodeOK {
		return &models.Reply{Code: code}
	}

	sup.Close()
	delete(s.supervisors, dev.ID)
	dev.Status = models.StatusOffline

	s.publish(models.Event{Type: models.EventDeviceEnded, DeviceID: dev.ID, Serial: dev.Serial})

	return ok()
}

// handleStartAll starts every offline device concurrently. Successes
// stick even when siblings fail; the overall code is CodeOK only when
// every start succeeded.
func (s *Server) handleStartAll() *models.Reply {
	type startResult struct {
		dev  *models.Device
		sup  *supervisor.Supervisor
		code models.ResultCode
	}

	var candidates []*models.Device

	for i := range s.fleet.Devices {
		if s.fleet.Devices[i].Status.CanStart() {
			candidates = append(candidates, &s.fleet.Devices[i])
		}
	}

	if len(candidates) == 0 {
		return ok()
	}

	results := make([]startResult, len(candidates))

	var wg sync.WaitGroup

	for i, dev := range candidates {
		port, errReply := s.resolvePort(*dev)
		if errReply != nil {
			results[i] = startResult{dev: dev, code: errReply.Code}
			continue
		}

		sup := s.newSupervisor(*dev, port)
		results[i] = startResult{dev: dev, sup: sup}

		wg.Add(1)

		go func(r *startResult) {
			defer wg.Done()
			r.code = r.sup.Start()
		}(&results[i])
	}

	wg.Wait()

	var failures []string

	for _, r := range results {
		if r.sup != nil && r.code.OK() {
			s.registerStarted(r.dev, r.sup)
			continue
		}

		failures = append(failures, r.dev.ID+": "+string(r.code))
	}

	if len(failures) > 0 {
		return &models.Reply{Code: models.CodeFailed, Error: "failed to start " + strings.Join(failures, ", ")}
	}

	return ok()
}
