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
	"github.com/RatAcad/BpodAcademy/pkg/models"
)

// Handle executes one request against the fleet and returns its reply.
// Must only be called from the dispatch goroutine (or a test driving the
// server directly).
func (s *Server) Handle(req *models.Request) *models.Reply {
	switch req.Command {
	case models.CmdConfig:
		return s.handleConfig()
	case models.CmdPorts:
		return s.handlePorts()
	case models.CmdProtocols:
		return s.handleProtocols(req)
	case models.CmdSubjects:
		return s.handleSubjects(req)
	case models.CmdSettings:
		return s.handleSettings(req)
	case models.CmdCameras:
		return s.handleCameras(req)
	case models.CmdLogs:
		return s.handleLogs(req)
	case models.CmdBpod:
		return s.handleBpod(req)
	case models.CmdPresets:
		return s.handlePresets(req)
	case models.CmdStartAll:
		return s.handleStartAll()
	case models.CmdClose:
		return s.handleClose()
	default:
		return invalid("unknown command " + string(req.Command))
	}
}

func ok() *models.Reply {
	return &models.Reply{Code: models.CodeOK}
}

func invalid(reason string) *models.Reply {
	return &models.Reply{Code: models.CodeInvalid, Error: reason}
}

func fail(code models.ResultCode, err error) *models.Reply {
	reply := &models.Reply{Code: code}
	if err != nil {
		reply.Error = err.Error()
	}

	return reply
}

// handleConfig snapshots the fleet so the reply is stable even as later
// requests mutate state.
func (s *Server) handleConfig() *models.Reply {
	return &models.Reply{Code: models.CodeOK, Config: s.snapshotFleet()}
}

func (s *Server) snapshotFleet() *models.FleetConfig {
	snap := &models.FleetConfig{
		Devices: make([]models.Device, len(s.fleet.Devices)),
		Cameras: make(map[string]models.CameraConfig, len(s.fleet.Cameras)),
	}

	for i, dev := range s.fleet.Devices {
		snap.Devices[i] = dev

		if dev.Run != nil {
			run := *dev.Run
			snap.Devices[i].Run = &run
		}
	}

	for id, cam := range s.fleet.Cameras {
		snap.Cameras[id] = cam
	}

	return snap
}

func (s *Server) handlePorts() *models.Reply {
	ports, err := s.ports()
	if err != nil {
		return fail(models.CodeFailed, err)
	}

	return &models.Reply{Code: models.CodeOK, Ports: ports}
}

func (s *Server) handleProtocols(req *models.Request) *models.Reply {
	names, err := s.store.Protocols()
	if err != nil {
		return fail(models.CodeFailed, err)
	}

	if req.Action == models.ActionRefresh {
		s.publish(models.Event{Type: models.EventProtocolsRefreshed, Names: names})
	}

	return &models.Reply{Code: models.CodeOK, Names: names}
}

func (s *Server) handleSubjects(req *models.Request) *models.Reply {
	p := req.Subjects
	if p == nil || p.Protocol == "" {
		return invalid("subjects request requires a protocol")
	}

	switch req.Action {
	case models.ActionFetch:
		names, err := s.store.Subjects(p.Protocol)
		if err != nil {
			return fail(models.CodeFailed, err)
		}

		return &models.Reply{Code: models.CodeOK, Names: names}

	case models.ActionAdd:
		if p.Subject == "" {
			return invalid("subjects add requires a subject")
		}

		if err := s.store.AddSubject(p.Protocol, p.Subject); err != nil {
			return fail(models.CodeFailed, err)
		}

		return ok()

	default:
		return invalid("unknown subjects action " + string(req.Action))
	}
}

func (s *Server) handleSettings(req *models.Request) *models.Reply {
	p := req.Settings
	if p == nil || p.Protocol == "" || p.Subject == "" {
		return invalid("settings request requires a protocol and subject")
	}

	switch req.Action {
	case models.ActionFetch:
		names, err := s.store.Settings(p.Protocol, p.Subject)
		if err != nil {
			return fail(models.CodeFailed, err)
		}

		return &models.Reply{Code: models.CodeOK, Names: names}

	case models.ActionCopy:
		if p.FromProtocol == "" || p.FromSubject == "" || p.FromSettings == "" {
			return invalid("settings copy requires a source")
		}

		if err := s.store.CopySettings(p.FromProtocol, p.FromSubject, p.FromSettings, p.Protocol, p.Subject); err != nil {
			return fail(models.CodeFailed, err)
		}

		return ok()

	case models.ActionCreate:
		if p.Settings == "" {
			return invalid("settings create requires a name")
		}

		if err := s.store.CreateSettings(p.Protocol, p.Subject, p.Settings, p.Contents); err != nil {
			return fail(models.CodeFailed, err)
		}

		return ok()

	default:
		return invalid("unknown settings action " + string(req.Action))
	}
}

func (s *Server) handleLogs(req *models.Request) *models.Reply {
	if req.Action != models.ActionDelete {
		return invalid("unknown logs action " + string(req.Action))
	}

	if len(s.supervisors) > 0 {
		return &models.Reply{Code: models.CodeBusy, Error: "end all devices before deleting logs"}
	}

	if err := s.store.DeleteLogs(); err != nil {
		return fail(models.CodeFailed, err)
	}

	return ok()
}

func (s *Server) handlePresets(req *models.Request) *models.Reply {
	p := req.Presets
	if p == nil || p.Name == "" {
		return invalid("presets request requires a name")
	}

	switch req.Action {
	case models.ActionSave:
		if err := s.store.SavePreset(p.Name, p.Entries); err != nil {
			return fail(models.CodeFailed, err)
		}

		return ok()

	case models.ActionLoad:
		entries, err := s.store.LoadPreset(p.Name)
		if err != nil {
			return fail(models.CodeFailed, err)
		}

		if len(entries) == 0 {
			return &models.Reply{Code: models.CodeNotFound, Error: "no preset named " + p.Name}
		}

		return &models.Reply{Code: models.CodeOK, Entries: entries}

	default:
		return invalid("unknown presets action " + string(req.Action))
	}
}

// handleClose acknowledges first; the dispatch loop tears the server
// down after the reply is on the wire.
func (s *Server) handleClose() *models.Reply {
	s.publish(models.Event{Type: models.EventServerClosed})
	return ok()
}
