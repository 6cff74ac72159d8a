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

package models

import "time"

// Command is the closed set of request families accepted by the server.
type Command string

const (
	CmdConfig    Command = "CONFIG"
	CmdPorts     Command = "PORTS"
	CmdProtocols Command = "PROTOCOLS"
	CmdSubjects  Command = "SUBJECTS"
	CmdSettings  Command = "SETTINGS"
	CmdCameras   Command = "CAMERAS"
	CmdLogs      Command = "LOGS"
	CmdBpod      Command = "BPOD"
	CmdPresets   Command = "PRESETS"
	CmdStartAll  Command = "STARTALL"
	CmdClose     Command = "CLOSE"
)

// Action selects the operation within a command family.
type Action string

const (
	ActionFetch      Action = "FETCH"
	ActionRefresh    Action = "REFRESH"
	ActionAdd        Action = "ADD"
	ActionRemove     Action = "REMOVE"
	ActionChangePort Action = "CHANGE_PORT"
	ActionStart      Action = "START"
	ActionGUI        Action = "GUI"
	ActionCalibrate  Action = "CALIBRATE"
	ActionRun        Action = "RUN"
	ActionQuery      Action = "QUERY"
	ActionStop       Action = "STOP"
	ActionEnd        Action = "END"
	ActionEdit       Action = "EDIT"
	ActionImage      Action = "IMAGE"
	ActionSync       Action = "SYNC"
	ActionCopy       Action = "COPY"
	ActionCreate     Action = "CREATE"
	ActionDelete     Action = "DELETE"
	ActionSave       Action = "SAVE"
	ActionLoad       Action = "LOAD"
)

// BpodPayload carries the arguments of the BPOD command family.
type BpodPayload struct {
	DeviceID string `json:"device_id"`
	Serial   string `json:"serial,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Settings string `json:"settings,omitempty"`
	Row      int    `json:"row,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// SubjectsPayload carries the arguments of the SUBJECTS family.
type SubjectsPayload struct {
	Protocol string `json:"protocol"`
	Subject  string `json:"subject,omitempty"`
}

// SettingsPayload carries the arguments of the SETTINGS family. The From*
// fields are used by COPY.
type SettingsPayload struct {
	Protocol     string `json:"protocol"`
	Subject      string `json:"subject"`
	Settings     string `json:"settings,omitempty"`
	FromProtocol string `json:"from_protocol,omitempty"`
	FromSubject  string `json:"from_subject,omitempty"`
	FromSettings string `json:"from_settings,omitempty"`
	Contents     []byte `json:"contents,omitempty"`
}

// CamerasPayload carries the arguments of the CAMERAS family.
type CamerasPayload struct {
	DeviceID string        `json:"device_id,omitempty"`
	Config   *CameraConfig `json:"config,omitempty"`
	Protocol string        `json:"protocol,omitempty"`
	Subject  string        `json:"subject,omitempty"`
}

// PresetsPayload names a training-configuration preset.
type PresetsPayload struct {
	Name    string        `json:"name"`
	Entries []PresetEntry `json:"entries,omitempty"`
}

// Request is the tagged request envelope. Exactly the payload matching the
// command family is populated; a missing payload is a malformed request.
type Request struct {
	Command  Command          `json:"command"`
	Action   Action           `json:"action,omitempty"`
	Bpod     *BpodPayload     `json:"bpod,omitempty"`
	Subjects *SubjectsPayload `json:"subjects,omitempty"`
	Settings *SettingsPayload `json:"settings,omitempty"`
	Cameras  *CamerasPayload  `json:"cameras,omitempty"`
	Presets  *PresetsPayload  `json:"presets,omitempty"`
}

// ImagePayload is one preview frame at display resolution.
type ImagePayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pixels []byte `json:"pixels"`
}

// Reply answers a Request. Code is always set; the remaining fields depend
// on the command family.
type Reply struct {
	Code    ResultCode    `json:"code"`
	Error   string        `json:"error,omitempty"`
	Config  *FleetConfig  `json:"config,omitempty"`
	Ports   []PortInfo    `json:"ports,omitempty"`
	Names   []string      `json:"names,omitempty"`
	Device  *Device       `json:"device,omitempty"`
	FPS     float64       `json:"fps,omitempty"`
	Image   *ImagePayload `json:"image,omitempty"`
	Entries []PresetEntry `json:"entries,omitempty"`
}

// EventType tags broadcast notifications mirroring the state-changing
// subset of the command vocabulary.
type EventType string

const (
	EventDeviceAdded        EventType = "device.added"
	EventDeviceRemoved      EventType = "device.removed"
	EventPortChanged        EventType = "device.port_changed"
	EventDeviceStarted      EventType = "device.started"
	EventRunStarted         EventType = "run.started"
	EventRunStopped         EventType = "run.stopped"
	EventDeviceEnded        EventType = "device.ended"
	EventProtocolsRefreshed EventType = "protocols.refreshed"
	EventCamerasRefreshed   EventType = "cameras.refreshed"
	EventServerClosed       EventType = "server.closed"
)

// Event is the broadcast envelope published after every successful
// state-changing operation. Delivery order relative to the matching reply
// is not guaranteed; clients must tolerate reordering.
type Event struct {
	ID       string      `json:"id"`
	Type     EventType   `json:"type"`
	Time     time.Time   `json:"time"`
	DeviceID string      `json:"device_id,omitempty"`
	Serial   string      `json:"serial,omitempty"`
	Code     ResultCode  `json:"code,omitempty"`
	Run      *RunDetails `json:"run,omitempty"`
	Names    []string    `json:"names,omitempty"`
}
