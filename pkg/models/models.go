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

// Package models defines the shared types for the academy control plane.
package models

// SerialEmulated marks a device with no physical hardware attached.
const SerialEmulated = "EMU"

// Status is the device state machine: Offline -> Ready -> Running -> Ready
// -> Offline. All other transitions are rejected.
type Status int

const (
	StatusOffline Status = 0
	StatusReady   Status = 1
	StatusRunning Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// CanStart reports whether a Start command is valid from this state.
func (s Status) CanStart() bool { return s == StatusOffline }

// CanRun reports whether a Run command is valid from this state.
func (s Status) CanRun() bool { return s == StatusReady }

// CanStop reports whether a Stop command is valid from this state.
func (s Status) CanStop() bool { return s == StatusRunning }

// CanEnd reports whether an End command is valid from this state.
func (s Status) CanEnd() bool { return s == StatusReady }

// RunDetails identifies the protocol session active on a running device.
// Present only while Status == StatusRunning.
type RunDetails struct {
	Protocol string `json:"protocol"`
	Subject  string `json:"subject"`
	Settings string `json:"settings"`
}

// Device is one experiment rig in the fleet.
type Device struct {
	ID     string      `json:"id"`
	Serial string      `json:"serial"`
	Row    int         `json:"row"`
	Column int         `json:"column"`
	Status Status      `json:"status"`
	Run    *RunDetails `json:"run,omitempty"`
}

// Emulated reports whether the device runs without physical hardware.
func (d *Device) Emulated() bool { return d.Serial == SerialEmulated }

// CameraConfig is the per-device capture configuration. Zero values for
// FPS, Exposure and Gain mean "use the device default".
type CameraConfig struct {
	DeviceID       string `json:"device_id"`
	Capture        string `json:"capture"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	FPS            int    `json:"fps,omitempty"`
	Exposure       int    `json:"exposure,omitempty"`
	Gain           int    `json:"gain,omitempty"`
	SyncChannel    *int   `json:"sync_channel,omitempty"`
	RecordProtocol string `json:"record_protocol,omitempty"`
}

// FleetConfig is the ordered device collection plus per-device camera
// configuration, loaded once at server startup.
type FleetConfig struct {
	Devices []Device                `json:"devices"`
	Cameras map[string]CameraConfig `json:"cameras"`
}

// PresetEntry is one row of a named training-configuration preset.
type PresetEntry struct {
	DeviceID string `json:"device_id"`
	Protocol string `json:"protocol"`
	Subject  string `json:"subject"`
	Settings string `json:"settings"`
}

// PortInfo describes one discovered serial port.
type PortInfo struct {
	Serial string `json:"serial"`
	Port   string `json:"port"`
}
