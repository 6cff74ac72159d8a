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

	"github.com/RatAcad/BpodAcademy/pkg/logger"
	"github.com/RatAcad/BpodAcademy/pkg/supervisor"
)

// NATS subjects of the two external channels.
const (
	// RequestSubject carries the synchronous request/reply endpoint.
	RequestSubject = "academy.cmd"
	// EventSubjectPrefix is completed with the event type for the
	// fire-and-forget broadcast endpoint.
	EventSubjectPrefix = "academy.events."
)

var errNoAcademyRoot = errors.New("academy_root is required")

// Config is the academyd server configuration, loaded from JSON.
type Config struct {
	// AcademyRoot is the local academy directory tree.
	AcademyRoot string `json:"academy_root"`

	// NATSURL points at the broker carrying both endpoints. Empty means
	// academyd embeds its own.
	NATSURL string `json:"nats_url,omitempty"`

	// ListenHost/ListenPort configure the embedded broker.
	ListenHost string `json:"listen_host,omitempty"`
	ListenPort int    `json:"listen_port,omitempty"`

	// SyncPort is the correlation device's serial port; empty disables
	// the sync driver.
	SyncPort string `json:"sync_port,omitempty"`
	SyncBaud int    `json:"sync_baud,omitempty"`

	// EngineCommand launches the engine host for non-emulated devices.
	EngineCommand []string `json:"engine_command,omitempty"`

	Supervisor supervisor.Config `json:"supervisor"`
	Logging    *logger.Config    `json:"logging,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.ListenHost == "" {
		c.ListenHost = "127.0.0.1"
	}

	if c.ListenPort == 0 {
		c.ListenPort = 4222
	}

	c.Supervisor.SetDefaults()
}

func (c *Config) Validate() error {
	if c.AcademyRoot == "" {
		return errNoAcademyRoot
	}

	return nil
}
