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

package syncdev

import (
	"fmt"

	"go.bug.st/serial/enumerator"

	"github.com/RatAcad/BpodAcademy/pkg/models"
)

// ListPorts enumerates serial ports that look like rig hardware (USB
// ports with a serial number), answering the PORTS command.
func ListPorts() ([]models.PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}

	var out []models.PortInfo

	for _, p := range ports {
		if !p.IsUSB || p.SerialNumber == "" {
			continue
		}

		out = append(out, models.PortInfo{Serial: p.SerialNumber, Port: p.Name})
	}

	return out, nil
}
