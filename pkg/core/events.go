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
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/RatAcad/BpodAcademy/pkg/models"
)

// EventPublisher delivers broadcast notifications. Delivery is
// fire-and-forget; a lost event never fails the operation it mirrors.
type EventPublisher interface {
	Publish(ev *models.Event) error
}

type natsPublisher struct {
	nc *nats.Conn
}

func (p *natsPublisher) Publish(ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return p.nc.Publish(EventSubjectPrefix+string(ev.Type), data)
}

// publish stamps and broadcasts one event after a successful
// state-changing operation.
func (s *Server) publish(ev models.Event) {
	if s.events == nil {
		return
	}

	ev.ID = uuid.NewString()
	ev.Time = time.Now()

	if err := s.events.Publish(&ev); err != nil {
		s.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish event")
	}
}
