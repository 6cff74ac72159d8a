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

// Package natsutil embeds a NATS server so academyd needs no external
// broker; the test suite reuses it with an ephemeral port.
package natsutil

import (
	"errors"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

var errNotReady = errors.New("embedded nats server not ready for connections")

// StartEmbedded runs an in-process NATS server and waits until it
// accepts connections. Pass port -1 for an ephemeral port. The returned
// URL is ready for nats.Connect.
func StartEmbedded(host string, port int) (*server.Server, string, error) {
	srv, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, "", err
	}

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, "", errNotReady
	}

	return srv, srv.ClientURL(), nil
}
