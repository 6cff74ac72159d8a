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

// academyd runs the rig-fleet control plane: it loads the fleet table,
// serves the request/reply and broadcast endpoints, and supervises
// engine, camera and sync hardware for every device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/RatAcad/BpodAcademy/pkg/academy"
	"github.com/RatAcad/BpodAcademy/pkg/config"
	"github.com/RatAcad/BpodAcademy/pkg/core"
	"github.com/RatAcad/BpodAcademy/pkg/logger"
	"github.com/RatAcad/BpodAcademy/pkg/natsutil"
	"github.com/RatAcad/BpodAcademy/pkg/syncdev"
)

func main() {
	configPath := flag.String("config", "academyd.json", "Path to the academyd config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "academyd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bootLog, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("creating bootstrap logger: %w", err)
	}

	cfg := &core.Config{}
	if err := config.NewConfig(bootLog).LoadAndValidate(ctx, configPath, cfg); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := bootLog

	if cfg.Logging != nil {
		log, err = logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
	}

	store, err := academy.New(cfg.AcademyRoot)
	if err != nil {
		return fmt.Errorf("opening academy root: %w", err)
	}

	var sync core.SyncController

	if cfg.SyncPort != "" {
		drv, err := syncdev.Open(cfg.SyncPort, cfg.SyncBaud, log)
		if err != nil {
			return fmt.Errorf("opening sync device: %w", err)
		}

		if err := drv.StartDevice(); err != nil {
			return fmt.Errorf("starting sync device: %w", err)
		}

		sync = drv
	}

	srv, err := core.NewServer(cfg, store, sync, log)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	url := cfg.NATSURL

	if url == "" {
		ns, clientURL, err := natsutil.StartEmbedded(cfg.ListenHost, cfg.ListenPort)
		if err != nil {
			return fmt.Errorf("starting embedded nats: %w", err)
		}
		defer ns.Shutdown()

		url = clientURL

		log.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	nc, err := nats.Connect(url, nats.Name("academyd"))
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer nc.Close()

	if err := srv.Serve(nc); err != nil {
		return fmt.Errorf("serving control plane: %w", err)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
		srv.Close()
	case <-srv.Done():
	}

	return nil
}
