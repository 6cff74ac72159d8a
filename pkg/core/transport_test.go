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
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RatAcad/BpodAcademy/pkg/academy"
	"github.com/RatAcad/BpodAcademy/pkg/camera"
	"github.com/RatAcad/BpodAcademy/pkg/logger"
	"github.com/RatAcad/BpodAcademy/pkg/models"
	"github.com/RatAcad/BpodAcademy/pkg/natsutil"
)

func startNATSServer(t *testing.T) *nats.Conn {
	t.Helper()

	srv, url, err := natsutil.StartEmbedded("127.0.0.1", -1)
	require.NoError(t, err)

	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(url)
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	return nc
}

func request(t *testing.T, nc *nats.Conn, req *models.Request) *models.Reply {
	t.Helper()

	data, err := json.Marshal(req)
	require.NoError(t, err)

	msg, err := nc.Request(RequestSubject, data, 5*time.Second)
	require.NoError(t, err)

	var reply models.Reply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))

	return &reply
}

func TestServeOverNATS(t *testing.T) {
	nc := startNATSServer(t)

	root := t.TempDir()

	store, err := academy.New(root)
	require.NoError(t, err)

	srv, err := NewServer(testServerConfig(root), store, nil, logger.NewTestLogger())
	require.NoError(t, err)

	srv.SetPortLister(func() ([]models.PortInfo, error) { return nil, nil })
	srv.SetCaptureOpener(func(models.CameraConfig) camera.CaptureDevice {
		return &camera.SimulatedDevice{Paced: true}
	})

	var mu sync.Mutex

	var seen []models.Event

	sub, err := nc.Subscribe(EventSubjectPrefix+">", func(msg *nats.Msg) {
		var ev models.Event
		if json.Unmarshal(msg.Data, &ev) == nil {
			mu.Lock()
			seen = append(seen, ev)
			mu.Unlock()
		}
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = sub.Unsubscribe() })

	require.NoError(t, srv.Serve(nc))
	t.Cleanup(srv.Close)

	reply := request(t, nc, &models.Request{Command: models.CmdConfig})
	require.Equal(t, models.CodeOK, reply.Code)
	assert.Empty(t, reply.Config.Devices)

	reply = request(t, nc, &models.Request{
		Command: models.CmdBpod, Action: models.ActionAdd,
		Bpod: &models.BpodPayload{DeviceID: "box1", Serial: models.SerialEmulated},
	})
	require.Equal(t, models.CodeOK, reply.Code, reply.Error)

	reply = request(t, nc, &models.Request{
		Command: models.CmdBpod, Action: models.ActionStart,
		Bpod: &models.BpodPayload{DeviceID: "box1"},
	})
	require.Equal(t, models.CodeNoCalibration, reply.Code, reply.Error)

	reply = request(t, nc, &models.Request{
		Command: models.CmdBpod, Action: models.ActionRun,
		Bpod: &models.BpodPayload{DeviceID: "box1", Protocol: "protocolA", Subject: "rat7"},
	})
	require.Equal(t, models.CodeOK, reply.Code, reply.Error)

	reply = request(t, nc, &models.Request{
		Command: models.CmdBpod, Action: models.ActionQuery,
		Bpod: &models.BpodPayload{DeviceID: "box1"},
	})
	require.Equal(t, models.CodeOK, reply.Code)
	require.NotNil(t, reply.Device)
	assert.Equal(t, models.StatusRunning, reply.Device.Status)

	reply = request(t, nc, &models.Request{
		Command: models.CmdBpod, Action: models.ActionStop,
		Bpod: &models.BpodPayload{DeviceID: "box1"},
	})
	require.Equal(t, models.CodeOK, reply.Code)

	reply = request(t, nc, &models.Request{
		Command: models.CmdBpod, Action: models.ActionEnd,
		Bpod: &models.BpodPayload{DeviceID: "box1"},
	})
	require.Equal(t, models.CodeOK, reply.Code)

	reply = request(t, nc, &models.Request{Command: models.CmdClose})
	require.Equal(t, models.CodeOK, reply.Code)

	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after close")
	}

	// Every state change was mirrored on the broadcast endpoint, each
	// event carrying a unique id.
	expected := []models.EventType{
		models.EventDeviceAdded,
		models.EventDeviceStarted,
		models.EventRunStarted,
		models.EventRunStopped,
		models.EventDeviceEnded,
		models.EventServerClosed,
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(seen) >= len(expected)
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	ids := map[string]bool{}

	for i, want := range expected {
		assert.Equal(t, want, seen[i].Type)
		assert.NotEmpty(t, seen[i].ID)

		ids[seen[i].ID] = true
	}

	assert.Len(t, ids, len(expected))
}

func TestRequestsAnsweredOneAtATime(t *testing.T) {
	nc := startNATSServer(t)

	root := t.TempDir()

	store, err := academy.New(root)
	require.NoError(t, err)

	srv, err := NewServer(testServerConfig(root), store, nil, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, srv.Serve(nc))
	t.Cleanup(srv.Close)

	// Fire a burst of config fetches; every one gets its own reply.
	var wg sync.WaitGroup

	errs := make([]error, 10)

	for i := range errs {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			data, _ := json.Marshal(&models.Request{Command: models.CmdConfig})
			_, errs[i] = nc.Request(RequestSubject, data, 5*time.Second)
		}(i)
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}
