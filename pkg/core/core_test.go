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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RatAcad/BpodAcademy/pkg/academy"
	"github.com/RatAcad/BpodAcademy/pkg/camera"
	"github.com/RatAcad/BpodAcademy/pkg/engine"
	"github.com/RatAcad/BpodAcademy/pkg/logger"
	"github.com/RatAcad/BpodAcademy/pkg/models"
	"github.com/RatAcad/BpodAcademy/pkg/supervisor"
	"github.com/RatAcad/BpodAcademy/pkg/syncdev"
)

// recordingPublisher collects broadcasts instead of publishing them.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ev *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, *ev)

	return nil
}

func (p *recordingPublisher) ofType(t models.EventType) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []models.Event

	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}

	return out
}

// fakeSync is an in-memory SyncController tracking channel ownership.
type fakeSync struct {
	mu       sync.Mutex
	active   bool
	owners   map[int]string
	starts   []int
	stops    []int
	canned   []syncdev.Event
	startErr error
}

func newFakeSync() *fakeSync {
	return &fakeSync{active: true, owners: make(map[int]string)}
}

func (f *fakeSync) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.active
}

func (f *fakeSync) StartDevice() error { return nil }
func (f *fakeSync) StopDevice() error  { return nil }
func (f *fakeSync) Close() error       { return nil }

func (f *fakeSync) StartChannel(channel int, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return f.startErr
	}

	if cur, ok := f.owners[channel]; ok && cur != owner {
		return syncdev.ErrChannelBusy
	}

	f.owners[channel] = owner
	f.starts = append(f.starts, channel)

	return nil
}

func (f *fakeSync) StopChannel(channel int, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.owners[channel]; ok && cur != owner {
		return syncdev.ErrChannelBusy
	}

	delete(f.owners, channel)
	f.stops = append(f.stops, channel)

	return nil
}

func (f *fakeSync) GetSyncTimes(int, time.Time, bool) []syncdev.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.canned
}

func (f *fakeSync) owner(channel int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.owners[channel]
}

func testServerConfig(root string) *Config {
	return &Config{
		AcademyRoot: root,
		Supervisor: supervisor.Config{
			StartTimeout:     2 * time.Second,
			CommandTimeout:   2 * time.Second,
			RunGracePeriod:   20 * time.Millisecond,
			StopTimeout:      500 * time.Millisecond,
			LogFlushInterval: 20 * time.Millisecond,
		},
	}
}

func newTestServer(t *testing.T, syncCtl SyncController) (*Server, *recordingPublisher) {
	t.Helper()

	root := t.TempDir()

	store, err := academy.New(root)
	require.NoError(t, err)

	srv, err := NewServer(testServerConfig(root), store, syncCtl, logger.NewTestLogger())
	require.NoError(t, err)

	pub := &recordingPublisher{}
	srv.SetPublisher(pub)
	srv.SetPortLister(func() ([]models.PortInfo, error) { return nil, nil })
	srv.SetCaptureOpener(func(models.CameraConfig) camera.CaptureDevice {
		return &camera.SimulatedDevice{Paced: true}
	})

	t.Cleanup(srv.Close)

	return srv, pub
}

func bpodRequest(action models.Action, p models.BpodPayload) *models.Request {
	return &models.Request{Command: models.CmdBpod, Action: action, Bpod: &p}
}

func addDevice(t *testing.T, srv *Server, id string) {
	t.Helper()

	reply := srv.Handle(bpodRequest(models.ActionAdd, models.BpodPayload{DeviceID: id, Serial: models.SerialEmulated}))
	require.Equal(t, models.CodeOK, reply.Code, reply.Error)
}

func writeCalibration(t *testing.T, srv *Server, id string) {
	t.Helper()

	dir := filepath.Join(srv.store.Root(), "Calibration Files")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "LiquidCalibration_"+id+".mat"), nil, 0o644))
}

func startDevice(t *testing.T, srv *Server, id string) {
	t.Helper()

	writeCalibration(t, srv, id)

	reply := srv.Handle(bpodRequest(models.ActionStart, models.BpodPayload{DeviceID: id}))
	require.Equal(t, models.CodeOK, reply.Code, reply.Error)
}

func deviceStatus(srv *Server, id string) models.Status {
	return srv.findDevice(id).Status
}

func TestAddDuplicateAndRemove(t *testing.T) {
	srv, pub := newTestServer(t, nil)

	addDevice(t, srv, "box1")

	reply := srv.Handle(bpodRequest(models.ActionAdd, models.BpodPayload{DeviceID: "box1", Serial: "FT9"}))
	assert.Equal(t, models.CodeDuplicate, reply.Code)

	reply = srv.Handle(bpodRequest(models.ActionRemove, models.BpodPayload{DeviceID: "ghost"}))
	assert.Equal(t, models.CodeNotFound, reply.Code)

	reply = srv.Handle(bpodRequest(models.ActionRemove, models.BpodPayload{DeviceID: "box1"}))
	require.Equal(t, models.CodeOK, reply.Code)

	// The table change survives a reload.
	fleet, err := srv.store.LoadFleet()
	require.NoError(t, err)
	assert.Empty(t, fleet.Devices)

	assert.Len(t, pub.ofType(models.EventDeviceAdded), 1)
	assert.Len(t, pub.ofType(models.EventDeviceRemoved), 1)
}

func TestChangePortOnlyWhileOffline(t *testing.T) {
	srv, pub := newTestServer(t, nil)

	addDevice(t, srv, "box1")
	startDevice(t, srv, "box1")

	reply := srv.Handle(bpodRequest(models.ActionChangePort, models.BpodPayload{DeviceID: "box1", Serial: "FT2"}))
	assert.Equal(t, models.CodeBusy, reply.Code)

	reply = srv.Handle(bpodRequest(models.ActionEnd, models.BpodPayload{DeviceID: "box1"}))
	require.Equal(t, models.CodeOK, reply.Code)

	reply = srv.Handle(bpodRequest(models.ActionChangePort, models.BpodPayload{DeviceID: "box1", Serial: "FT2"}))
	require.Equal(t, models.CodeOK, reply.Code)
	assert.Equal(t, "FT2", srv.findDevice("box1").Serial)

	assert.Len(t, pub.ofType(models.EventPortChanged), 1)
}

func TestStartUnknownSerial(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	reply := srv.Handle(bpodRequest(models.ActionAdd, models.BpodPayload{DeviceID: "box1", Serial: "FT1234"}))
	require.Equal(t, models.CodeOK, reply.Code)

	// The port lister sees no hardware, so the start cannot resolve a
	// port.
	reply = srv.Handle(bpodRequest(models.ActionStart, models.BpodPayload{DeviceID: "box1"}))
	assert.Equal(t, models.CodeNotFound, reply.Code)
	assert.Equal(t, models.StatusOffline, deviceStatus(srv, "box1"))
}

func TestStartWithoutCalibration(t *testing.T) {
	srv, pub := newTestServer(t, nil)

	addDevice(t, srv, "box1")

	reply := srv.Handle(bpodRequest(models.ActionStart, models.BpodPayload{DeviceID: "box1"}))
	assert.Equal(t, models.CodeNoCalibration, reply.Code)

	// Missing calibration is a warning, not a failure: the device is
	// usable.
	assert.Equal(t, models.StatusReady, deviceStatus(srv, "box1"))

	started := pub.ofType(models.EventDeviceStarted)
	require.Len(t, started, 1)
	assert.Equal(t, models.CodeNoCalibration, started[0].Code)
}

func TestFullDeviceLifecycle(t *testing.T) {
	srv, pub := newTestServer(t, nil)

	addDevice(t, srv, "box1")
	startDevice(t, srv, "box1")
	assert.Equal(t, models.StatusReady, deviceStatus(srv, "box1"))

	reply := srv.Handle(bpodRequest(models.ActionRun, models.BpodPayload{
		DeviceID: "box1", Protocol: "protocolA", Subject: "rat7", Settings: "hard",
	}))
	require.Equal(t, models.CodeOK, reply.Code, reply.Error)
	assert.Equal(t, models.StatusRunning, deviceStatus(srv, "box1"))

	reply = srv.Handle(bpodRequest(models.ActionQuery, models.BpodPayload{DeviceID: "box1"}))
	require.Equal(t, models.CodeOK, reply.Code)
	require.NotNil(t, reply.Device)
	assert.Equal(t, models.StatusRunning, reply.Device.Status)
	require.NotNil(t, reply.Device.Run)
	assert.Equal(t, "protocolA", reply.Device.Run.Protocol)

	reply = srv.Handle(bpodRequest(models.ActionStop, models.BpodPayload{DeviceID: "box1"}))
	require.Equal(t, models.CodeOK, reply.Code)
	assert.Equal(t, models.StatusReady, deviceStatus(srv, "box1"))
	assert.Nil(t, srv.findDevice("box1").Run)

	reply = srv.Handle(bpodRequest(models.ActionEnd, models.BpodPayload{DeviceID: "box1"}))
	require.Equal(t, models.CodeOK, reply.Code)
	assert.Equal(t, models.StatusOffline, deviceStatus(srv, "box1"))

	reply = srv.Handle(bpodRequest(models.ActionRemove, models.BpodPayload{DeviceID: "box1"}))
	require.Equal(t, models.CodeOK, reply.Code)

	assert.Len(t, pub.ofType(models.EventRunStarted), 1)
	assert.Len(t, pub.ofType(models.EventRunStopped), 1)
	assert.Len(t, pub.ofType(models.EventDeviceEnded), 1)
}

func TestStateMachineRejections(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	addDevice(t, srv, "box1")

	// Offline: only start is valid.
	assert.Equal(t, models.CodeInvalid,
		srv.Handle(bpodRequest(models.ActionRun, models.BpodPayload{DeviceID: "box1", Protocol: "p", Subject: "s"})).Code)
	assert.Equal(t, models.CodeInvalid,
		srv.Handle(bpodRequest(models.ActionStop, models.BpodPayload{DeviceID: "box1"})).Code)
	assert.Equal(t, models.CodeInvalid,
		srv.Handle(bpodRequest(models.ActionEnd, models.BpodPayload{DeviceID: "box1"})).Code)

	startDevice(t, srv, "box1")

	// Ready: a second start and a stop are both rejected.
	assert.Equal(t, models.CodeBusy,
		srv.Handle(bpodRequest(models.ActionStart, models.BpodPayload{DeviceID: "box1"})).Code)
	assert.Equal(t, models.CodeInvalid,
		srv.Handle(bpodRequest(models.ActionStop, models.BpodPayload{DeviceID: "box1"})).Code)

	reply := srv.Handle(bpodRequest(models.ActionRun, models.BpodPayload{
		DeviceID: "box1", Protocol: "protocolA", Subject: "rat7",
	}))
	require.Equal(t, models.CodeOK, reply.Code)

	// Running: run, end and remove are rejected without side effects.
	assert.Equal(t, models.CodeBusy,
		srv.Handle(bpodRequest(models.ActionRun, models.BpodPayload{DeviceID: "box1", Protocol: "p", Subject: "s"})).Code)
	assert.Equal(t, models.CodeBusy,
		srv.Handle(bpodRequest(models.ActionEnd, models.BpodPayload{DeviceID: "box1"})).Code)
	assert.Equal(t, models.CodeBusy,
		srv.Handle(bpodRequest(models.ActionRemove, models.BpodPayload{DeviceID: "box1"})).Code)
	assert.Equal(t, models.StatusRunning, deviceStatus(srv, "box1"))
}

func TestQueryReconcilesSelfEndedRun(t *testing.T) {
	srv, pub := newTestServer(t, nil)

	srv.SetEngineFactory(func(dev models.Device, _ string, output io.Writer) engine.Engine {
		return &engine.Emulated{Output: output, RunDuration: 50 * time.Millisecond}
	})

	addDevice(t, srv, "box1")
	startDevice(t, srv, "box1")

	reply := srv.Handle(bpodRequest(models.ActionRun, models.BpodPayload{
		DeviceID: "box1", Protocol: "protocolA", Subject: "rat7",
	}))
	require.Equal(t, models.CodeOK, reply.Code)

	require.Eventually(t, func() bool {
		reply := srv.Handle(bpodRequest(models.ActionQuery, models.BpodPayload{DeviceID: "box1"}))
		return reply.Code == models.CodeOK && reply.Device.Status == models.StatusReady
	}, 2*time.Second, 20*time.Millisecond)

	assert.Nil(t, srv.findDevice("box1").Run)
	assert.Len(t, pub.ofType(models.EventRunStopped), 1)
}

func TestStartAll(t *testing.T) {
	srv, pub := newTestServer(t, nil)

	for _, id := range []string{"box1", "box2", "box3"} {
		addDevice(t, srv, id)
		writeCalibration(t, srv, id)
	}

	reply := srv.Handle(&models.Request{Command: models.CmdStartAll})
	require.Equal(t, models.CodeOK, reply.Code, reply.Error)

	for _, id := range []string{"box1", "box2", "box3"} {
		assert.Equal(t, models.StatusReady, deviceStatus(srv, id))
	}

	assert.Len(t, pub.ofType(models.EventDeviceStarted), 3)

	// A second start-all has nothing to do.
	reply = srv.Handle(&models.Request{Command: models.CmdStartAll})
	assert.Equal(t, models.CodeOK, reply.Code)
}

func TestStartAllPartialFailure(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	srv.SetEngineFactory(func(dev models.Device, _ string, output io.Writer) engine.Engine {
		eng := &engine.Emulated{Output: output}
		if dev.ID == "box2" {
			eng.StartErr = io.ErrUnexpectedEOF
		}

		return eng
	})

	for _, id := range []string{"box1", "box2", "box3"} {
		addDevice(t, srv, id)
		writeCalibration(t, srv, id)
	}

	reply := srv.Handle(&models.Request{Command: models.CmdStartAll})
	require.Equal(t, models.CodeFailed, reply.Code)
	assert.Contains(t, reply.Error, "box2")

	// Successful siblings keep their started state.
	assert.Equal(t, models.StatusReady, deviceStatus(srv, "box1"))
	assert.Equal(t, models.StatusOffline, deviceStatus(srv, "box2"))
	assert.Equal(t, models.StatusReady, deviceStatus(srv, "box3"))
}

func configureCamera(t *testing.T, srv *Server, id string, cfg models.CameraConfig) {
	t.Helper()

	reply := srv.Handle(&models.Request{
		Command: models.CmdCameras,
		Action:  models.ActionEdit,
		Cameras: &models.CamerasPayload{DeviceID: id, Config: &cfg},
	})
	require.Equal(t, models.CodeOK, reply.Code, reply.Error)
}

func TestCameraStartImageStop(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	addDevice(t, srv, "box1")
	configureCamera(t, srv, "box1", models.CameraConfig{Capture: "0", Width: 640, Height: 480, FPS: 30})

	reply := srv.Handle(&models.Request{
		Command: models.CmdCameras, Action: models.ActionStart,
		Cameras: &models.CamerasPayload{DeviceID: "box1"},
	})
	require.Equal(t, models.CodeOK, reply.Code, reply.Error)
	assert.Equal(t, float64(30), reply.FPS)

	reply = srv.Handle(&models.Request{
		Command: models.CmdCameras, Action: models.ActionImage,
		Cameras: &models.CamerasPayload{DeviceID: "box1"},
	})
	require.Equal(t, models.CodeOK, reply.Code)
	require.NotNil(t, reply.Image)
	assert.Equal(t, 320, reply.Image.Width)
	assert.Equal(t, 240, reply.Image.Height)

	reply = srv.Handle(&models.Request{
		Command: models.CmdCameras, Action: models.ActionStop,
		Cameras: &models.CamerasPayload{DeviceID: "box1"},
	})
	require.Equal(t, models.CodeOK, reply.Code)

	reply = srv.Handle(&models.Request{
		Command: models.CmdCameras, Action: models.ActionImage,
		Cameras: &models.CamerasPayload{DeviceID: "box1"},
	})
	assert.Equal(t, models.CodeNoSignal, reply.Code)
}

func TestCameraImageWithoutCamera(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	reply := srv.Handle(&models.Request{
		Command: models.CmdCameras, Action: models.ActionImage,
		Cameras: &models.CamerasPayload{DeviceID: "ghost"},
	})
	assert.Equal(t, models.CodeNoSignal, reply.Code)
}

func TestRunRecordingCoordination(t *testing.T) {
	syncDev := newFakeSync()
	srv, _ := newTestServer(t, syncDev)

	channel := 4

	addDevice(t, srv, "box1")
	configureCamera(t, srv, "box1", models.CameraConfig{
		Capture: "0", Width: 640, Height: 480, FPS: 30,
		SyncChannel: &channel, RecordProtocol: "protocolA",
	})
	startDevice(t, srv, "box1")

	reply := srv.Handle(bpodRequest(models.ActionRun, models.BpodPayload{
		DeviceID: "box1", Protocol: "protocolA", Subject: "rat7",
	}))
	require.Equal(t, models.CodeOK, reply.Code, reply.Error)

	pl := srv.pipelines["box1"]
	require.NotNil(t, pl)
	assert.True(t, pl.Acquiring())
	assert.True(t, pl.Writing())
	assert.Equal(t, "box1", syncDev.owner(channel))

	// The camera cannot be stopped out from under the recording.
	reply = srv.Handle(&models.Request{
		Command: models.CmdCameras, Action: models.ActionStop,
		Cameras: &models.CamerasPayload{DeviceID: "box1"},
	})
	assert.Equal(t, models.CodeBusy, reply.Code)

	reply = srv.Handle(bpodRequest(models.ActionStop, models.BpodPayload{DeviceID: "box1"}))
	require.Equal(t, models.CodeOK, reply.Code)

	assert.False(t, pl.Writing())
	assert.False(t, pl.Acquiring())
	assert.Empty(t, syncDev.owner(channel))
}

func TestRunWithoutMatchingRecordProtocol(t *testing.T) {
	syncDev := newFakeSync()
	srv, _ := newTestServer(t, syncDev)

	channel := 4

	addDevice(t, srv, "box1")
	configureCamera(t, srv, "box1", models.CameraConfig{
		Capture: "0", Width: 640, Height: 480, FPS: 30,
		SyncChannel: &channel, RecordProtocol: "protocolB",
	})
	startDevice(t, srv, "box1")

	reply := srv.Handle(bpodRequest(models.ActionRun, models.BpodPayload{
		DeviceID: "box1", Protocol: "protocolA", Subject: "rat7",
	}))
	require.Equal(t, models.CodeOK, reply.Code)

	// No recording was requested for this protocol, so nothing was
	// claimed.
	assert.Nil(t, srv.pipelines["box1"])
	assert.Empty(t, syncDev.owner(channel))
}

func TestRunUnwindOnEngineFailure(t *testing.T) {
	syncDev := newFakeSync()
	srv, _ := newTestServer(t, syncDev)

	srv.SetEngineFactory(func(dev models.Device, _ string, output io.Writer) engine.Engine {
		return &engine.Emulated{Output: output, RunErr: io.ErrUnexpectedEOF}
	})

	channel := 4

	addDevice(t, srv, "box1")
	configureCamera(t, srv, "box1", models.CameraConfig{
		Capture: "0", Width: 640, Height: 480, FPS: 30,
		SyncChannel: &channel, RecordProtocol: "protocolA",
	})
	startDevice(t, srv, "box1")

	reply := srv.Handle(bpodRequest(models.ActionRun, models.BpodPayload{
		DeviceID: "box1", Protocol: "protocolA", Subject: "rat7",
	}))
	require.Equal(t, models.CodeFailed, reply.Code)

	// Everything the failed start claimed was released again.
	assert.Equal(t, models.StatusReady, deviceStatus(srv, "box1"))
	assert.Empty(t, syncDev.owner(channel))

	pl := srv.pipelines["box1"]
	require.NotNil(t, pl)
	assert.False(t, pl.Writing())
	assert.False(t, pl.Acquiring())
	assert.Empty(t, srv.recording)
}

func TestCameraSyncToggle(t *testing.T) {
	syncDev := newFakeSync()
	srv, _ := newTestServer(t, syncDev)

	channel := 2

	addDevice(t, srv, "box1")
	configureCamera(t, srv, "box1", models.CameraConfig{
		Capture: "0", Width: 640, Height: 480, SyncChannel: &channel,
	})

	request := &models.Request{
		Command: models.CmdCameras, Action: models.ActionSync,
		Cameras: &models.CamerasPayload{DeviceID: "box1"},
	}

	require.Equal(t, models.CodeOK, srv.Handle(request).Code)
	assert.Equal(t, "box1", syncDev.owner(channel))

	require.Equal(t, models.CodeOK, srv.Handle(request).Code)
	assert.Empty(t, syncDev.owner(channel))
}

func TestStoreBackedCommands(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	dir := filepath.Join(srv.store.Root(), "Protocols", "protocolA")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "protocolA.m"), []byte("% p"), 0o644))

	reply := srv.Handle(&models.Request{Command: models.CmdProtocols})
	require.Equal(t, models.CodeOK, reply.Code)
	assert.Equal(t, []string{"protocolA"}, reply.Names)

	reply = srv.Handle(&models.Request{
		Command: models.CmdSubjects, Action: models.ActionAdd,
		Subjects: &models.SubjectsPayload{Protocol: "protocolA", Subject: "rat7"},
	})
	require.Equal(t, models.CodeOK, reply.Code)

	reply = srv.Handle(&models.Request{
		Command: models.CmdSubjects, Action: models.ActionFetch,
		Subjects: &models.SubjectsPayload{Protocol: "protocolA"},
	})
	require.Equal(t, models.CodeOK, reply.Code)
	assert.Equal(t, []string{"rat7"}, reply.Names)

	reply = srv.Handle(&models.Request{
		Command: models.CmdSettings, Action: models.ActionCreate,
		Settings: &models.SettingsPayload{
			Protocol: "protocolA", Subject: "rat7",
			Settings: "hard", Contents: []byte("difficulty=2"),
		},
	})
	require.Equal(t, models.CodeOK, reply.Code)

	reply = srv.Handle(&models.Request{
		Command: models.CmdSettings, Action: models.ActionFetch,
		Settings: &models.SettingsPayload{Protocol: "protocolA", Subject: "rat7"},
	})
	require.Equal(t, models.CodeOK, reply.Code)
	assert.Contains(t, reply.Names, "hard")
}

func TestPresetCommands(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	entries := []models.PresetEntry{
		{DeviceID: "box1", Protocol: "protocolA", Subject: "rat7", Settings: "hard"},
	}

	reply := srv.Handle(&models.Request{
		Command: models.CmdPresets, Action: models.ActionSave,
		Presets: &models.PresetsPayload{Name: "morning", Entries: entries},
	})
	require.Equal(t, models.CodeOK, reply.Code)

	reply = srv.Handle(&models.Request{
		Command: models.CmdPresets, Action: models.ActionLoad,
		Presets: &models.PresetsPayload{Name: "morning"},
	})
	require.Equal(t, models.CodeOK, reply.Code)
	assert.Equal(t, entries, reply.Entries)

	reply = srv.Handle(&models.Request{
		Command: models.CmdPresets, Action: models.ActionLoad,
		Presets: &models.PresetsPayload{Name: "evening"},
	})
	assert.Equal(t, models.CodeNotFound, reply.Code)
}

func TestConfigSnapshotIsDetached(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	addDevice(t, srv, "box1")

	reply := srv.Handle(&models.Request{Command: models.CmdConfig})
	require.Equal(t, models.CodeOK, reply.Code)
	require.Len(t, reply.Config.Devices, 1)

	// Mutating the snapshot must not leak into fleet state.
	reply.Config.Devices[0].Serial = "tampered"
	assert.Equal(t, models.SerialEmulated, srv.findDevice("box1").Serial)
}

func TestLogsDeleteGuard(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	addDevice(t, srv, "box1")
	startDevice(t, srv, "box1")

	reply := srv.Handle(&models.Request{Command: models.CmdLogs, Action: models.ActionDelete})
	assert.Equal(t, models.CodeBusy, reply.Code)

	require.Equal(t, models.CodeOK,
		srv.Handle(bpodRequest(models.ActionEnd, models.BpodPayload{DeviceID: "box1"})).Code)

	reply = srv.Handle(&models.Request{Command: models.CmdLogs, Action: models.ActionDelete})
	assert.Equal(t, models.CodeOK, reply.Code)
}

func TestUnknownCommandAndMalformedPayloads(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	assert.Equal(t, models.CodeInvalid, srv.Handle(&models.Request{Command: "NOPE"}).Code)
	assert.Equal(t, models.CodeInvalid, srv.Handle(&models.Request{Command: models.CmdBpod}).Code)
	assert.Equal(t, models.CodeInvalid, srv.Handle(&models.Request{Command: models.CmdSubjects}).Code)

	addDevice(t, srv, "box1")
	assert.Equal(t, models.CodeInvalid,
		srv.Handle(bpodRequest("FROB", models.BpodPayload{DeviceID: "box1"})).Code)
	assert.Equal(t, models.CodeNotFound,
		srv.Handle(bpodRequest(models.ActionQuery, models.BpodPayload{DeviceID: "ghost"})).Code)
}

func TestDefaultCaptureOpenerSelectsHardware(t *testing.T) {
	_, isHW := defaultCaptureOpener(models.CameraConfig{Capture: "0"}).(*camera.V4L2Device)
	assert.True(t, isHW)

	_, isHW = defaultCaptureOpener(models.CameraConfig{Capture: "/dev/video1"}).(*camera.V4L2Device)
	assert.True(t, isHW)

	_, isSim := defaultCaptureOpener(models.CameraConfig{Capture: "sim"}).(*camera.SimulatedDevice)
	assert.True(t, isSim)

	_, isSim = defaultCaptureOpener(models.CameraConfig{}).(*camera.SimulatedDevice)
	assert.True(t, isSim)
}
