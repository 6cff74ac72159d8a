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

// Package supervisor owns one engine worker per device and the serialized
// command/reply channel to it.
package supervisor

import (
	"context"
	"io"
	"time"

	"github.com/RatAcad/BpodAcademy/pkg/engine"
	"github.com/RatAcad/BpodAcademy/pkg/logger"
	"github.com/RatAcad/BpodAcademy/pkg/models"
)

// Default bounded waits, matching the reference rig timings.
const (
	DefaultStartTimeout     = 30 * time.Second
	DefaultCommandTimeout   = 10 * time.Second
	DefaultRunGracePeriod   = 1 * time.Second
	DefaultStopTimeout      = 10 * time.Second
	DefaultLogFlushInterval = 1 * time.Second
)

// Config bounds the supervisor's waits. Zero fields take the defaults.
type Config struct {
	LogDir           string        `json:"log_dir"`
	StartTimeout     time.Duration `json:"start_timeout,omitempty"`
	CommandTimeout   time.Duration `json:"command_timeout,omitempty"`
	RunGracePeriod   time.Duration `json:"run_grace_period,omitempty"`
	StopTimeout      time.Duration `json:"stop_timeout,omitempty"`
	LogFlushInterval time.Duration `json:"log_flush_interval,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.StartTimeout == 0 {
		c.StartTimeout = DefaultStartTimeout
	}

	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}

	if c.RunGracePeriod == 0 {
		c.RunGracePeriod = DefaultRunGracePeriod
	}

	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}

	if c.LogFlushInterval == 0 {
		c.LogFlushInterval = DefaultLogFlushInterval
	}
}

type cmdKind int

const (
	cmdGUI cmdKind = iota
	cmdCalibrate
	cmdRun
	cmdQuery
	cmdStop
	cmdEnd
)

type request struct {
	kind  cmdKind
	run   models.RunDetails
	reply chan response
}

type response struct {
	code    models.ResultCode
	running bool
	run     models.RunDetails
}

// Supervisor owns zero or one worker hosting an engine instance. All
// commands are answered within a bounded wait; a timeout means the
// outcome is unknown and no state change may be assumed.
type Supervisor struct {
	id  string
	eng engine.Engine
	cfg Config
	log logger.Logger

	buf     *rollingBuffer
	flusher *logFlusher

	requests chan request
	done     chan struct{}
	// abandon is closed when Start gives up waiting for readiness; a
	// worker that comes alive afterwards ends the engine and exits, since
	// no caller retains a handle to it.
	abandon chan struct{}
}

// New builds a supervisor for one device. The engine's output writer must
// already be wired to buf via OutputBuffer before Start.
func New(id string, eng engine.Engine, cfg Config, log logger.Logger) *Supervisor {
	cfg.SetDefaults()

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Supervisor{
		id:  id,
		eng: eng,
		cfg: cfg,
		log: log,
	}
}

// NewWithBuffer builds a supervisor whose engine writes into the
// supervisor's rolling buffer, so engine chatter lands in the per-device
// log.
func NewWithBuffer(id string, cfg Config, log logger.Logger, factory func(output io.Writer) engine.Engine) *Supervisor {
	s := New(id, nil, cfg, log)
	s.buf = &rollingBuffer{}
	s.eng = factory(s.buf)

	return s
}

// Alive reports whether the worker is accepting commands.
func (s *Supervisor) Alive() bool {
	if s.done == nil {
		return false
	}

	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Start spawns the worker, which starts the engine and attaches hardware,
// then signals readiness. Blocks up to the start timeout.
func (s *Supervisor) Start() models.ResultCode {
	if s.Alive() {
		return models.CodeBusy
	}

	if s.buf == nil {
		s.buf = &rollingBuffer{}
	}

	if s.cfg.LogDir != "" {
		flusher, err := newLogFlusher(s.cfg.LogDir, s.id, s.buf, s.cfg.LogFlushInterval)
		if err != nil {
			s.log.Error().Err(err).Str("device_id", s.id).Msg("Failed to open device log")
			return models.CodeFailed
		}

		s.flusher = flusher
	}

	s.requests = make(chan request)
	s.done = make(chan struct{})
	s.abandon = make(chan struct{})

	ready := make(chan bool, 1)

	go s.worker(ready)

	select {
	case ok := <-ready:
		if !ok {
			s.releaseFlusher()
			return models.CodeFailed
		}

		return models.CodeOK
	case <-time.After(s.cfg.StartTimeout):
		close(s.abandon)

		// The worker reaps itself once it notices the abandonment; the
		// flusher follows so the engine's last words still reach the log.
		go func() {
			<-s.done
			s.releaseFlusher()
		}()

		return models.CodeNoReply
	}
}

func (s *Supervisor) releaseFlusher() {
	if s.flusher != nil {
		s.flusher.close()
		s.flusher = nil
	}
}

// send delivers one command to the worker and waits for its reply. A dead
// worker answers immediately with a failure code; a silent one answers
// CodeNoReply after the bounded wait.
func (s *Supervisor) send(req request) response {
	if !s.Alive() {
		return response{code: models.CodeFailed}
	}

	req.reply = make(chan response, 1)

	select {
	case s.requests <- req:
	case <-s.done:
		return response{code: models.CodeFailed}
	case <-time.After(s.cfg.CommandTimeout):
		return response{code: models.CodeNoReply}
	}

	select {
	case resp := <-req.reply:
		return resp
	case <-s.done:
		return response{code: models.CodeFailed}
	case <-time.After(s.replyWait(req.kind)):
		return response{code: models.CodeNoReply}
	}
}

// replyWait bounds the wait for a command's reply. The worker performs
// its own bounded work before it can answer (the stop join, the run
// grace sleep, the engine call), so the wait covers that on top of one
// command timeout; otherwise a stop join that exhausts its timeout would
// surface as CodeNoReply instead of CodeStillRunning.
func (s *Supervisor) replyWait(kind cmdKind) time.Duration {
	wait := s.cfg.CommandTimeout

	switch kind {
	case cmdStop:
		wait += s.cfg.StopTimeout
	case cmdRun:
		wait += s.cfg.RunGracePeriod
	case cmdGUI, cmdCalibrate, cmdEnd:
		wait += s.cfg.CommandTimeout
	case cmdQuery:
	}

	return wait
}

// SwitchGUI toggles the engine-side display. Valid only while no run is
// active.
func (s *Supervisor) SwitchGUI() models.ResultCode {
	return s.send(request{kind: cmdGUI}).code
}

// Calibrate invokes the engine-side calibration routine. Valid only while
// no run is active.
func (s *Supervisor) Calibrate() models.ResultCode {
	return s.send(request{kind: cmdCalibrate}).code
}

// Run launches the cancellable run task. CodeOK means the task survived
// the grace period, which is a liveness probe, not confirmation of
// logical success.
func (s *Supervisor) Run(protocol, subject, settings string) models.ResultCode {
	return s.send(request{
		kind: cmdRun,
		run:  models.RunDetails{Protocol: protocol, Subject: subject, Settings: settings},
	}).code
}

// Query reports whether a run task is alive and, if so, its details.
func (s *Supervisor) Query() (bool, models.RunDetails, models.ResultCode) {
	resp := s.send(request{kind: cmdQuery})
	return resp.running, resp.run, resp.code
}

// Stop requests cooperative cancellation of the run task and joins with a
// bounded wait. CodeStillRunning means the task ignored cancellation and
// the caller should retry. Stop with no active run is a no-op success.
func (s *Supervisor) Stop() models.ResultCode {
	return s.send(request{kind: cmdStop}).code
}

// End tells the engine to release hardware and exit; the worker then
// terminates. Valid only while no run is active.
func (s *Supervisor) End() models.ResultCode {
	return s.send(request{kind: cmdEnd}).code
}

// Close ends the worker if it is still alive and releases the log
// flusher. Used on device removal and server shutdown.
func (s *Supervisor) Close() models.ResultCode {
	code := models.CodeOK

	if s.Alive() {
		code = s.End()
	}

	s.releaseFlusher()

	return code
}

// worker hosts the engine and serially executes the command vocabulary
// against it. It owns the run task state exclusively.
func (s *Supervisor) worker(ready chan<- bool) {
	defer close(s.done)

	s.buf.note(s.id, "starting engine")

	startCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StartTimeout)
	err := s.eng.Start(startCtx)

	cancel()

	if err != nil {
		s.buf.note(s.id, "engine start failed: "+err.Error())
		ready <- false

		return
	}

	ready <- true

	var (
		runCancel context.CancelFunc
		runDone   chan struct{}
		details   models.RunDetails
	)

	runActive := func() bool {
		if runDone == nil {
			return false
		}

		select {
		case <-runDone:
			return false
		default:
			return true
		}
	}

	for {
		var req request

		select {
		case req = <-s.requests:
		case <-s.abandon:
			s.buf.note(s.id, "no controller attached, ending engine")

			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
			_ = s.eng.End(ctx)

			cancel()

			return
		}

		switch req.kind {
		case cmdGUI:
			req.reply <- response{code: s.guarded(runActive(), "switch gui", s.eng.SwitchGUI)}

		case cmdCalibrate:
			req.reply <- response{code: s.guarded(runActive(), "calibrate", s.eng.Calibrate)}

		case cmdRun:
			if runActive() {
				req.reply <- response{code: models.CodeBusy}
				continue
			}

			details = req.run
			s.buf.note(s.id, "starting protocol = "+details.Protocol+
				", subject = "+details.Subject+", settings = "+details.Settings)

			var runCtx context.Context

			runCtx, runCancel = context.WithCancel(context.Background())
			runDone = make(chan struct{})

			go func(d models.RunDetails, done chan struct{}) {
				defer close(done)

				if err := s.eng.RunProtocol(runCtx, d.Protocol, d.Subject, d.Settings); err != nil &&
					runCtx.Err() == nil {
					s.buf.note(s.id, "protocol error: "+err.Error())
				}
			}(details, runDone)

			// Liveness probe: a task still alive after the grace
			// period is reported started even though it continues in
			// the background.
			time.Sleep(s.cfg.RunGracePeriod)

			if runActive() {
				req.reply <- response{code: models.CodeOK}
			} else {
				runCancel()
				runCancel = nil
				runDone = nil
				req.reply <- response{code: models.CodeFailed}
			}

		case cmdQuery:
			if runActive() {
				req.reply <- response{code: models.CodeOK, running: true, run: details}
			} else {
				req.reply <- response{code: models.CodeOK}
			}

		case cmdStop:
			if runDone == nil {
				req.reply <- response{code: models.CodeOK}
				continue
			}

			if runActive() {
				s.buf.note(s.id, "manually stopping protocol...")
				runCancel()

				select {
				case <-runDone:
				case <-time.After(s.cfg.StopTimeout):
					req.reply <- response{code: models.CodeStillRunning}
					continue
				}
			}

			if runCancel != nil {
				runCancel()
			}

			runCancel = nil
			runDone = nil
			details = models.RunDetails{}
			s.buf.note(s.id, "protocol ended")
			req.reply <- response{code: models.CodeOK}

		case cmdEnd:
			if runActive() {
				req.reply <- response{code: models.CodeBusy}
				continue
			}

			s.buf.note(s.id, "ending engine")

			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
			err := s.eng.End(ctx)

			cancel()

			if err != nil {
				s.buf.note(s.id, "engine end failed: "+err.Error())
				req.reply <- response{code: models.CodeFailed}

				continue
			}

			req.reply <- response{code: models.CodeOK}

			return
		}
	}
}

// guarded runs an engine command that is only valid while no run is
// active.
func (s *Supervisor) guarded(running bool, note string, fn func(context.Context) error) models.ResultCode {
	if running {
		return models.CodeBusy
	}

	s.buf.note(s.id, note)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.buf.note(s.id, note+" failed: "+err.Error())
		return models.CodeFailed
	}

	return models.CodeOK
}
