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

package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

const replyMarker = "#academy "

var (
	ErrEngineNotStarted = errors.New("engine process not started")
	ErrEngineExited     = errors.New("engine process exited")
)

// ExecEngine hosts the engine in a child process. Commands are written as
// single lines on stdin; the engine answers each with a marker line
// ("#academy ok" or "#academy err <reason>"). All other stdout/stderr
// output is routed to the supervisor's rolling log buffer untouched.
type ExecEngine struct {
	argv   []string
	serial string
	id     string
	output io.Writer

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	replies chan string
	exited  chan struct{}
}

// NewExecEngine builds an engine host for one device. argv is the engine
// interpreter command line; serial names the hardware port to attach.
// Engine output is written to output as it arrives.
func NewExecEngine(argv []string, id, serial string, output io.Writer) *ExecEngine {
	return &ExecEngine{
		argv:   argv,
		serial: serial,
		id:     id,
		output: output,
	}
}

func (e *ExecEngine) Start(ctx context.Context) error {
	if len(e.argv) == 0 {
		return errors.New("no engine command configured")
	}

	cmd := exec.Command(e.argv[0], e.argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("engine stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine stdout: %w", err)
	}

	cmd.Stderr = e.output

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting engine process: %w", err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.stdin = stdin
	e.replies = make(chan string, 1)
	e.exited = make(chan struct{})
	e.mu.Unlock()

	go e.readOutput(stdout)

	go func() {
		_ = cmd.Wait()
		close(e.exited)
	}()

	return e.exec(ctx, fmt.Sprintf("START %s %s", e.serial, e.id))
}

// readOutput splits engine stdout into command replies and log output.
func (e *ExecEngine) readOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, replyMarker) {
			select {
			case e.replies <- strings.TrimPrefix(line, replyMarker):
			default:
			}

			continue
		}

		fmt.Fprintln(e.output, line)
	}
}

// exec writes one command line and waits for its marker reply.
func (e *ExecEngine) exec(ctx context.Context, line string) error {
	e.mu.Lock()
	stdin := e.stdin
	replies := e.replies
	exited := e.exited
	e.mu.Unlock()

	if stdin == nil {
		return ErrEngineNotStarted
	}

	select {
	case <-exited:
		return ErrEngineExited
	default:
	}

	if _, err := io.WriteString(stdin, line+"\n"); err != nil {
		return fmt.Errorf("writing engine command: %w", err)
	}

	select {
	case reply := <-replies:
		if reply == "ok" {
			return nil
		}

		return fmt.Errorf("engine: %s", strings.TrimPrefix(reply, "err "))
	case <-exited:
		return ErrEngineExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *ExecEngine) SwitchGUI(ctx context.Context) error {
	return e.exec(ctx, "GUI")
}

func (e *ExecEngine) Calibrate(ctx context.Context) error {
	return e.exec(ctx, "CALIBRATE")
}

// RunProtocol blocks until the engine reports the run finished. On
// cancellation an INTERRUPT line is delivered to the engine; whether the
// run actually stops is up to the engine.
func (e *ExecEngine) RunProtocol(ctx context.Context, protocol, subject, settings string) error {
	done := make(chan error, 1)

	go func() {
		done <- e.exec(context.Background(), fmt.Sprintf("RUN %s %s %s", protocol, subject, settings))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		e.mu.Lock()
		if e.stdin != nil {
			_, _ = io.WriteString(e.stdin, "INTERRUPT\n")
		}
		e.mu.Unlock()

		return ctx.Err()
	}
}

func (e *ExecEngine) End(ctx context.Context) error {
	if err := e.exec(ctx, "END"); err != nil {
		return err
	}

	e.mu.Lock()
	exited := e.exited
	stdin := e.stdin
	e.stdin = nil
	e.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
