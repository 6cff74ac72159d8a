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

package supervisor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rollingBuffer accumulates engine output between flushes. It is written
// by the engine host and the worker, and drained by the flusher; no
// command ever waits on it.
type rollingBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *rollingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *rollingBuffer) note(id, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fmt.Fprintf(&b.buf, "%s\n%s: %s\n\n", time.Now().Format("01/02/2006 15:04:05"), id, msg)
}

func (b *rollingBuffer) drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buf.Len() == 0 {
		return nil
	}

	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	b.buf.Reset()

	return out
}

// logFlusher appends the rolling buffer to <dir>/<id>.log on a fixed
// interval until stopped, then performs a final flush.
type logFlusher struct {
	buf      *rollingBuffer
	file     *os.File
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func newLogFlusher(dir, id string, buf *rollingBuffer, interval time.Duration) (*logFlusher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, id+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	f := &logFlusher{
		buf:      buf,
		file:     file,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go f.run()

	return f, nil
}

func (f *logFlusher) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flush()
		case <-f.stop:
			f.flush()
			return
		}
	}
}

func (f *logFlusher) flush() {
	if out := f.buf.drain(); out != nil {
		_, _ = f.file.Write(out)
		_ = f.file.Sync()
	}
}

func (f *logFlusher) close() {
	close(f.stop)
	<-f.done
	_ = f.file.Close()
}
