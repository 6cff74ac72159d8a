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

package camera

import (
	"sync"
	"time"
)

// frameQueue is the unbounded queue between the acquisition loop and the
// writer. Recorded frames ride this queue, never the preview cell, so no
// recorded frame is ever dropped for staleness.
type frameQueue struct {
	mu     sync.Mutex
	items  []*Frame
	signal chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{signal: make(chan struct{}, 1)}
}

func (q *frameQueue) push(f *Frame) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop returns the oldest frame, waiting up to timeout for one to arrive.
func (q *frameQueue) pop(timeout time.Duration) (*Frame, bool) {
	for {
		q.mu.Lock()

		if len(q.items) > 0 {
			f := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()

			return f, true
		}

		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-time.After(timeout):
			return nil, false
		}
	}
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *frameQueue) reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
