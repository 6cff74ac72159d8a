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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RatAcad/BpodAcademy/pkg/syncdev"
)

// segmentTimestamps is the sidecar persisted next to each video segment.
// FrameTimes has exactly one entry per frame written to the segment.
type segmentTimestamps struct {
	FrameTimes []time.Time     `json:"frame_times"`
	SyncEvents []syncdev.Event `json:"sync_events,omitempty"`
}

// writeLoop drains the frame queue into hour-bounded segments until
// writing is disabled and the queue is flushed. Segment rotation is
// driven by frame capture timestamps, so a crash loses at most one hour.
func (p *Pipeline) writeLoop(protocol, subject string, ack chan<- error, done chan struct{}) {
	defer close(done)
	// Writer death must disable writing, or the acquisition loop would
	// keep queueing frames nobody drains.
	defer p.writeEnabled.Store(false)

	base := filepath.Join(p.dataRoot, "Data", subject, protocol, "Video Data")
	videoDir := filepath.Join(base, "Video")
	tsDir := filepath.Join(base, "Timestamps")

	segStart := time.Now()
	first := true

	for {
		for _, dir := range []string{videoDir, tsDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				if first {
					ack <- fmt.Errorf("creating segment dirs: %w", err)
				}

				p.log.Error().Err(err).Str("device_id", p.deviceID).Msg("Failed to create segment dirs")

				return
			}
		}

		stamp := segStart.Format("20060102_150405")
		name := fmt.Sprintf("%s_%s_%s", subject, protocol, stamp)

		enc, _, err := p.encoder(filepath.Join(videoDir, name), p.cfg.Width, p.cfg.Height, p.fps)
		if err != nil {
			if first {
				ack <- err
			}

			p.log.Error().Err(err).Str("device_id", p.deviceID).Msg("Failed to open video segment")

			return
		}

		if first {
			ack <- nil

			first = false
		}

		var times []time.Time

		lastFrame := segStart

		for lastFrame.Sub(segStart) < SegmentDuration {
			if !p.writeEnabled.Load() && p.queue.len() == 0 {
				break
			}

			frame, ok := p.queue.pop(queuePollInterval)
			if !ok {
				continue
			}

			if err := enc.WriteFrame(frame); err != nil {
				p.log.Error().Err(err).Str("device_id", p.deviceID).Msg("Failed to encode frame")
				continue
			}

			times = append(times, frame.Time)
			lastFrame = frame.Time
		}

		if err := enc.Close(); err != nil {
			p.log.Error().Err(err).Str("device_id", p.deviceID).Msg("Failed to close video segment")
		}

		p.writeSidecar(filepath.Join(tsDir, name+".json"), times)

		if !p.writeEnabled.Load() && p.queue.len() == 0 {
			return
		}

		segStart = segStart.Add(SegmentDuration)
	}
}

// writeSidecar persists the per-frame timestamps, correlated against the
// sync driver's event log when a channel is configured.
func (p *Pipeline) writeSidecar(path string, times []time.Time) {
	sidecar := segmentTimestamps{FrameTimes: times}

	if p.sync != nil && p.cfg.SyncChannel != nil {
		cutoff := time.Now()
		if len(times) > 0 {
			cutoff = times[len(times)-1]
		}

		sidecar.SyncEvents = p.sync.GetSyncTimes(*p.cfg.SyncChannel, cutoff, true)
	}

	data, err := json.Marshal(sidecar)
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}

	if err != nil {
		p.log.Error().Err(err).Str("path", path).Msg("Failed to persist segment timestamps")
	}
}
