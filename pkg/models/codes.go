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

package models

// ResultCode is the closed set of outcomes returned to clients. Every
// externally triggered failure maps to one of these so the client can
// render a specific message.
type ResultCode string

const (
	// CodeOK means the operation succeeded.
	CodeOK ResultCode = "ok"
	// CodeFailed means the subordinate answered and reported failure.
	CodeFailed ResultCode = "failed"
	// CodeBusy means a precondition was not met (e.g. Run while Running).
	CodeBusy ResultCode = "busy"
	// CodeNoReply means the bounded wait elapsed with no answer; the
	// outcome is unknown and no state change may be assumed.
	CodeNoReply ResultCode = "no_reply"
	// CodeStillRunning means a run task ignored cancellation within the
	// bounded join; the caller should retry Stop.
	CodeStillRunning ResultCode = "still_running"
	// CodeNoCalibration means Start succeeded but the rig has no
	// calibration file yet.
	CodeNoCalibration ResultCode = "no_calibration"
	// CodeNotFound means the addressed device id is not in the fleet.
	CodeNotFound ResultCode = "not_found"
	// CodeDuplicate means an add collided with an existing device id.
	CodeDuplicate ResultCode = "duplicate"
	// CodeInvalid means the request was malformed or addressed to a
	// device in the wrong state.
	CodeInvalid ResultCode = "invalid"
	// CodeNoSignal means no acquisition is active for the camera.
	CodeNoSignal ResultCode = "no_signal"
	// CodeOpenFailed means the capture device refused to open, as
	// opposed to CodeNoReply for a worker that never answered.
	CodeOpenFailed ResultCode = "open_failed"
)

// OK reports whether the code is a success (including the
// started-but-uncalibrated case).
func (c ResultCode) OK() bool {
	return c == CodeOK || c == CodeNoCalibration
}
