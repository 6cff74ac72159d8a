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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitionGuards(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		canStart bool
		canRun   bool
		canStop  bool
		canEnd   bool
	}{
		{name: "offline", status: StatusOffline, canStart: true},
		{name: "ready", status: StatusReady, canRun: true, canEnd: true},
		{name: "running", status: StatusRunning, canStop: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.canStart, tt.status.CanStart())
			assert.Equal(t, tt.canRun, tt.status.CanRun())
			assert.Equal(t, tt.canStop, tt.status.CanStop())
			assert.Equal(t, tt.canEnd, tt.status.CanEnd())
		})
	}
}

func TestResultCodeOK(t *testing.T) {
	assert.True(t, CodeOK.OK())
	assert.True(t, CodeNoCalibration.OK())

	for _, code := range []ResultCode{
		CodeFailed, CodeBusy, CodeNoReply, CodeStillRunning,
		CodeNotFound, CodeDuplicate, CodeInvalid, CodeNoSignal, CodeOpenFailed,
	} {
		assert.False(t, code.OK(), string(code))
	}
}

func TestDeviceEmulated(t *testing.T) {
	assert.True(t, (&Device{Serial: SerialEmulated}).Emulated())
	assert.False(t, (&Device{Serial: "FT1234"}).Emulated())
}
