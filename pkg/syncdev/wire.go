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

package syncdev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire protocol of the correlation device. One leading byte identifies the
// message; multi-byte fields are little-endian, matching the device
// firmware. The device echoes activation and deactivation commands back as
// acknowledgment.
//
//	'A'              device-activate
//	'Z'              device-deactivate
//	'S' int16        channel-activate
//	'E' int16        channel-deactivate
//	'T' int16 uint8 uint32   edge-event: channel, edge state, device ticks
const (
	msgDeviceActivate    = 'A'
	msgDeviceDeactivate  = 'Z'
	msgChannelActivate   = 'S'
	msgChannelDeactivate = 'E'
	msgEdgeEvent         = 'T'
)

var byteOrder = binary.LittleEndian

// ErrShortRead is a device fault: the link delivered fewer bytes than the
// message header promised.
var ErrShortRead = errors.New("short read from sync device")

type message struct {
	kind    byte
	channel int16
	state   byte
	ticks   uint32
}

func encodeDeviceActivate() []byte   { return []byte{msgDeviceActivate} }
func encodeDeviceDeactivate() []byte { return []byte{msgDeviceDeactivate} }

func encodeChannelActivate(channel int16) []byte {
	out := []byte{msgChannelActivate, 0, 0}
	byteOrder.PutUint16(out[1:], uint16(channel))

	return out
}

func encodeChannelDeactivate(channel int16) []byte {
	out := []byte{msgChannelDeactivate, 0, 0}
	byteOrder.PutUint16(out[1:], uint16(channel))

	return out
}

// readMessage blocks for the next inbound message. Any partial message is
// a hard fault surfaced as ErrShortRead.
func readMessage(r io.Reader) (message, error) {
	var head [1]byte

	if _, err := io.ReadFull(r, head[:]); err != nil {
		return message{}, err
	}

	msg := message{kind: head[0]}

	switch msg.kind {
	case msgDeviceActivate, msgDeviceDeactivate:
		return msg, nil

	case msgChannelActivate, msgChannelDeactivate:
		var body [2]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return message{}, ErrShortRead
		}

		msg.channel = int16(byteOrder.Uint16(body[:]))

		return msg, nil

	case msgEdgeEvent:
		var body [7]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return message{}, ErrShortRead
		}

		msg.channel = int16(byteOrder.Uint16(body[0:2]))
		msg.state = body[2]
		msg.ticks = byteOrder.Uint32(body[3:7])

		return msg, nil

	default:
		return message{}, fmt.Errorf("unknown sync message type %q", msg.kind)
	}
}
