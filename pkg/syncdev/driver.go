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

// Package syncdev drives the hardware time-correlation device. A single
// serial link multiplexes up to 13 logical TTL channels; each active
// channel accumulates an append-only log of edge events tagged with both
// device-clock and host-clock time.
package syncdev

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/RatAcad/BpodAcademy/pkg/logger"
)

// MaxChannels is the number of logical channels on the device (ids 0-12).
const MaxChannels = 13

const (
	// DefaultHandshakeTimeout bounds activation/deactivation handshakes.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultCloseTimeout bounds the read-loop join on Close.
	DefaultCloseTimeout = 10 * time.Second
	// DefaultBaudRate matches the device firmware.
	DefaultBaudRate = 9600
)

var (
	ErrDeviceInactive  = errors.New("sync device not active")
	ErrDeviceDead      = errors.New("sync device connection lost")
	ErrChannelBusy     = errors.New("sync channel already owned by another pipeline")
	ErrChannelRange    = errors.New("sync channel out of range")
	ErrHandshakeFailed = errors.New("sync device did not acknowledge within timeout")
	ErrCloseTimeout    = errors.New("sync device read loop did not stop")
)

// Event is one edge observed on a channel.
type Event struct {
	Channel  int       `json:"channel"`
	State    byte      `json:"state"`
	Ticks    uint32    `json:"device_ticks"`
	HostTime time.Time `json:"host_time"`
}

// Driver owns the single serial connection to the correlation device. All
// writes are serialized; a dedicated read loop tags inbound edge events
// with host-clock time and applies activation acknowledgments.
type Driver struct {
	port    io.ReadWriteCloser
	log     logger.Logger
	timeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	active   bool
	channels [MaxChannels]bool
	owners   [MaxChannels]string
	events   [MaxChannels][]Event
	dead     bool
	waiters  []chan struct{}

	readDone chan struct{}
}

// Open connects to the device on the named serial port and starts the
// read loop.
func Open(portName string, baudRate int, log logger.Logger) (*Driver, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("opening sync device port %s: %w", portName, err)
	}

	return NewDriver(port, log), nil
}

// NewDriver wraps an already-open link. Tests pass an in-memory pipe.
func NewDriver(port io.ReadWriteCloser, log logger.Logger) *Driver {
	if log == nil {
		log = logger.NewTestLogger()
	}

	d := &Driver{
		port:     port,
		log:      log,
		timeout:  DefaultHandshakeTimeout,
		readDone: make(chan struct{}),
	}

	go d.readLoop()

	return d
}

// SetHandshakeTimeout overrides the activation handshake bound. Intended
// for tests.
func (d *Driver) SetHandshakeTimeout(timeout time.Duration) {
	d.timeout = timeout
}

func (d *Driver) readLoop() {
	defer close(d.readDone)

	for {
		msg, err := readMessage(d.port)
		if err != nil {
			d.mu.Lock()
			d.dead = true
			d.active = false
			d.wakeWaiters()
			d.mu.Unlock()

			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				d.log.Error().Err(err).Msg("Sync device read failed, stopping read loop")
			}

			return
		}

		d.apply(msg, time.Now())
	}
}

// apply updates driver state for one inbound message.
func (d *Driver) apply(msg message, hostTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch msg.kind {
	case msgDeviceActivate:
		d.active = true

	case msgDeviceDeactivate:
		d.active = false

	case msgChannelActivate:
		if ch := int(msg.channel); ch >= 0 && ch < MaxChannels {
			d.channels[ch] = true
			d.events[ch] = nil
		}

	case msgChannelDeactivate:
		if ch := int(msg.channel); ch >= 0 && ch < MaxChannels {
			d.channels[ch] = false
		}

	case msgEdgeEvent:
		ch := int(msg.channel)
		if ch >= 0 && ch < MaxChannels && d.channels[ch] {
			d.events[ch] = append(d.events[ch], Event{
				Channel:  ch,
				State:    msg.state,
				Ticks:    msg.ticks,
				HostTime: hostTime,
			})
		}
	}

	d.wakeWaiters()
}

func (d *Driver) wakeWaiters() {
	for _, w := range d.waiters {
		close(w)
	}

	d.waiters = nil
}

func (d *Driver) write(frame []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if _, err := d.port.Write(frame); err != nil {
		return fmt.Errorf("writing to sync device: %w", err)
	}

	return nil
}

// await blocks until cond holds, the connection dies, or the handshake
// timeout elapses. cond is evaluated under the state lock.
func (d *Driver) await(cond func() bool) error {
	deadline := time.Now().Add(d.timeout)

	for {
		d.mu.Lock()

		if cond() {
			d.mu.Unlock()
			return nil
		}

		if d.dead {
			d.mu.Unlock()
			return ErrDeviceDead
		}

		w := make(chan struct{})
		d.waiters = append(d.waiters, w)
		d.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrHandshakeFailed
		}

		select {
		case <-w:
		case <-time.After(remaining):
			return ErrHandshakeFailed
		}
	}
}

// StartDevice activates the device. Synchronous handshake; a missed
// acknowledgment is a hard error and is not retried.
func (d *Driver) StartDevice() error {
	if err := d.write(encodeDeviceActivate()); err != nil {
		return err
	}

	return d.await(func() bool { return d.active })
}

// StopDevice deactivates the device.
func (d *Driver) StopDevice() error {
	if err := d.write(encodeDeviceDeactivate()); err != nil {
		return err
	}

	return d.await(func() bool { return !d.active })
}

// Active reports whether the device connection is active.
func (d *Driver) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.active && !d.dead
}

// StartChannel activates one channel for the named owner. A channel may
// only be started while the device is active, and has at most one active
// owner; a second owner fails without disturbing the first one's state.
func (d *Driver) StartChannel(channel int, owner string) error {
	if channel < 0 || channel >= MaxChannels {
		return ErrChannelRange
	}

	d.mu.Lock()

	if d.dead {
		d.mu.Unlock()
		return ErrDeviceDead
	}

	if !d.active {
		d.mu.Unlock()
		return ErrDeviceInactive
	}

	if cur := d.owners[channel]; cur != "" && cur != owner {
		d.mu.Unlock()
		return fmt.Errorf("%w: channel %d held by %s", ErrChannelBusy, channel, cur)
	}

	d.owners[channel] = owner
	d.mu.Unlock()

	if err := d.write(encodeChannelActivate(int16(channel))); err != nil {
		d.releaseOwner(channel, owner)
		return err
	}

	if err := d.await(func() bool { return d.channels[channel] }); err != nil {
		d.releaseOwner(channel, owner)
		return err
	}

	return nil
}

// StopChannel deactivates a channel held by owner.
func (d *Driver) StopChannel(channel int, owner string) error {
	if channel < 0 || channel >= MaxChannels {
		return ErrChannelRange
	}

	d.mu.Lock()

	if cur := d.owners[channel]; cur != "" && cur != owner {
		d.mu.Unlock()
		return fmt.Errorf("%w: channel %d held by %s", ErrChannelBusy, channel, cur)
	}

	d.mu.Unlock()

	if err := d.write(encodeChannelDeactivate(int16(channel))); err != nil {
		return err
	}

	if err := d.await(func() bool { return !d.channels[channel] }); err != nil {
		return err
	}

	d.releaseOwner(channel, owner)

	return nil
}

func (d *Driver) releaseOwner(channel int, owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.owners[channel] == owner {
		d.owners[channel] = ""
	}
}

// GetSyncTimes returns the channel's events with host-clock time below
// maxHostTime. With drain set, returned events are removed from the log,
// so a pipeline fetches exactly the events for a just-closed segment.
func (d *Driver) GetSyncTimes(channel int, maxHostTime time.Time, drain bool) []Event {
	if channel < 0 || channel >= MaxChannels {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var below, above []Event

	for _, ev := range d.events[channel] {
		if ev.HostTime.Before(maxHostTime) {
			below = append(below, ev)
		} else {
			above = append(above, ev)
		}
	}

	if drain {
		d.events[channel] = above
	}

	return below
}

// Close stops the read loop with a bounded join and releases the port.
func (d *Driver) Close() error {
	_ = d.port.Close()

	select {
	case <-d.readDone:
		return nil
	case <-time.After(DefaultCloseTimeout):
		return ErrCloseTimeout
	}
}
