// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package can

import "github.com/brutella/can"

// ToSocketCAN translates a decoded Message into a real SocketCAN frame, for
// the diagnostic bridge that lets a development box replay or capture
// partition CAN traffic against a Linux vcan interface rather than the
// avionics backplane. The core read/write path in can.go never touches
// this type; only the bridge does.
func ToSocketCAN(m Message) can.Frame {
	return can.Frame{
		ID:     m.CanID,
		Length: uint8(len(m.Data)),
		Data:   m.Data,
	}
}

// FromSocketCAN is the inverse of ToSocketCAN.
func FromSocketCAN(f can.Frame) Message {
	var m Message
	m.CanID = f.ID
	n := int(f.Length)
	if n > len(m.Data) {
		n = len(m.Data)
	}
	copy(m.Data[:n], f.Data[:n])
	return m
}

// Bridge relays frames between a real SocketCAN bus and the in-process
// Port abstraction, for development and bench testing without an avionics
// backplane.
type Bridge struct {
	bus *can.Bus
}

// NewBridge opens a SocketCAN bus by interface name (e.g. "vcan0").
func NewBridge(ifaceName string) (*Bridge, error) {
	bus, err := can.NewBusForInterfaceWithName(ifaceName)
	if err != nil {
		return nil, err
	}
	return &Bridge{bus: bus}, nil
}

// Send writes a Message out to the real bus.
func (b *Bridge) Send(m Message) error {
	return b.bus.Publish(ToSocketCAN(m))
}

// Subscribe registers fn to be called for every frame the real bus
// receives, translated into this package's Message type.
func (b *Bridge) Subscribe(fn func(Message)) {
	b.bus.SubscribeFunc(func(f can.Frame) {
		fn(FromSocketCAN(f))
	})
}

// Run starts processing frames; it blocks until the bus is disconnected.
func (b *Bridge) Run() error {
	return b.bus.ConnectAndPublish()
}
