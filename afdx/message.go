// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package afdx

import (
	"fmt"

	"github.com/fuhuatek/ioen-go/clog"
	"github.com/fuhuatek/ioen-go/ioen"
)

// InputMessage tracks one configured AFDX input message across read
// cycles: its port, its CRC/FC protected region, and whether it is still
// fresh.
type InputMessage struct {
	Name       string
	Port       Port
	Config     ioen.AfdxMessageInfo
	freshness  ioen.MessageFreshness
	fc         ioen.FreshnessCounter
	lastBuf    []byte
	log        clog.Clog
}

// NewInputMessage wraps a port with the freshness tolerance derived from
// the message's configured valid/invalid windows and refresh period.
func NewInputMessage(name string, port Port, cfg ioen.AfdxMessageInfo, log clog.Clog) *InputMessage {
	maxUnfreshCycles := ioen.CeilingPos(float64(cfg.InvalidTime) / float64(cfg.RefreshPeriod))
	return &InputMessage{
		Name:      name,
		Port:      port,
		Config:    cfg,
		freshness: ioen.NewMessageFreshness(maxUnfreshCycles),
		log:       log,
	}
}

// Read pulls one cycle's worth of data from the underlying port, checks the
// CRC (gated on functional status NO) and the freshness counter (gated on
// NO or FT), and reports the message buffer together with its overall
// acceptance. With new data, accepted is fresh && crcOK && fcOK; without
// new data, the last received buffer is returned and accepted is the
// message's freshness verdict alone.
func (m *InputMessage) Read() (buf []byte, accepted bool, err error) {
	buf, newData, err := m.Port.Read()
	if err != nil {
		return nil, false, fmt.Errorf("afdx: read %s: %w", m.Name, err)
	}

	fresh := m.freshness.Tick(newData)
	if !newData {
		return m.lastBuf, fresh, nil
	}
	m.lastBuf = buf

	crcOK := true
	if m.Config.CrcOffset != 0 {
		protected := buf[:m.Config.CrcOffset]
		crcOK = ioen.CheckCRC(buf, m.Config.CrcFsbOffset, m.Config.CrcOffset, protected)
		if !crcOK {
			m.log.Warn("afdx: %s CRC mismatch", m.Name)
		}
	}

	fs := ioen.A664FunctionalStatus(buf[m.Config.FcFsbOffset] & 0x03)
	fcReceived := uint32(0)
	if m.Config.FcOffset != 0 {
		fcReceived = ioen.NTOH32(buf[m.Config.FcOffset : m.Config.FcOffset+4])
	}
	fcOK := m.fc.CheckFC(fs, fcReceived, m.Config.FcOffset, m.Config.InvalidTime, m.Config.RefreshPeriod)
	if !fcOK {
		m.log.Warn("afdx: %s freshness counter out of window", m.Name)
	}

	return buf, fresh && crcOK && fcOK, nil
}

// OutputMessage owns the buffer for one configured AFDX output message,
// stamping its CRC and freshness counter immediately before every send.
type OutputMessage struct {
	Name   string
	Port   Port
	Config ioen.AfdxMessageInfo
	fc     ioen.FreshnessCounter
	buf    []byte
}

// NewOutputMessage allocates the message buffer at its configured length.
func NewOutputMessage(name string, port Port, cfg ioen.AfdxMessageInfo) *OutputMessage {
	return &OutputMessage{Name: name, Port: port, Config: cfg, buf: make([]byte, cfg.MessageLength)}
}

// Buffer returns the mutable buffer that output mapping converters write
// their encoded signals into before Send is called.
func (m *OutputMessage) Buffer() []byte { return m.buf }

// Send stamps the CRC and freshness counter (if configured) and writes the
// buffer to the underlying port.
func (m *OutputMessage) Send() error {
	if m.Config.CrcOffset != 0 {
		ioen.SetCRC(m.buf, m.Config.CrcFsbOffset, m.Config.CrcOffset, m.buf[:m.Config.CrcOffset])
	}
	if m.Config.FcOffset != 0 {
		m.fc.SetFC(m.buf, m.Config.FcFsbOffset, m.Config.FcOffset)
	}
	if err := m.Port.Write(m.buf); err != nil {
		return fmt.Errorf("afdx: write %s: %w", m.Name, err)
	}
	return nil
}
