// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package a429 implements ARINC-429 physical port reads: label/SDI demux
// across up to six physical ports, sixteen reads per port per cycle, and
// the per-label valid/invalid-time bookkeeping that feeds the shared ioen
// conversion engine. Unlike AFDX, A429 carries no per-word CRC or
// freshness-counter field -- freshness is tracked purely by elapsed time
// since the label was last seen, via ioen.MessageFreshness.
package a429

import (
	"errors"
	"fmt"

	"github.com/fuhuatek/ioen-go/clog"
	"github.com/fuhuatek/ioen-go/ioen"
)

const (
	MaxPorts             = 6
	MaxLabels            = 256
	MaxSDI               = 4
	ReadsPerPortPerCycle = 16

	LabelOffset = 0
	LabelSize   = 8
	SDIOffset   = 8
	SDISize     = 2
)

// ErrPortExists mirrors afdx.ErrPortExists for the same idempotent
// port-creation contract.
var ErrPortExists = errors.New("a429: port already exists")

// Port abstracts one physical A429 receive port.
type Port interface {
	Name() string
	// ReadWord pulls the next queued 32-bit word, if any.
	ReadWord() (word uint32, ok bool, err error)
}

// PortProvider creates the underlying physical port.
type PortProvider interface {
	CreatePort(name string, queueLength int) (Port, error)
}

// EnsurePort is the A429 counterpart of afdx.EnsurePort.
func EnsurePort(provider PortProvider, name string, queueLength int, log clog.Clog) (Port, error) {
	p, err := provider.CreatePort(name, queueLength)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, ErrPortExists) && p != nil {
		log.Info("a429: port %s already exists, reusing", name)
		return p, nil
	}
	return nil, fmt.Errorf("a429: create port %s: %w", name, err)
}

// Label identifies one ARINC-429 word type by its label code and SDI.
type Label struct {
	Code byte
	SDI  byte
}

// Receiver demuxes up to ReadsPerPortPerCycle words per physical port per
// cycle by (label, sdi), tracking per-label freshness since A429 carries no
// wire-level freshness counter of its own.
type Receiver struct {
	port       Port
	byLabel    map[Label]*labelState
	log        clog.Clog
}

type labelState struct {
	word      uint32
	freshness ioen.MessageFreshness
}

// NewReceiver builds a demuxer over the given port. labelConfigs supplies
// the valid/invalid-time bookkeeping window for every label this port is
// configured to receive.
func NewReceiver(port Port, labelConfigs map[Label]ioen.A429MessageInfo, cycleMs uint32, log clog.Clog) *Receiver {
	r := &Receiver{port: port, byLabel: make(map[Label]*labelState), log: log}
	for lbl, cfg := range labelConfigs {
		maxUnfresh := ioen.CeilingPos(float64(cfg.InvalidTime) / float64(cycleMs))
		r.byLabel[lbl] = &labelState{freshness: ioen.NewMessageFreshness(maxUnfresh)}
	}
	return r
}

// ReadCycle drains up to ReadsPerPortPerCycle words from the port, routing
// each to its (label, sdi) bucket, then ticks every configured label's
// freshness tracker regardless of whether it was seen this cycle.
func (r *Receiver) ReadCycle() error {
	seen := make(map[Label]bool, len(r.byLabel))
	for i := 0; i < ReadsPerPortPerCycle; i++ {
		word, ok, err := r.port.ReadWord()
		if err != nil {
			return fmt.Errorf("a429: read %s: %w", r.port.Name(), err)
		}
		if !ok {
			break
		}
		lbl := Label{
			Code: byte((word >> LabelOffset) & ((1 << LabelSize) - 1)),
			SDI:  byte((word >> SDIOffset) & ((1 << SDISize) - 1)),
		}
		st, known := r.byLabel[lbl]
		if !known {
			continue
		}
		st.word = word
		seen[lbl] = true
	}
	for lbl, st := range r.byLabel {
		st.freshness.Tick(seen[lbl])
	}
	return nil
}

// Word returns the most recently received word for a label and whether
// that label is still within its freshness window.
func (r *Receiver) Word(lbl Label) (word uint32, fresh bool) {
	st, ok := r.byLabel[lbl]
	if !ok {
		return 0, false
	}
	return st.word, st.freshness.Fresh()
}
