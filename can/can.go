// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package can implements ARINC-825 message handling over CAN: dual-bus
// (A/B) dedup of redundant sources sharing one masked CAN ID, the
// two-valued functional-status dispatch ARINC-825 uses in place of AFDX's
// four-valued SSM, and invalidation replay when a message goes stale.
//
// The core read/write path talks to buses purely through the Port
// interface below, so it never depends on a real SocketCAN binding; the
// github.com/brutella/can dependency is wired in separately, in
// socketcan.go, as a diagnostic/simulator bridge that translates between
// this package's Message type and real SocketCAN frames.
package can

import (
	"errors"
	"fmt"

	"github.com/fuhuatek/ioen-go/clog"
	"github.com/fuhuatek/ioen-go/ioen"
)

// CAN ID sub-fields: the low two bits carry the Redundancy Channel
// Identifier (RCI), the next two carry the Functional Status (FS). Masking
// both out of a CAN ID groups the dual-source frames of one ARINC-825
// message under a single control record.
const (
	rciMask            uint32 = 0x3
	fsShift                   = 2
	fsMask             uint32 = 0x3 << fsShift
	ignoreFSAndRCIMask uint32 = ^(rciMask | fsMask)
)

// Message is one CAN frame as delivered by the port driver: up to 8 bytes
// of payload plus its 29-bit extended identifier (FS/RCI already folded in).
type Message struct {
	CanID uint32
	Data  [8]byte
}

// Port abstracts one physical CAN bus direction (RX or TX); A and B carry
// the same traffic redundantly.
type Port interface {
	Name() string
	Read() (Message, bool, error)
	Write(Message) error
}

// MaskID strips the RCI and FS sub-fields out of a raw CAN ID, yielding the
// key BuildMessageControls groups dual-source messages under; callers that
// need to match a CanMessageConfig to the MessageControl it was folded into
// use this rather than reimplementing the mask.
func MaskID(canID uint32) uint32 { return canID & ignoreFSAndRCIMask }

func functionalStatus(canID uint32) ioen.A664FunctionalStatus {
	return ioen.A664FunctionalStatus((canID & fsMask) >> fsShift)
}

// dispatchValidity folds ARINC-825's four functional-status values down to
// the two-valued VALID/INVALID scheme the CAN transport uses, before the
// result is ever handed to ifValue-based downstream logic: NO and FT both
// mean the frame is usable (tagged NORMALOP or TEST respectively), NCD and
// anything else mean it is not (tagged NCD or NODATA respectively).
func dispatchValidity(canID uint32) ioen.Validity {
	switch functionalStatus(canID) {
	case ioen.A664FSNo:
		return ioen.Validity{Value: ioen.Valid, IfValue: ioen.IfNormalOp}
	case ioen.A664FSFT:
		return ioen.Validity{Value: ioen.Valid, IfValue: ioen.IfTest}
	case ioen.A664FSNCD:
		return ioen.Validity{Value: ioen.Invalid, IfValue: ioen.IfNCD}
	default:
		return ioen.Validity{Value: ioen.Invalid, IfValue: ioen.IfNoData}
	}
}

// SourceConfig is one of up to two redundant message configurations grouped
// under a single MessageControl, differentiated by RCI.
type SourceConfig struct {
	RCI    uint32
	Config ioen.CanMessageConfig
}

// MessageControl is the dedup'd control record for one masked CAN ID: one
// or two SourceConfigs (RCI 0 and non-zero), the current decoded validity,
// and the freshness tracker driving invalidation replay.
type MessageControl struct {
	MaskedID  uint32
	Source1   *SourceConfig // RCI == 0
	Source2   *SourceConfig // RCI != 0
	confirm   ioen.Confirmation
	freshness ioen.MessageFreshness
	lastData  [8]byte
}

// InputMappingFunc receives a message together with its confirmed validity;
// ProcessMessage and InvalidateIfStale each call it at most once per call.
type InputMappingFunc func(msg Message, validity ioen.Validity)

// BuildMessageControls groups configured CAN input messages by masked CAN
// ID, as ioen_initCanControl does: a message whose masked ID already has an
// entry is folded into that entry as Source2 (by RCI), rather than creating
// a duplicate control record.
func BuildMessageControls(configs []ioen.CanMessageConfig, cycleMs uint32) []*MessageControl {
	byMaskedID := make(map[uint32]*MessageControl)
	var order []uint32

	for _, cfg := range configs {
		masked := cfg.CanID & ignoreFSAndRCIMask
		rci := cfg.CanID & rciMask

		mc, ok := byMaskedID[masked]
		if !ok {
			maxUnfresh := ioen.CeilingPos(float64(cfg.UnfreshTime) / float64(cycleMs))
			mc = &MessageControl{
				MaskedID:  masked,
				confirm:   ioen.NewConfirmation(),
				freshness: ioen.NewMessageFreshnessSeeded(maxUnfresh),
			}
			byMaskedID[masked] = mc
			order = append(order, masked)
		}

		sc := &SourceConfig{RCI: rci, Config: cfg}
		if rci == 0 {
			mc.Source1 = sc
		} else {
			mc.Source2 = sc
		}
	}

	controls := make([]*MessageControl, 0, len(order))
	for _, id := range order {
		controls = append(controls, byMaskedID[id])
	}
	return controls
}

// ProcessMessage decodes one received frame against its message control:
// validity is dispatched from the frame's functional status, the message's
// freshness tracker is ticked, and when the confirmed message value is
// VALID, mapFn is called once with the frame and that validity. A non-VALID
// message does not call mapFn.
func (mc *MessageControl) ProcessMessage(msg Message, mapFn InputMappingFunc) {
	mc.freshness.Tick(true)
	mc.lastData = msg.Data
	validity := dispatchValidity(msg.CanID)
	mc.confirm.Update(validity, 1, 1)

	if mc.confirm.Confirmed().Value == ioen.Valid {
		mapFn(msg, mc.confirm.Confirmed())
	}
}

// Confirmed returns the message's current debounced validity, as seen by
// the last ProcessMessage or InvalidateIfStale call.
func (mc *MessageControl) Confirmed() ioen.Validity { return mc.confirm.Confirmed() }

// LastData returns the payload of the most recently received frame for
// this message, regardless of its current validity; callers gate on
// Confirmed() before trusting it.
func (mc *MessageControl) LastData() [8]byte { return mc.lastData }

// InvalidateIfStale is run once per cycle after both buses have been
// polled: if the message received no frame this cycle and has exceeded its
// freshness tolerance, it forces the confirmed validity to LOST/UNFRESH and
// calls mapFn once with a zero-payload message carrying the masked ID and
// that validity.
func (mc *MessageControl) InvalidateIfStale(sawFrameThisCycle bool, mapFn InputMappingFunc) {
	fresh := mc.freshness.Tick(sawFrameThisCycle)
	if sawFrameThisCycle || fresh {
		return
	}
	mc.confirm.Invalidate()
	zero := Message{CanID: mc.MaskedID}
	mapFn(zero, mc.confirm.Confirmed())
}

// ErrPortExists mirrors afdx.ErrPortExists for the same idempotent
// port-creation contract used when creating the RX_A/RX_B/TX_A/TX_B and
// ROUTING_TX ports this package's messages are carried over.
var ErrPortExists = errors.New("can: port already exists")

// PortProvider creates the underlying RX_A/RX_B/TX_A/TX_B or ROUTING_TX
// port for a given port type and CAN ID.
type PortProvider interface {
	CreatePort(portType ioen.CanPortType, name string, canID uint32) (Port, error)
}

// EnsurePort creates a CAN port idempotently: every port type is created
// through the provider first, and when the provider reports ErrPortExists
// together with a handle, that existing port is reused.
func EnsurePort(provider PortProvider, portType ioen.CanPortType, name string, canID uint32, log clog.Clog) (Port, error) {
	p, err := provider.CreatePort(portType, name, canID)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, ErrPortExists) && p != nil {
		log.Info("can: port %s already exists, reusing", name)
		return p, nil
	}
	return nil, fmt.Errorf("can: create port %s: %w", name, err)
}
