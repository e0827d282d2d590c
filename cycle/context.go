// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package cycle

import (
	"fmt"

	"github.com/fuhuatek/ioen-go/a429"
	"github.com/fuhuatek/ioen-go/afdx"
	"github.com/fuhuatek/ioen-go/can"
	"github.com/fuhuatek/ioen-go/clog"
	"github.com/fuhuatek/ioen-go/ioen"
)

// Context holds one partition's live bring-up state across its three
// phases: NewContext decodes the config blob and builds in-memory state,
// CreatePorts opens every transport port the blob describes, and Step runs
// one periodic cycle through the full
// read -> decode -> select -> route -> encode -> write pipeline. Splitting
// bring-up this way mirrors
// applicationInit/applicationCreatePorts/applicationStep in the original
// partition process loop.
type Context struct {
	cfg    Config
	config *ioen.Config
	log    clog.Clog

	inputs  []*afdx.InputMessage
	outputs []*afdx.OutputMessage

	canRxPorts    []can.Port
	canRoutingTx  can.Port
	canCtrl       []*can.MessageControl
	canByMaskedID map[uint32]*can.MessageControl
	canIdxMasked  []uint32 // CanInputMessage table index -> masked CAN ID

	a429Receivers []*a429.Receiver
	a429ByLabel   map[a429.Label]*a429.Receiver
	a429LabelIdx  []a429.Label // A429InputMessage table index -> label

	datasets       []*ioen.Dataset
	paramBufs      [][]byte
	outputDatasets []*ioen.OutputDataset

	cycleCount uint64
}

// NewContext decodes the config blob named by cfg.ConfigBlobPath (already
// read into raw by the caller, since the shared-memory hand-off that
// supplies the blob on a real partition has no stdlib file-read
// equivalent) and builds the in-memory selection/confirmation state for
// every configured message and dataset, but does not yet open any port.
func NewContext(cfg Config, raw []byte, log clog.Clog) (*Context, error) {
	if err := cfg.Valid(); err != nil {
		return nil, fmt.Errorf("cycle: %w", err)
	}
	parsed, err := ioen.ParseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("cycle: parse config blob: %w", err)
	}

	ctx := &Context{cfg: cfg, config: parsed, log: log.Named("cycle")}
	cycleMs := uint32(cfg.Period.Milliseconds())
	if cycleMs == 0 {
		cycleMs = 1
	}

	if err := ctx.buildCan(parsed, cycleMs); err != nil {
		return nil, err
	}
	if err := ctx.buildA429(parsed); err != nil {
		return nil, err
	}
	if err := ctx.buildDatasets(parsed); err != nil {
		return nil, err
	}

	return ctx, nil
}

func (c *Context) buildCan(parsed *ioen.Config, cycleMs uint32) error {
	var canConfigs []ioen.CanMessageConfig
	for i := uint32(0); i < parsed.Header.CanInputMessageCount; i++ {
		mc, err := parsed.CanInputMessage(i)
		if err != nil {
			return fmt.Errorf("cycle: CAN input message %d: %w", i, err)
		}
		canConfigs = append(canConfigs, mc)
		c.canIdxMasked = append(c.canIdxMasked, can.MaskID(mc.CanID))
	}
	c.canCtrl = can.BuildMessageControls(canConfigs, cycleMs)
	c.canByMaskedID = make(map[uint32]*can.MessageControl, len(c.canCtrl))
	for _, mc := range c.canCtrl {
		c.canByMaskedID[mc.MaskedID] = mc
	}
	return nil
}

func (c *Context) buildA429(parsed *ioen.Config) error {
	c.a429ByLabel = make(map[a429.Label]*a429.Receiver)
	for i := uint32(0); i < parsed.Header.A429InputMessageCount; i++ {
		m, err := parsed.A429InputMessage(i)
		if err != nil {
			return fmt.Errorf("cycle: A429 input message %d: %w", i, err)
		}
		c.a429LabelIdx = append(c.a429LabelIdx, a429.Label{Code: m.Code, SDI: m.SDI})
	}
	return nil
}

// buildDatasets decodes the AFDX input/output dataset tables and their
// matching selection-set entries into run-time ioen.Dataset/OutputDataset
// state. Input dataset i and output dataset i are paired by index: a
// dataset pair with both sides present is how this partition expresses
// cross-transport routing (e.g. a CAN source mapped straight through to an
// AFDX output), while an input dataset with no output counterpart is
// decoded for internal use only.
func (c *Context) buildDatasets(parsed *ioen.Config) error {
	for i := uint32(0); i < parsed.Header.AfdxInputDatasetCount; i++ {
		h, sources, params, err := parsed.AfdxInputDataset(i)
		if err != nil {
			return fmt.Errorf("cycle: input dataset %d: %w", i, err)
		}
		criteria := ioen.CriteriaOne
		healthMode := ioen.SourceHealthNoLock
		var lockTimeoutMs uint32
		if sel, err := parsed.SelectionSet(i); err == nil {
			criteria = sel.Criteria
			healthMode = sel.SourceHealthMode
			lockTimeoutMs = sel.SourceHealthValue
		}
		name := fmt.Sprintf("dataset[%d]", i)
		ds := ioen.NewDataset(name, sources, params, criteria, healthMode, lockTimeoutMs)
		c.datasets = append(c.datasets, ds)
		c.paramBufs = append(c.paramBufs, make([]byte, h.DatasetSize))
	}

	for i := uint32(0); i < parsed.Header.AfdxOutputDatasetCount; i++ {
		h, mappings, err := parsed.AfdxOutputDataset(i)
		if err != nil {
			return fmt.Errorf("cycle: output dataset %d: %w", i, err)
		}
		c.outputDatasets = append(c.outputDatasets, &ioen.OutputDataset{
			Kind:           h.Kind,
			Mappings:       mappings,
			A429LabelIDSDI: h.A429LabelIDSDI,
			A429SSM:        h.A429SSM,
		})
	}
	return nil
}

// Providers groups the port-creation seams CreatePorts needs, one per
// transport. A429 and Can may be nil when the blob declares no ports of
// that kind; CreatePorts only calls into a provider whose table is
// non-empty.
type Providers struct {
	Afdx afdx.PortProvider
	A429 a429.PortProvider
	Can  can.PortProvider
}

// CreatePorts opens every AFDX input/output port the config blob declares,
// every configured A429 physical port, and -- gated on cfg.CanRoutingEnabled
// -- the CAN RX_A/RX_B/ROUTING_TX ports, mirroring the original bring-up's
// "only the partition that owns CAN routing creates CAN ports" rule.
func (c *Context) CreatePorts(p Providers) error {
	for i := uint32(0); i < c.config.Header.AfdxInputMessageCount; i++ {
		info, err := c.config.AfdxInputMessage(i)
		if err != nil {
			return fmt.Errorf("cycle: afdx input message %d: %w", i, err)
		}
		name := c.config.String(info.PortNameOffset)
		port, err := afdx.EnsurePort(p.Afdx, name, int(info.MessageLength), false, c.log)
		if err != nil {
			return err
		}
		c.inputs = append(c.inputs, afdx.NewInputMessage(name, port, info, c.log))
	}

	for i := uint32(0); i < c.config.Header.AfdxOutputMessageCount; i++ {
		info, err := c.config.AfdxOutputMessage(i)
		if err != nil {
			return fmt.Errorf("cycle: afdx output message %d: %w", i, err)
		}
		name := c.config.String(info.PortNameOffset)
		port, err := afdx.EnsurePort(p.Afdx, name, int(info.MessageLength), true, c.log)
		if err != nil {
			return err
		}
		c.outputs = append(c.outputs, afdx.NewOutputMessage(name, port, info))
	}

	if err := c.createA429Ports(p.A429); err != nil {
		return err
	}
	if c.cfg.CanRoutingEnabled {
		if err := c.createCanPorts(p.Can); err != nil {
			return err
		}
	}

	c.log.Info("cycle: bring-up complete, %d afdx input(s), %d afdx output(s), %d a429 port(s), %d can rx port(s)",
		len(c.inputs), len(c.outputs), len(c.a429Receivers), len(c.canRxPorts))
	return nil
}

func (c *Context) createA429Ports(provider a429.PortProvider) error {
	if c.config.Header.A429InputPortCount == 0 {
		return nil
	}
	labelConfigs := make(map[a429.Label]ioen.A429MessageInfo, len(c.a429LabelIdx))
	for i := uint32(0); i < c.config.Header.A429InputMessageCount; i++ {
		m, err := c.config.A429InputMessage(i)
		if err != nil {
			return fmt.Errorf("cycle: A429 input message %d: %w", i, err)
		}
		labelConfigs[a429.Label{Code: m.Code, SDI: m.SDI}] = m
	}

	cycleMs := uint32(c.cfg.Period.Milliseconds())
	if cycleMs == 0 {
		cycleMs = 1
	}

	for i := uint32(0); i < c.config.Header.A429InputPortCount; i++ {
		info, err := c.config.A429InputPort(i)
		if err != nil {
			return fmt.Errorf("cycle: A429 input port %d: %w", i, err)
		}
		name := c.config.String(info.PortNameOffset)
		port, err := a429.EnsurePort(provider, name, int(info.QueueLength), c.log)
		if err != nil {
			return err
		}
		recv := a429.NewReceiver(port, labelConfigs, cycleMs, c.log)
		c.a429Receivers = append(c.a429Receivers, recv)
		for lbl := range labelConfigs {
			c.a429ByLabel[lbl] = recv
		}
	}
	return nil
}

func (c *Context) createCanPorts(provider can.PortProvider) error {
	if len(c.canCtrl) == 0 {
		return nil
	}
	rxA, err := can.EnsurePort(provider, ioen.CanPortRxA, "CAN_RX_A", 0, c.log)
	if err != nil {
		return err
	}
	rxB, err := can.EnsurePort(provider, ioen.CanPortRxB, "CAN_RX_B", 0, c.log)
	if err != nil {
		return err
	}
	c.canRxPorts = []can.Port{rxA, rxB}

	routingTx, err := can.EnsurePort(provider, ioen.CanPortRoutingTx, "CAN_ROUTING_TX", 0, c.log)
	if err != nil {
		return err
	}
	c.canRoutingTx = routingTx
	return nil
}

// Step runs one periodic cycle of the full pipeline:
//
//  1. read    - pull new frames/words from every AFDX, CAN and A429 port
//  2. decode  - evaluate each dataset source's validity condition
//  3. select  - debounce and arbitrate among a dataset's candidate sources
//  4. route   - relay raw CAN traffic out the routing port when enabled
//  5. encode  - run every output mapping against the selected parameter data
//  6. write   - stamp CRC/FC and send every AFDX output message
func (c *Context) Step() error {
	c.cycleCount++
	cycleMs := uint32(c.cfg.Period.Milliseconds())
	if cycleMs == 0 {
		cycleMs = 1
	}

	afdxBuf := c.readAfdx()
	c.readCan()
	c.readA429()

	lookup := func(transport ioen.Transport, msgIdx uint32) ([]byte, bool) {
		switch transport {
		case ioen.TransportAFDX:
			buf, ok := afdxBuf[msgIdx]
			return buf, ok
		case ioen.TransportA825:
			return c.canBuffer(msgIdx)
		case ioen.TransportA429:
			return c.a429Buffer(msgIdx)
		default:
			return nil, false
		}
	}

	for i, ds := range c.datasets {
		ds.Process(lookup, c.paramBufs[i], cycleMs)
	}

	c.routeCan()
	c.encodeOutputs()

	for _, out := range c.outputs {
		if err := out.Send(); err != nil {
			c.log.Error("cycle: %v", err)
		}
	}

	return nil
}

func (c *Context) readAfdx() map[uint32][]byte {
	bufs := make(map[uint32][]byte, len(c.inputs))
	for i, in := range c.inputs {
		buf, accepted, err := in.Read()
		if err != nil {
			c.log.Error("cycle: %v", err)
			continue
		}
		if accepted {
			bufs[uint32(i)] = buf
		}
	}
	return bufs
}

func (c *Context) readCan() {
	seen := make(map[uint32]bool, len(c.canCtrl))
	for _, port := range c.canRxPorts {
		for {
			msg, ok, err := port.Read()
			if err != nil {
				c.log.Error("cycle: can read %s: %v", port.Name(), err)
				break
			}
			if !ok {
				break
			}
			masked := can.MaskID(msg.CanID)
			mc, known := c.canByMaskedID[masked]
			if !known {
				continue
			}
			mc.ProcessMessage(msg, func(can.Message, ioen.Validity) {})
			seen[masked] = true
		}
	}
	for masked, mc := range c.canByMaskedID {
		mc.InvalidateIfStale(seen[masked], func(can.Message, ioen.Validity) {})
	}
}

func (c *Context) readA429() {
	for _, recv := range c.a429Receivers {
		if err := recv.ReadCycle(); err != nil {
			c.log.Error("cycle: %v", err)
		}
	}
}

func (c *Context) canBuffer(msgIdx uint32) ([]byte, bool) {
	if int(msgIdx) >= len(c.canIdxMasked) {
		return nil, false
	}
	mc, ok := c.canByMaskedID[c.canIdxMasked[msgIdx]]
	if !ok || mc.Confirmed().Value != ioen.Valid {
		return nil, false
	}
	data := mc.LastData()
	buf := make([]byte, len(data))
	copy(buf, data[:])
	return buf, true
}

func (c *Context) a429Buffer(msgIdx uint32) ([]byte, bool) {
	if int(msgIdx) >= len(c.a429LabelIdx) {
		return nil, false
	}
	lbl := c.a429LabelIdx[msgIdx]
	recv, ok := c.a429ByLabel[lbl]
	if !ok {
		return nil, false
	}
	word, fresh := recv.Word(lbl)
	if !fresh {
		return nil, false
	}
	buf := make([]byte, 4)
	ioen.HTON32(buf, word)
	return buf, true
}

// routeCan relays every confirmed-valid message's last frame out the
// routing port, giving a second bus segment (or a diagnostic tap) the same
// traffic this partition received, when cfg.CanRoutingEnabled.
func (c *Context) routeCan() {
	if !c.cfg.CanRoutingEnabled || c.canRoutingTx == nil {
		return
	}
	for _, mc := range c.canCtrl {
		if mc.Confirmed().Value != ioen.Valid {
			continue
		}
		data := mc.LastData()
		if err := c.canRoutingTx.Write(can.Message{CanID: mc.MaskedID, Data: data}); err != nil {
			c.log.Error("cycle: can routing write: %v", err)
		}
	}
}

// encodeOutputs runs every output dataset's mappings against the matching
// (same-index) input dataset's decoded parameter buffer, then writes the
// result into the matching AFDX output message's buffer.
func (c *Context) encodeOutputs() {
	n := len(c.outputDatasets)
	if len(c.outputs) < n {
		n = len(c.outputs)
	}
	if len(c.paramBufs) < n {
		n = len(c.paramBufs)
	}
	for i := 0; i < n; i++ {
		c.outputDatasets[i].Encode(c.paramBufs[i], c.outputs[i].Buffer())
	}
}

// CycleCount returns how many Step calls this context has completed,
// mostly useful for tests asserting on cadence.
func (c *Context) CycleCount() uint64 { return c.cycleCount }

// CanControls exposes the dedup'd CAN message controls built by
// NewContext, mostly for tests asserting on CAN bring-up state directly.
func (c *Context) CanControls() []*can.MessageControl { return c.canCtrl }

// A429Labels returns the configured A429 labels indexed by their position
// in the blob's input-message table -- the index Step uses internally to
// look up a dataset source's decoded word.
func (c *Context) A429Labels() []a429.Label { return c.a429LabelIdx }

// Datasets exposes the decoded input datasets, mostly for tests asserting
// on selection/confirmation state directly.
func (c *Context) Datasets() []*ioen.Dataset { return c.datasets }

// ParamBuffer returns the decoded parameter buffer for input dataset i.
func (c *Context) ParamBuffer(i int) []byte { return c.paramBufs[i] }
