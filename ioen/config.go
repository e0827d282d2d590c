// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ioen

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ConfigMagic is the four-byte magic number that opens every config blob.
const ConfigMagic uint32 = 0xC919DDCF

// Config-blob byte order. The blob is produced by a build tool running on
// the same little-endian host that compiles the partition image, so unlike
// the big-endian transport messages it describes, its own header and table
// entries are read in little-endian order.
var cfgOrder = binary.LittleEndian

var (
	ErrBadMagic   = errors.New("ioen: config blob has bad magic number")
	ErrTruncated  = errors.New("ioen: config blob shorter than declared size")
	ErrOutOfRange = errors.New("ioen: config blob table index out of range")
)

// Header is the typed view of the 28 32-bit words at the front of the
// config blob (IOMConfigHeader_t), locating every table the blob carries.
type Header struct {
	MagicNumber uint32
	TotalSize   uint32

	AfdxInputMessageStart uint32
	AfdxInputMessageCount uint32

	AfdxInputDatasetStart      uint32
	AfdxInputDatasetCount      uint32
	AfdxInputDatasetMultiStart uint32
	AfdxInputDatasetMultiCount uint32

	AfdxOutputMessageStart uint32
	AfdxOutputMessageCount uint32
	AfdxOutputDatasetStart uint32
	AfdxOutputDatasetCount uint32

	CanInputMessageStart  uint32
	CanInputMessageCount  uint32
	CanOutputMessageStart uint32
	CanOutputMessageCount uint32

	A429InputPortStart    uint32
	A429InputPortCount    uint32
	A429InputMessageStart uint32
	A429InputMessageCount uint32

	DioInputMessageStart  uint32
	DioInputMessageCount  uint32
	DioOutputMessageStart uint32
	DioOutputMessageCount uint32

	SelectionSetStart uint32
	SelectionSetSize  uint32

	StringTableStart uint32
	StringTableSize  uint32
}

const headerSize = 4 * 27 // 27 fixed-offset words; StringTableSize follows them

// Config is a typed, zero-copy view over a decoded config blob: it keeps
// the raw bytes and only materializes structs on demand, the way a single
// wire message is decoded lazily elsewhere in this package.
type Config struct {
	raw    []byte
	Header Header
}

// ParseConfig validates the magic number and declared size, then decodes
// the header. The raw blob is retained by reference; callers must not
// mutate it for the lifetime of the returned Config.
func ParseConfig(raw []byte) (*Config, error) {
	if len(raw) < headerSize {
		return nil, ErrTruncated
	}
	magic := cfgOrder.Uint32(raw[0:4])
	if magic != ConfigMagic {
		return nil, fmt.Errorf("%w: got %#x", ErrBadMagic, magic)
	}
	c := &Config{raw: raw}
	words := make([]uint32, headerSize/4)
	for i := range words {
		words[i] = cfgOrder.Uint32(raw[i*4 : i*4+4])
	}
	h := &c.Header
	h.MagicNumber = words[0]
	h.TotalSize = words[1]
	h.AfdxInputMessageStart = words[2]
	h.AfdxInputMessageCount = words[3]
	h.AfdxInputDatasetStart = words[4]
	h.AfdxInputDatasetCount = words[5]
	h.AfdxInputDatasetMultiStart = words[6]
	h.AfdxInputDatasetMultiCount = words[7]
	h.AfdxOutputMessageStart = words[8]
	h.AfdxOutputMessageCount = words[9]
	h.AfdxOutputDatasetStart = words[10]
	h.AfdxOutputDatasetCount = words[11]
	h.CanInputMessageStart = words[12]
	h.CanInputMessageCount = words[13]
	h.CanOutputMessageStart = words[14]
	h.CanOutputMessageCount = words[15]
	h.A429InputPortStart = words[16]
	h.A429InputPortCount = words[17]
	h.A429InputMessageStart = words[18]
	h.A429InputMessageCount = words[19]
	h.DioInputMessageStart = words[20]
	h.DioInputMessageCount = words[21]
	h.DioOutputMessageStart = words[22]
	h.DioOutputMessageCount = words[23]
	h.SelectionSetStart = words[24]
	h.SelectionSetSize = words[25]
	h.StringTableStart = words[26]
	// StringTableSize sits just past the 27th word read above; read it
	// directly since the loop above only covers the fixed-offset fields.
	if len(raw) < headerSize+4 {
		return nil, ErrTruncated
	}
	h.StringTableSize = cfgOrder.Uint32(raw[headerSize : headerSize+4])

	if uint32(len(raw)) < h.TotalSize {
		return nil, ErrTruncated
	}
	return c, nil
}

// String looks up a NUL-terminated name in the blob's string table.
func (c *Config) String(offset uint32) string {
	start := c.Header.StringTableStart + offset
	if start >= uint32(len(c.raw)) {
		return ""
	}
	end := start
	for end < uint32(len(c.raw)) && c.raw[end] != 0 {
		end++
	}
	return string(c.raw[start:end])
}

const afdxMessageInfoSize = 4 * 14

// AfdxMessageInfo is the typed view of one AfdxMessageInfo_t table entry.
type AfdxMessageInfo struct {
	MessageID      uint32
	MessageLength  uint32
	QueueLength    uint32
	RefreshPeriod  uint32
	ValidTime      uint32
	InvalidTime    uint32
	MessageHdrOff  uint32
	PortNameOffset uint32
	CrcFsbOffset   uint32
	CrcOffset      uint32
	FcFsbOffset    uint32
	FcOffset       uint32
	SchedOffset    uint32
	SchedRate      uint32
}

// AfdxInputMessage decodes the i-th entry of the AFDX input message table.
func (c *Config) AfdxInputMessage(i uint32) (AfdxMessageInfo, error) {
	return c.afdxMessageInfo(c.Header.AfdxInputMessageStart, c.Header.AfdxInputMessageCount, i)
}

// AfdxOutputMessage decodes the i-th entry of the AFDX output message table.
func (c *Config) AfdxOutputMessage(i uint32) (AfdxMessageInfo, error) {
	return c.afdxMessageInfo(c.Header.AfdxOutputMessageStart, c.Header.AfdxOutputMessageCount, i)
}

func (c *Config) afdxMessageInfo(start, count, i uint32) (AfdxMessageInfo, error) {
	var m AfdxMessageInfo
	if i >= count {
		return m, ErrOutOfRange
	}
	off := start + i*afdxMessageInfoSize
	w := c.words(off, 14)
	m = AfdxMessageInfo{
		MessageID: w[0], MessageLength: w[1], QueueLength: w[2], RefreshPeriod: w[3],
		ValidTime: w[4], InvalidTime: w[5], MessageHdrOff: w[6], PortNameOffset: w[7],
		CrcFsbOffset: w[8], CrcOffset: w[9], FcFsbOffset: w[10], FcOffset: w[11],
		SchedOffset: w[12], SchedRate: w[13],
	}
	return m, nil
}

// CanMessageConfig is the typed view of one CanMessageConfig_t table entry.
type CanMessageConfig struct {
	MessageID     uint32
	CanID         uint32
	FreshTime     uint32
	UnfreshTime   uint32
	Size          uint16
	MessageLength byte
	NumMappings   byte
}

const canMessageConfigSize = 4*4 + 2 + 1 + 1

// CanInputMessage decodes the i-th entry of the CAN input message table.
func (c *Config) CanInputMessage(i uint32) (CanMessageConfig, error) {
	return c.canMessageConfig(c.Header.CanInputMessageStart, c.Header.CanInputMessageCount, i)
}

// CanOutputMessage decodes the i-th entry of the CAN output message table.
func (c *Config) CanOutputMessage(i uint32) (CanMessageConfig, error) {
	return c.canMessageConfig(c.Header.CanOutputMessageStart, c.Header.CanOutputMessageCount, i)
}

func (c *Config) canMessageConfig(start, count, i uint32) (CanMessageConfig, error) {
	var m CanMessageConfig
	if i >= count {
		return m, ErrOutOfRange
	}
	off := start + i*canMessageConfigSize
	b := c.bytes(off, canMessageConfigSize)
	m.MessageID = cfgOrder.Uint32(b[0:4])
	m.CanID = cfgOrder.Uint32(b[4:8])
	m.FreshTime = cfgOrder.Uint32(b[8:12])
	m.UnfreshTime = cfgOrder.Uint32(b[12:16])
	m.Size = cfgOrder.Uint16(b[16:18])
	m.MessageLength = b[18]
	m.NumMappings = b[19]
	return m, nil
}

// A429PortInfo is the typed view of one A429PortInfo_t table entry.
type A429PortInfo struct {
	PortID         uint32
	MessageLength  uint32
	QueueLength    uint32
	MessageOffset  uint32
	PortNameOffset uint32
}

const a429PortInfoSize = 4 * 5

// A429InputPort decodes the i-th entry of the A429 input physical port table.
func (c *Config) A429InputPort(i uint32) (A429PortInfo, error) {
	var p A429PortInfo
	if i >= c.Header.A429InputPortCount {
		return p, ErrOutOfRange
	}
	off := c.Header.A429InputPortStart + i*a429PortInfoSize
	w := c.words(off, 5)
	p = A429PortInfo{PortID: w[0], MessageLength: w[1], QueueLength: w[2], MessageOffset: w[3], PortNameOffset: w[4]}
	return p, nil
}

// A429MessageInfo is the typed view of one A429MessageInfo_t (label) entry.
type A429MessageInfo struct {
	Code        byte
	SDI         byte
	Port        byte
	ValidTime   uint32
	InvalidTime uint32
}

const a429MessageInfoSize = 4 + 4 + 4 // code/sdi/port/pad packed into one word, then two uint32s

// A429InputMessage decodes the i-th entry of the A429 input message (label) table.
func (c *Config) A429InputMessage(i uint32) (A429MessageInfo, error) {
	var m A429MessageInfo
	if i >= c.Header.A429InputMessageCount {
		return m, ErrOutOfRange
	}
	off := c.Header.A429InputMessageStart + i*a429MessageInfoSize
	b := c.bytes(off, a429MessageInfoSize)
	m.Code = b[0]
	m.SDI = b[1]
	m.Port = b[2]
	m.ValidTime = cfgOrder.Uint32(b[4:8])
	m.InvalidTime = cfgOrder.Uint32(b[8:12])
	return m, nil
}

const validityConditionConfigSize = 4 * 11

func (c *Config) validityConditionConfig(off uint32) ValidityConditionConfig {
	w := c.words(off, 11)
	return ValidityConditionConfig{
		MsgIdx:    uint16(w[0]),
		Transport: Transport(w[1]),
		Offset:    w[2],
		Offset2:   w[3],
		Offset3:   w[4],
		Access:    w[5],
		SizeBits:  w[6],
		OffBits:   w[7],
		LsbValue:  math.Float32frombits(w[8]),
		MinValue:  w[9],
		MaxValue:  w[10],
	}
}

const validityConfigSize = 4 + 4 + 4*4 + 4*validityConditionConfigSize

// validityConfig decodes a ValidityConfig_t/ValidityConfigCan_t-shaped
// record: up to four ANDed conditions, each with its own kind.
func (c *Config) validityConfig(off uint32) ValidityConfig {
	w := c.words(off, 2+4)
	vc := ValidityConfig{NumConditions: w[0], SourceSet: w[1]}
	for i := 0; i < 4; i++ {
		vc.Kinds[i] = ValidityConditionKind(w[2+i])
	}
	condBase := off + 4 + 4 + 4*4
	for i := 0; i < 4; i++ {
		vc.Conditions[i] = c.validityConditionConfig(condBase + uint32(i)*validityConditionConfigSize)
	}
	return vc
}

const datasetSourceConfigSize = 4 + 4 + validityConfigSize

// datasetSourceConfig decodes one candidate source of an input dataset:
// which message carries it, and the validity check gating its selection.
func (c *Config) datasetSourceConfig(off uint32) DatasetSourceConfig {
	w := c.words(off, 2)
	return DatasetSourceConfig{
		MsgIdx:     w[0],
		Transport:  Transport(w[1]),
		Conditions: c.validityConfig(off + 8),
	}
}

const inputSignalConfigBlobSize = 4 * 5

func (c *Config) inputSignalConfig(off uint32) InputSignalConfig {
	w := c.words(off, 5)
	return InputSignalConfig{
		Kind:     InputMappingKind(w[0]),
		OffByte:  w[1],
		SizeBits: w[2],
		OffBits:  w[3],
		LsbValue: math.Float32frombits(w[4]),
	}
}

const datasetParamConfigSize = inputSignalConfigBlobSize + 4 + 4

// datasetParamConfig decodes one parameter decoded out of a dataset's
// selected source: where to find it (Signal) and where to write the
// decoded value/validity in the application's parameter buffers.
func (c *Config) datasetParamConfig(off uint32) DatasetParamConfig {
	w := c.words(off+inputSignalConfigBlobSize, 2)
	return DatasetParamConfig{
		Signal:    c.inputSignalConfig(off),
		ParOffset: w[0],
		ValOffset: w[1],
	}
}

const inputDatasetHeaderSize = 4 * 6

// InputDatasetHeader is the typed view of one InputDatasetHeader_t entry:
// how many candidate sources and decoded parameters the dataset carries,
// and where their records start in the blob.
type InputDatasetHeader struct {
	NumSources   uint32
	NumParams    uint32
	SourcesStart uint32
	ParamsStart  uint32
	LogicSize    uint32
	DatasetSize  uint32
}

func (c *Config) inputDatasetHeader(off uint32) InputDatasetHeader {
	w := c.words(off, 6)
	return InputDatasetHeader{
		NumSources:   w[0],
		NumParams:    w[1],
		SourcesStart: w[2],
		ParamsStart:  w[3],
		LogicSize:    w[4],
		DatasetSize:  w[5],
	}
}

// AfdxInputDataset decodes the i-th entry of the AFDX input dataset table:
// its header plus every candidate source and decoded parameter it declares.
func (c *Config) AfdxInputDataset(i uint32) (InputDatasetHeader, []DatasetSourceConfig, []DatasetParamConfig, error) {
	if i >= c.Header.AfdxInputDatasetCount {
		return InputDatasetHeader{}, nil, nil, ErrOutOfRange
	}
	off := c.Header.AfdxInputDatasetStart + i*inputDatasetHeaderSize
	h := c.inputDatasetHeader(off)

	sources := make([]DatasetSourceConfig, h.NumSources)
	for s := uint32(0); s < h.NumSources; s++ {
		sources[s] = c.datasetSourceConfig(h.SourcesStart + s*datasetSourceConfigSize)
	}
	params := make([]DatasetParamConfig, h.NumParams)
	for p := uint32(0); p < h.NumParams; p++ {
		params[p] = c.datasetParamConfig(h.ParamsStart + p*datasetParamConfigSize)
	}
	return h, sources, params, nil
}

const outputMappingConfigSize = inputSignalConfigBlobSize + 4

func (c *Config) outputMappingConfig(off uint32) OutputMappingConfig {
	w := c.words(off+inputSignalConfigBlobSize, 1)
	sig := c.inputSignalConfig(off)
	return OutputMappingConfig{
		Signal: OutputSignalConfig{
			Kind:     OutputMappingKind(sig.Kind),
			OffByte:  sig.OffByte,
			SizeBits: sig.SizeBits,
			OffBits:  sig.OffBits,
			LsbValue: sig.LsbValue,
		},
		ParOffset: w[0],
	}
}

const outputDatasetConfigSize = 4 * 5

// OutputDatasetHeader is the typed view of one OutputDatasetConfig_t entry.
type OutputDatasetHeader struct {
	Kind           OutputDatasetKind
	NumMappings    uint32
	MappingsStart  uint32
	A429LabelIDSDI uint32
	A429SSM        OutputSSMKind
}

func (c *Config) outputDatasetHeader(off uint32) OutputDatasetHeader {
	w := c.words(off, 5)
	return OutputDatasetHeader{
		Kind:           OutputDatasetKind(w[0]),
		NumMappings:    w[1],
		MappingsStart:  w[2],
		A429LabelIDSDI: w[3],
		A429SSM:        OutputSSMKind(w[4]),
	}
}

// AfdxOutputDataset decodes the i-th entry of the AFDX output dataset
// table: its header plus every output mapping it declares.
func (c *Config) AfdxOutputDataset(i uint32) (OutputDatasetHeader, []OutputMappingConfig, error) {
	if i >= c.Header.AfdxOutputDatasetCount {
		return OutputDatasetHeader{}, nil, ErrOutOfRange
	}
	off := c.Header.AfdxOutputDatasetStart + i*outputDatasetConfigSize
	h := c.outputDatasetHeader(off)
	mappings := make([]OutputMappingConfig, h.NumMappings)
	for m := uint32(0); m < h.NumMappings; m++ {
		mappings[m] = c.outputMappingConfig(h.MappingsStart + m*outputMappingConfigSize)
	}
	return h, mappings, nil
}

const selectionSetConfigSize = 4 * 6

// SelectionSetConfig is the typed view of one SelectionSetConfig_t entry.
type SelectionSetConfig struct {
	NofSources        uint32
	Criteria          SelectionCriteria
	SourceHealthMode  SourceHealthMode
	SourceHealthValue uint32 // doubles as the health-score lock timeout in ms
	SourceOffset      uint32
	SetConfigSize     uint32
}

// SelectionSet decodes the i-th entry of the selection-set table. Datasets
// and selection sets are matched 1:1 by index, the simplest layout that
// still lets every dataset declare its own criteria/health-lock behavior.
func (c *Config) SelectionSet(i uint32) (SelectionSetConfig, error) {
	count := c.Header.SelectionSetSize / selectionSetConfigSize
	if i >= count {
		return SelectionSetConfig{}, ErrOutOfRange
	}
	off := c.Header.SelectionSetStart + i*selectionSetConfigSize
	w := c.words(off, 6)
	return SelectionSetConfig{
		NofSources:        w[0],
		Criteria:          SelectionCriteria(w[1]),
		SourceHealthMode:  SourceHealthMode(w[2]),
		SourceHealthValue: w[3],
		SourceOffset:      w[4],
		SetConfigSize:     w[5],
	}, nil
}

// words reads n consecutive little-endian uint32s starting at byte offset
// off, panicking (like a slice out-of-range index) if the blob is shorter
// than declared -- ParseConfig already guarantees TotalSize <= len(raw), so
// a well-formed blob never triggers this.
func (c *Config) words(off uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = cfgOrder.Uint32(c.raw[off+uint32(i)*4 : off+uint32(i)*4+4])
	}
	return out
}

func (c *Config) bytes(off, n uint32) []byte {
	return c.raw[off : off+n]
}
