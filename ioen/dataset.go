// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ioen

// DatasetSourceConfig is one candidate source of an input dataset: which
// message carries it (by transport and per-transport message index) and
// the validity check that gates whether it may be selected.
type DatasetSourceConfig struct {
	MsgIdx     uint32
	Transport  Transport
	Conditions ValidityConfig
}

// DatasetParamConfig is one parameter decoded out of whichever source wins
// selection: where to find it in the source's message buffer (Signal) and
// where to write the decoded value and its validity byte in the
// application's parameter/value buffers.
type DatasetParamConfig struct {
	Signal    InputSignalConfig
	ParOffset uint32
	ValOffset uint32
}

// Dataset is the run-time state of one input dataset across cycles: its
// decoded sources and parameters, the confirmation debouncer for each
// candidate source, and the selection set choosing among them.
type Dataset struct {
	Name    string
	Sources []DatasetSourceConfig
	Params  []DatasetParamConfig

	confirm   []Confirmation
	selection SelectionSet
}

// NewDataset builds the run-time state for a decoded dataset. When there is
// exactly one source, criteria is forced to CriteriaOne regardless of what
// the blob declares, since a single-source dataset has nothing to
// arbitrate.
func NewDataset(name string, sources []DatasetSourceConfig, params []DatasetParamConfig, criteria SelectionCriteria, healthMode SourceHealthMode, lockTimeoutMs uint32) *Dataset {
	if len(sources) <= 1 {
		criteria = CriteriaOne
	}
	confirm := make([]Confirmation, len(sources))
	for i := range confirm {
		confirm[i] = NewConfirmation()
	}
	return &Dataset{
		Name:      name,
		Sources:   sources,
		Params:    params,
		confirm:   confirm,
		selection: NewSelectionSet(criteria, healthMode, lockTimeoutMs),
	}
}

// BufferLookup resolves the current cycle's message buffer for a given
// transport/message-index pair, reporting ok=false when that message has
// not produced an accepted buffer this cycle (stale, never received, or
// failed CRC/FC).
type BufferLookup func(transport Transport, msgIdx uint32) (buf []byte, ok bool)

// Process runs one cycle of decode -> select for this dataset: every
// source's validity condition is evaluated against its current buffer (an
// unavailable buffer counts as INVALID/NODATA without panicking), the
// results are debounced through each source's Confirmation, the selection
// set picks a winner among the confirmed-valid candidates, and -- when a
// source was selected -- every parameter is decoded out of that source's
// buffer into dest via ConvertInput. It returns the dataset's overall
// selected-source validity word, whose SelectedSource is the 1-based index
// of the winning source; it is not written into dest.
func (d *Dataset) Process(lookup BufferLookup, dest []byte, cycleMs uint32) Validity {
	sources := make([]Source, len(d.Sources))
	buffers := make([][]byte, len(d.Sources))

	for i, src := range d.Sources {
		buf, ok := lookup(src.Transport, src.MsgIdx)
		var observed Validity
		if !ok {
			observed = Validity{Value: Invalid, IfValue: IfNoData}
		} else if src.Conditions.Evaluate(buf) {
			observed = Validity{Value: Valid, IfValue: IfNormalOp}
		} else {
			observed = Validity{Value: Invalid, IfValue: IfOutOfRange}
		}
		d.confirm[i].Update(observed, 1, 1)
		sources[i] = Source{Validity: d.confirm[i].Confirmed()}
		buffers[i] = buf
	}

	selected := d.selection.Select(sources, cycleMs)
	if selected == NoSourceSelected || buffers[selected] == nil {
		return Validity{Value: Invalid, IfValue: IfNoData}
	}

	buf := buffers[selected]
	for _, p := range d.Params {
		parDest := dest[p.ParOffset:]
		ConvertInput(p.Signal, buf, parDest)
		if p.ValOffset != p.ParOffset && int(p.ValOffset) < len(dest) {
			dest[p.ValOffset] = byte(sources[selected].Validity.Value)
		}
	}
	result := sources[selected].Validity
	result.SelectedSource = byte(selected + 1)
	return result
}

// OutputMappingConfig is one parameter encoded into an output dataset: the
// encode rule (Signal) plus where its source value lives in the
// application's parameter buffer.
type OutputMappingConfig struct {
	Signal    OutputSignalConfig
	ParOffset uint32
}

// OutputDataset is the run-time state of one output dataset: its mappings
// and, for an embedded-A429 dataset, the configured label/SDI/SSM values.
// Encode runs the mappings only; Kind and the A429 fields are carried but
// not applied to the message.
type OutputDataset struct {
	Kind     OutputDatasetKind
	Mappings []OutputMappingConfig

	A429LabelIDSDI uint32
	A429SSM        OutputSSMKind
}

// Encode runs ConvertOutput for every configured mapping, reading each
// source value out of src (the application's output parameter buffer) and
// writing the encoded result into msg (the destination message buffer).
func (od *OutputDataset) Encode(src []byte, msg []byte) {
	for _, m := range od.Mappings {
		ConvertOutput(m.Signal, src[m.ParOffset:], msg)
	}
}
