// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ioen

// Confirmation debounces a raw, possibly noisy validity reading into a
// stable value that only changes once it has been observed for a run of
// consecutive cycles. It tracks three values: current (the most recent raw
// observation), last (the observation from the previous cycle) and confirmed
// (the debounced, externally visible value).
type Confirmation struct {
	current   Validity
	last      Validity
	confirmed Validity
	runLength uint32
}

// NewConfirmation starts a debouncer with no data observed yet: current,
// last and confirmed are all DataInitValue/NODATA.
func NewConfirmation() Confirmation {
	return Confirmation{}
}

// NewConfirmationValid starts a debouncer already settled on VALID/NORMALOP
// with no data payload attached, used for sources seeded at power-up that
// are assumed good until proven otherwise.
func NewConfirmationValid() Confirmation {
	v := Validity{Value: Valid, IfValue: IfNormalOp}
	return Confirmation{current: v, last: v, confirmed: v}
}

// NewConfirmationValidSeeded is identical to NewConfirmationValid. Dataset
// does not use it: NewDataset seeds every source, OBJECT_VALID included,
// with NewConfirmation.
func NewConfirmationValidSeeded() Confirmation {
	return NewConfirmationValid()
}

// Current returns the most recent raw observation, not yet debounced.
func (c *Confirmation) Current() Validity { return c.current }

// Confirmed returns the debounced, externally visible value.
func (c *Confirmation) Confirmed() Validity { return c.confirmed }

// Update feeds one cycle's raw observation through the debouncer.
// limitCycleValid is the number of consecutive identical observations
// required before confirmed is allowed to transition into the VALID state;
// limitCycleInvalid is the same threshold guarding a transition out of
// VALID into INVALID/LOST. A transition that does not cross the VALID
// boundary (e.g. NODATA -> NCD, both INVALID) confirms immediately.
func (c *Confirmation) Update(observed Validity, limitCycleValid, limitCycleInvalid uint32) {
	c.last = c.current
	c.current = observed

	if c.current == c.last {
		c.runLength++
	} else {
		c.runLength = 1
	}

	limit := limitCycleInvalid
	if c.current.Value == Valid {
		limit = limitCycleValid
	}
	if limit == 0 {
		limit = 1
	}

	becomingValid := c.current.Value == Valid && c.confirmed.Value != Valid
	becomingInvalid := c.current.Value != Valid && c.confirmed.Value == Valid

	switch {
	case !becomingValid && !becomingInvalid:
		c.confirmed = c.current
	case c.runLength >= limit:
		c.confirmed = c.current
	}
}

// Invalidate forces confirmed (and current/last) directly to LOST/UNFRESH,
// bypassing the debounce run-length entirely, used when the owning message
// itself has gone stale rather than any one source's condition failing.
func (c *Confirmation) Invalidate() {
	lost := Validity{Value: Lost, IfValue: IfUnfresh}
	c.current = lost
	c.last = lost
	c.confirmed = lost
	c.runLength = 0
}

// MessageFreshness debounces the newData flag of an entire message (rather
// than a single parameter's validity) across read cycles, driving whether
// the message is considered fresh enough to feed its input mappings at all.
type MessageFreshness struct {
	fresh            bool
	cyclesSinceWrite uint32
	maxUnfreshCycles uint32
}

// NewMessageFreshness creates a freshness tracker that allows up to
// maxUnfreshCycles consecutive cycles without new data before the message
// is declared unfresh. It starts unfresh, matching partition power-up
// where a message that has never been received is not yet usable.
func NewMessageFreshness(maxUnfreshCycles uint32) MessageFreshness {
	return MessageFreshness{maxUnfreshCycles: maxUnfreshCycles}
}

// NewMessageFreshnessSeeded is the counterpart used when a tracker is
// created for a source already assumed good (e.g. a CAN message control
// record seeded alongside a pre-confirmed VALID source): it starts fresh,
// so the very first missed cycle is still within tolerance rather than an
// immediate drop to unfresh.
func NewMessageFreshnessSeeded(maxUnfreshCycles uint32) MessageFreshness {
	return MessageFreshness{maxUnfreshCycles: maxUnfreshCycles, fresh: true}
}

// Tick advances one cycle. newData reports whether the port delivered a new
// message this cycle; the return value reports whether the message is
// still considered fresh after this cycle.
func (m *MessageFreshness) Tick(newData bool) bool {
	if newData {
		m.cyclesSinceWrite = 0
		m.fresh = true
		return true
	}
	m.cyclesSinceWrite++
	if m.cyclesSinceWrite > m.maxUnfreshCycles {
		m.fresh = false
	}
	return m.fresh
}

// Fresh reports the tracker's current freshness state without advancing it.
func (m *MessageFreshness) Fresh() bool { return m.fresh }
