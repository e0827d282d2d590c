// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ioen

// Source is one candidate in a selection set: its current validity and,
// for LIC_PARAMETER sets, whether its configured parameter currently holds
// the expected value.
type Source struct {
	Validity    Validity
	ParamOK     bool // LIC_PARAMETER: does the watched parameter equal its expected value
	HealthScore uint32
	Locked      bool
}

// SelectionSet holds the running state of one redundant-source selection,
// across SOURCE_ONE, LIC_PARAMETER, HEALTH_SCORE and OBJECT_VALID criteria.
type SelectionSet struct {
	Criteria       SelectionCriteria
	HealthMode     SourceHealthMode
	LockTimeoutMs  uint32
	selectedSource uint32
	lockElapsedMs  uint32
}

// NewSelectionSet starts a selection set with no source chosen yet.
func NewSelectionSet(criteria SelectionCriteria, healthMode SourceHealthMode, lockTimeoutMs uint32) SelectionSet {
	return SelectionSet{
		Criteria:       criteria,
		HealthMode:     healthMode,
		LockTimeoutMs:  lockTimeoutMs,
		selectedSource: NoSourceSelected,
	}
}

// Selected returns the currently selected source index, or NoSourceSelected.
func (s *SelectionSet) Selected() uint32 { return s.selectedSource }

// Select runs one cycle of source selection over sources, in priority
// order (index 0 is highest priority), and returns the chosen index (or
// NoSourceSelected).
func (s *SelectionSet) Select(sources []Source, cycleMs uint32) uint32 {
	switch s.Criteria {
	case CriteriaOne:
		s.selectedSource = selectOne(sources)
	case CriteriaLicParameter:
		s.selectedSource = s.selectLicParameter(sources)
	case CriteriaHealthScore:
		s.selectedSource = s.selectHealthScore(sources, cycleMs)
	case CriteriaObjectValid:
		s.selectedSource = selectObjectValid(sources)
	default:
		s.selectedSource = NoSourceSelected
	}
	return s.selectedSource
}

// selectOne always picks the single highest-priority valid source; with
// exactly one configured source there is nothing to arbitrate.
func selectOne(sources []Source) uint32 {
	for i, src := range sources {
		if src.Validity.Value == Valid {
			return uint32(i)
		}
	}
	return NoSourceSelected
}

// selectObjectValid picks the highest-priority source whose validity state
// is VALID; it is identical to selectOne, consults no lock interval, and
// returns NoSourceSelected when no source is valid.
func selectObjectValid(sources []Source) uint32 {
	return selectOne(sources)
}

// selectLicParameter generalizes the two-source LIC_PARAMETER rule to N
// sources: scan in priority order, counting how many candidates are invalid
// and remembering the first one that is valid but holds the wrong
// parameter value. A source that is both valid and holds the expected value
// wins outright. If every candidate is either invalid or wrong-valued, fall
// back to the first invalid candidate only when the set is mixed (some
// invalid, some wrong-valued); a uniformly invalid or uniformly
// wrong-valued set instead retains whatever was previously selected, or
// source 0 when that index is out of range.
func (s *SelectionSet) selectLicParameter(sources []Source) uint32 {
	invalidCount := 0
	firstInvalid := NoSourceSelected
	firstWrongValue := NoSourceSelected

	for i, src := range sources {
		if src.Validity.Value != Valid {
			invalidCount++
			if firstInvalid == NoSourceSelected {
				firstInvalid = uint32(i)
			}
			continue
		}
		if src.ParamOK {
			return uint32(i)
		}
		if firstWrongValue == NoSourceSelected {
			firstWrongValue = uint32(i)
		}
	}

	mixed := invalidCount > 0 && invalidCount < len(sources) && firstWrongValue != NoSourceSelected
	if mixed {
		return firstInvalid
	}
	if s.selectedSource >= uint32(len(sources)) {
		return 0
	}
	return s.selectedSource
}

// selectHealthScore picks the source with the highest health score among
// the valid candidates whose Locked flag is clear; on equal scores the
// higher-priority (lower index) source wins. Locked is read as given: this
// function never sets or clears it, and LockTimeoutMs and HealthMode do not
// change which source is picked.
func (s *SelectionSet) selectHealthScore(sources []Source, cycleMs uint32) uint32 {
	if s.HealthMode != SourceHealthNoLock {
		s.lockElapsedMs += cycleMs
	}

	best := NoSourceSelected
	var bestScore uint32
	for i, src := range sources {
		if src.Validity.Value != Valid || src.Locked {
			continue
		}
		if best == NoSourceSelected || src.HealthScore > bestScore {
			best = uint32(i)
			bestScore = src.HealthScore
		}
	}
	return best
}
