// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package platform resolves the one piece of state that genuinely depends
// on which physical box a partition image is running on: its Display Unit
// identity, historically read from a hardware strap and used to select one
// of several compiled-in config blobs.
package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DisplayUnitID names one of the physical slots a partition image can be
// deployed into; each carries its own config blob.
type DisplayUnitID int

const (
	DUUnknown DisplayUnitID = iota
	DULeftOutboard
	DULeftInboard
	DURightInboard
	DURightOutboard
	DUCenter
)

func (d DisplayUnitID) String() string {
	switch d {
	case DULeftOutboard:
		return "LO"
	case DULeftInboard:
		return "LI"
	case DURightInboard:
		return "RI"
	case DURightOutboard:
		return "RO"
	case DUCenter:
		return "CE"
	default:
		return "UNKNOWN"
	}
}

// HostnameResolver reads back whatever identifies the current host, so unit
// tests can substitute a stub without touching the real syscall boundary.
type HostnameResolver interface {
	Hostname() (string, error)
}

// unameResolver reads the node name out of uname(2) via golang.org/x/sys,
// matching the partition bring-up code's hardware strap lookup without
// requiring a real avionics backplane to run against in development.
type unameResolver struct{}

func (unameResolver) Hostname() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("platform: uname: %w", err)
	}
	return charsToString(uts.Nodename[:]), nil
}

func charsToString(raw []byte) string {
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

// DefaultResolver is the production HostnameResolver to pass to
// ResolveDisplayUnitID; tests pass their own HostnameResolver instead.
var DefaultResolver HostnameResolver = unameResolver{}

// unitsByHostSuffix maps the trailing tag of a partition host name to the
// display unit identity it corresponds to, mirroring the IDU_LO/LI/RI/RO/CE
// switch the original bring-up code ran over a hardware-read enum.
var unitsByHostSuffix = map[string]DisplayUnitID{
	"lo": DULeftOutboard,
	"li": DULeftInboard,
	"ri": DURightInboard,
	"ro": DURightOutboard,
	"ce": DUCenter,
}

// ResolveDisplayUnitID determines which display unit this partition image
// is running as. Defaulting to DULeftOutboard on an unrecognized or
// unreadable host name mirrors the original bring-up code's fallback.
func ResolveDisplayUnitID(r HostnameResolver) DisplayUnitID {
	name, err := r.Hostname()
	if err != nil || len(name) < 2 {
		return DULeftOutboard
	}
	suffix := name[len(name)-2:]
	if id, ok := unitsByHostSuffix[suffix]; ok {
		return id
	}
	return DULeftOutboard
}
