// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package afdx implements the ARINC-664/AFDX input and output message
// handling: port creation, CRC/freshness-counter stamping and checking, and
// the read/write cycle that feeds the shared ioen conversion engine.
package afdx

import (
	"errors"
	"fmt"

	"github.com/fuhuatek/ioen-go/clog"
	"github.com/fuhuatek/ioen-go/ioen"
)

// ErrPortExists is returned by CreatePort when a port of the requested name
// already exists with an incompatible configuration; idempotent callers
// should treat it as success, not failure (see EnsurePort).
var ErrPortExists = errors.New("afdx: port already exists")

// Port abstracts one APEX sampling or queuing port: every AFDX transaction
// in this package goes through this seam rather than a concrete partition
// API binding, so the read/write/CRC/FC logic can be exercised without a
// real ARINC-653 runtime underneath it.
type Port interface {
	Name() string
	Read() (data []byte, newData bool, err error)
	Write(data []byte) error
}

// PortProvider creates the underlying sampling/queuing port for a given
// message name and buffer length; it is the only seam that would need a
// real APEX binding in a deployed partition image.
type PortProvider interface {
	CreateSamplingPort(name string, length int, isSource bool) (Port, error)
}

// EnsurePort creates a port idempotently: a provider reporting ErrPortExists
// is expected to have already resolved its own handle to the existing port
// and returned it alongside the error, so a second bring-up pass over the
// same configuration never fails outright.
func EnsurePort(provider PortProvider, name string, length int, isSource bool, log clog.Clog) (Port, error) {
	p, err := provider.CreateSamplingPort(name, length, isSource)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, ErrPortExists) && p != nil {
		log.Info("afdx: port %s already exists, reusing", name)
		return p, nil
	}
	return nil, fmt.Errorf("afdx: create port %s: %w", name, err)
}

// ioen.Transport alias kept local so callers of this package don't need to
// import ioen just to tag a message's transport.
const Transport = ioen.TransportAFDX
