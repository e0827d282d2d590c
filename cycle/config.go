// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package cycle is the orchestrator: it owns the periodic bring-up and
// per-cycle step of every transport package (afdx, a429, can), feeding
// their decoded parameters through the shared ioen engine and into the
// application's output datasets.
package cycle

import (
	"errors"
	"time"

	"gopkg.in/ini.v1"
)

// defines the configuration range for a partition's periodic bring-up.
const (
	PeriodMin = 1 * time.Millisecond
	PeriodMax = 1 * time.Second

	CanRoutingEnabledDefault = false
)

// Config is the cycle orchestrator's bring-up configuration: the
// application's configured period, which config blob to load, and whether
// this partition also owns CAN routing (historically gated on the
// partition's application name, e.g. only "PFDIOM" creates CAN ports).
type Config struct {
	// Period is the partition's periodic process rate, e.g. 16.5ms.
	Period time.Duration

	// ConfigBlobPath names the file the config blob is read from at
	// bring-up; tests substitute an in-memory blob directly instead.
	ConfigBlobPath string

	// CanRoutingEnabled gates whether CreatePorts also creates the CAN
	// RX_A/RX_B and ROUTING_TX ports for this partition.
	CanRoutingEnabled bool
}

// Valid fills a zero Period with its default, range-checks a non-zero
// Period, and requires ConfigBlobPath to be set.
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("cycle: invalid pointer")
	}
	if c.Period == 0 {
		c.Period = 16500 * time.Microsecond
	} else if c.Period < PeriodMin || c.Period > PeriodMax {
		return errors.New("cycle: Period not in [1ms, 1s]")
	}
	if c.ConfigBlobPath == "" {
		return errors.New("cycle: ConfigBlobPath must be set")
	}
	return nil
}

// DefaultConfig returns the partition's default bring-up configuration.
func DefaultConfig() Config {
	return Config{
		Period:            16500 * time.Microsecond,
		CanRoutingEnabled: CanRoutingEnabledDefault,
	}
}

// LoadConfig reads bring-up parameters from an INI file via gopkg.in/ini.v1,
// applying DefaultConfig for anything the file leaves unset.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := ini.Load(path)
	if err != nil {
		return Config{}, err
	}
	sec := f.Section("cycle")
	if v := sec.Key("period_us").MustUint(0); v != 0 {
		cfg.Period = time.Duration(v) * time.Microsecond
	}
	cfg.ConfigBlobPath = sec.Key("config_blob").MustString(cfg.ConfigBlobPath)
	cfg.CanRoutingEnabled = sec.Key("can_routing_enabled").MustBool(cfg.CanRoutingEnabled)

	if err := cfg.Valid(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
