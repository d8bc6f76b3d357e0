// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package config

import (
	"fmt"

	"github.com/tomtom215/cipulse/internal/validation"
)

// Validate checks field constraints declared in struct tags, then
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	validators := []func() error{
		c.validateLock,
		c.validateETL,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLock() error {
	switch c.Lock.Backend {
	case "badger":
		if c.Lock.Path == "" {
			return fmt.Errorf("lock.path is required when lock.backend=badger")
		}
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when lock.backend=redis")
		}
	}
	return nil
}

// validateETL rejects a run timeout longer than the lock lease: the lease
// would expire while the run still holds it.
func (c *Config) validateETL() error {
	if c.Lock.Backend != "none" && c.ETL.RunTimeout > c.Lock.TTL {
		return fmt.Errorf("etl.run_timeout (%s) must not exceed lock.ttl (%s)", c.ETL.RunTimeout, c.Lock.TTL)
	}
	return nil
}
