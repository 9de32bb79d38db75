// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

// Package heartbeat drives the periodic liveness cycle: snapshot the
// accumulated metrics, encode, sign, submit, and commit or discard.
package heartbeat

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/tangle-network/blueprint-sub004/pkg/wire"
)

// Config configures the heartbeat scheduler.
type Config struct {
	// ServiceID is the on-chain service instance identity.
	ServiceID uint64

	// BlueprintID is the blueprint this service was instanced from.
	BlueprintID uint64

	// BaseInterval is the nominal time between heartbeat cycles.
	BaseInterval time.Duration

	// JitterFraction spreads cycle starts uniformly over
	// [BaseInterval, BaseInterval*(1+JitterFraction)] so a fleet of
	// operators does not submit in lockstep.
	JitterFraction float64

	// MaxInterval caps the computed interval whatever the configuration
	// says.
	MaxInterval time.Duration

	// SubmitTimeout bounds a single submission attempt.
	SubmitTimeout time.Duration

	// ShutdownGrace is how long shutdown waits for an in-flight
	// submission to resolve before declaring it indeterminate.
	ShutdownGrace time.Duration

	// MaxPairs and MaxKeyLen are the payload codec limits.
	MaxPairs  int
	MaxKeyLen int

	// MaxMissed is the number of consecutive failed cycles tolerated
	// before a fatal-class error is surfaced on the failure channel.
	MaxMissed int
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		BaseInterval:   5 * time.Minute,
		JitterFraction: 0.10,
		MaxInterval:    time.Hour,
		SubmitTimeout:  30 * time.Second,
		ShutdownGrace:  10 * time.Second,
		MaxPairs:       wire.DefaultMaxPairs,
		MaxKeyLen:      wire.DefaultMaxKeyLen,
		MaxMissed:      3,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.BaseInterval == 0 {
		c.BaseInterval = defaults.BaseInterval
	}
	if c.JitterFraction == 0 {
		c.JitterFraction = defaults.JitterFraction
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = defaults.MaxInterval
	}
	if c.SubmitTimeout == 0 {
		c.SubmitTimeout = defaults.SubmitTimeout
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = defaults.ShutdownGrace
	}
	if c.MaxPairs == 0 {
		c.MaxPairs = defaults.MaxPairs
	}
	if c.MaxKeyLen == 0 {
		c.MaxKeyLen = defaults.MaxKeyLen
	}
	if c.MaxMissed == 0 {
		c.MaxMissed = defaults.MaxMissed
	}
}

// Validate ensures the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseInterval < 0 {
		return fmt.Errorf("base interval must be positive, got %s", c.BaseInterval)
	}
	if c.JitterFraction < 0 {
		return fmt.Errorf("jitter fraction must not be negative, got %f", c.JitterFraction)
	}
	if c.MaxInterval < 0 {
		return fmt.Errorf("max interval must be positive, got %s", c.MaxInterval)
	}
	return nil
}

// nextInterval computes one jittered cycle interval with saturating
// arithmetic: pathological configuration (huge base, huge jitter) clamps
// instead of overflowing or panicking.
func (c Config) nextInterval(rng *rand.Rand) time.Duration {
	base := c.BaseInterval
	if base <= 0 {
		base = DefaultConfig().BaseInterval
	}

	var jitterMax time.Duration
	if c.JitterFraction > 0 {
		jf := float64(base) * c.JitterFraction
		if jf >= float64(math.MaxInt64) {
			jitterMax = math.MaxInt64
		} else {
			jitterMax = time.Duration(jf)
		}
	}
	// Saturate the sum before drawing so base+jitter cannot wrap.
	if jitterMax > math.MaxInt64-base {
		jitterMax = math.MaxInt64 - base
	}

	d := base
	if jitterMax > 0 {
		d += time.Duration(rng.Int63n(int64(jitterMax) + 1))
	}

	if c.MaxInterval > 0 && d > c.MaxInterval {
		d = c.MaxInterval
	}
	return d
}
