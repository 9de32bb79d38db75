// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package push

import (
	"fmt"
	"net/url"
	"time"
)

const (
	// Safety limit to prevent unbounded queue growth.
	MaxSafeQueueSize = 100000
)

type Config struct {
	// Endpoint is the HTTP(S) URL samples are POSTed to.
	Endpoint string

	// Source identifies this agent in forwarded batches.
	Source string

	// MaxQueueSize bounds the in-memory sample queue. Samples recorded
	// while the queue is full are dropped from the forwarder only; the
	// wrapped provider keeps them.
	MaxQueueSize int

	// FlushInterval is how often the upload worker drains the queue.
	FlushInterval time.Duration

	// BatchSize caps the number of samples per upload request.
	BatchSize int

	// Timeout bounds a single upload request.
	Timeout time.Duration

	// Retry configuration for failed uploads.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Source:         "blueprint-agent",
		MaxQueueSize:   4096,
		FlushInterval:  10 * time.Second,
		BatchSize:      512,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
	}
	if c.Source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	if c.MaxQueueSize <= 0 || c.MaxQueueSize > MaxSafeQueueSize {
		return fmt.Errorf("max queue size must be in (0, %d], got %d", MaxSafeQueueSize, c.MaxQueueSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %v", c.FlushInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("backoff bounds invalid: initial %v, max %v", c.InitialBackoff, c.MaxBackoff)
	}
	return nil
}
