// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package otelmirror

import (
	"flag"
	"fmt"
	"time"
)

// Command-line flag variables (populated by init())
var (
	flagEnabled  *bool
	flagEndpoint *string
)

func init() {
	flagEnabled = flag.Bool("enable-otel-mirror", false,
		"Mirror recorded metrics to an OTLP collector (configure via -otel-endpoint and OTEL_* environment variables)")
	flagEndpoint = flag.String("otel-endpoint", "localhost:4317", "OTLP gRPC endpoint for the metrics mirror")
}

type Config struct {
	// OTLP gRPC configuration
	Endpoint string // OTLP gRPC endpoint (default: localhost:4317)
	Insecure bool   // Disable TLS (default: false)

	// Timeout for export operations
	Timeout time.Duration

	// ExportInterval is the periodic reader's flush cadence.
	ExportInterval time.Duration

	// Resource attributes
	ServiceName string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:       "localhost:4317",
		Insecure:       false,
		Timeout:        30 * time.Second,
		ExportInterval: time.Minute,
		ServiceName:    "blueprint-agent",
	}
}

// ConfigFromFlags builds a Config from the package flags.
// Returns enabled=false when the mirror flag was not set.
func ConfigFromFlags() (Config, bool) {
	cfg := DefaultConfig()
	if flagEndpoint != nil && *flagEndpoint != "" {
		cfg.Endpoint = *flagEndpoint
	}
	return cfg, flagEnabled != nil && *flagEnabled
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.ExportInterval <= 0 {
		return fmt.Errorf("export interval must be positive, got %v", c.ExportInterval)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	return nil
}
