// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Section kinds understood by the parser.
const (
	KindHeartbeat = "heartbeat"
	KindForwarder = "forwarder"
	KindTelemetry = "telemetry"
)

// Duration wraps time.Duration so config documents can use either Go
// duration strings ("5m") or plain integer seconds (300).
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if err := value.Decode(&secs); err == nil {
		if secs < 0 {
			return fmt.Errorf("duration cannot be negative: %d", secs)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be an integer or a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// HeartbeatSection tunes the submission scheduler.
// Zero fields keep their built-in defaults.
type HeartbeatSection struct {
	BaseInterval   Duration `yaml:"base_interval"`
	JitterFraction float64  `yaml:"jitter_fraction"`
	MaxInterval    Duration `yaml:"max_interval"`
	SubmitTimeout  Duration `yaml:"submit_timeout"`
	ShutdownGrace  Duration `yaml:"shutdown_grace"`
	MaxMissed      int      `yaml:"max_missed"`
}

func (s *HeartbeatSection) Kind() string { return KindHeartbeat }

func (s *HeartbeatSection) Validate() error {
	if s.JitterFraction < 0 || s.JitterFraction >= 1 {
		return fmt.Errorf("jitter_fraction must be in [0, 1), got %v", s.JitterFraction)
	}
	if s.MaxInterval != 0 && s.BaseInterval != 0 && s.MaxInterval < s.BaseInterval {
		return fmt.Errorf("max_interval %v is below base_interval %v", s.MaxInterval.Std(), s.BaseInterval.Std())
	}
	if s.MaxMissed < 0 {
		return fmt.Errorf("max_missed cannot be negative, got %d", s.MaxMissed)
	}
	return nil
}

func (s *HeartbeatSection) Clone() Section {
	out := *s
	return &out
}

// ForwarderSection tunes the HTTP metrics forwarder.
type ForwarderSection struct {
	Endpoint      string   `yaml:"endpoint"`
	FlushInterval Duration `yaml:"flush_interval"`
	MaxQueueSize  int      `yaml:"max_queue_size"`
}

func (s *ForwarderSection) Kind() string { return KindForwarder }

func (s *ForwarderSection) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if s.MaxQueueSize < 0 {
		return fmt.Errorf("max_queue_size cannot be negative, got %d", s.MaxQueueSize)
	}
	return nil
}

func (s *ForwarderSection) Clone() Section {
	out := *s
	return &out
}

// TelemetrySection tunes the OTLP metrics mirror.
type TelemetrySection struct {
	Endpoint       string   `yaml:"endpoint"`
	Insecure       bool     `yaml:"insecure"`
	ExportInterval Duration `yaml:"export_interval"`
}

func (s *TelemetrySection) Kind() string { return KindTelemetry }

func (s *TelemetrySection) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	return nil
}

func (s *TelemetrySection) Clone() Section {
	out := *s
	return &out
}
