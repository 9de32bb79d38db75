// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type sectionFactory func() Section

var sectionFactories = map[string]sectionFactory{}

func init() {
	sectionFactories[KindHeartbeat] = func() Section { return &HeartbeatSection{} }
	sectionFactories[KindForwarder] = func() Section { return &ForwarderSection{} }
	sectionFactories[KindTelemetry] = func() Section { return &TelemetrySection{} }
}

// document is the on-disk envelope for one config section.
type document struct {
	Kind    string    `yaml:"kind"`
	Name    string    `yaml:"name"`
	Version string    `yaml:"version"`
	Spec    yaml.Node `yaml:"spec"`
}

// Parse a config document into an Instance. YAML is a superset of JSON,
// so both file formats go through the same decoder.
func Parse(data []byte) (Instance, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Instance{Status: StatusInvalid}, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	instance := Instance{
		Kind:    doc.Kind,
		Name:    doc.Name,
		Version: doc.Version,
	}

	if instance.Kind == "" {
		instance.Status = StatusInvalid
		return instance, fmt.Errorf("document kind is empty")
	}

	if instance.Name == "" {
		instance.Status = StatusInvalid
		return instance, fmt.Errorf("document name is empty")
	}

	factory, exists := sectionFactories[instance.Kind]
	if !exists {
		instance.Status = StatusInvalid
		return instance, fmt.Errorf("unrecognized kind: %s", instance.Kind)
	}

	section := factory()
	if !doc.Spec.IsZero() {
		if err := doc.Spec.Decode(section); err != nil {
			instance.Status = StatusInvalid
			return instance, fmt.Errorf("failed to parse %s spec: %w", instance.Kind, err)
		}
	}

	if err := section.Validate(); err != nil {
		instance.Status = StatusInvalid
		return instance, fmt.Errorf("invalid %s config: %w", instance.Kind, err)
	}

	instance.Section = section
	instance.Status = StatusOK

	return instance, nil
}

// CompareVersions compares two version strings.
// Returns:
//   - negative if current < prev
//   - zero if current == prev
//   - positive if current > prev
//   - positive if current is non-empty and prev is empty
//
// The return int is undefined if there is an error.
func CompareVersions(current, prev string) (int, error) {
	// Remove 'v' prefix if present
	current = strings.TrimPrefix(current, "v")
	prev = strings.TrimPrefix(prev, "v")

	currentNum, err := strconv.Atoi(current)
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", current, err)
	}

	if prev == "" {
		return 1, nil
	}

	prevNum, err := strconv.Atoi(prev)
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", prev, err)
	}

	if currentNum < 0 || prevNum < 0 {
		return 0, fmt.Errorf("version numbers cannot be negative")
	}

	if currentNum < prevNum {
		return -1, nil
	}
	if currentNum > prevNum {
		return 1, nil
	}
	return 0, nil
}
