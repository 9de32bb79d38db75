// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

// Package environment provides utilities for extracting configuration from environment variables
package environment

import (
	"fmt"
	"os"
	"strconv"
)

// GetNodeName returns the node name from NODE_NAME environment variable,
// falling back to hostname if not set.
func GetNodeName() (string, error) {
	nodeName := os.Getenv("NODE_NAME")
	if nodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return "", err
		}
		nodeName = hostname
	}
	return nodeName, nil
}

// GetServiceID returns the on-chain service identity from the SERVICE_ID
// environment variable. Returns (0, false, nil) if not set.
func GetServiceID() (uint64, bool, error) {
	return getUint64("SERVICE_ID")
}

// GetBlueprintID returns the blueprint identity from the BLUEPRINT_ID
// environment variable. Returns (0, false, nil) if not set.
func GetBlueprintID() (uint64, bool, error) {
	return getUint64("BLUEPRINT_ID")
}

// GetKeystorePath returns the keystore directory from KEYSTORE_PATH.
// Returns empty string if not set.
func GetKeystorePath() string {
	return os.Getenv("KEYSTORE_PATH")
}

func getUint64(name string) (uint64, bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, true, nil
}
