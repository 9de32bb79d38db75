// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.
package config

import (
	"flag"

	"github.com/go-logr/logr"
)

var (
	defaultFSPath string
)

func init() {
	flag.StringVar(&defaultFSPath, "config-fs-path", "/etc/tangle/blueprint-agent",
		"Path to configuration directory")
}

func getDefaultLoader(logger logr.Logger) (Loader, error) {
	return NewFSLoader(defaultFSPath, logger.WithName("config.fs"))
}
