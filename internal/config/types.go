// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package config

// Status represents the status of a configuration operation.
type Status uint8

const (
	// StatusOK indicates the configuration was acknowledged/accepted.
	StatusOK Status = 1 << iota
	// StatusInvalid indicates the configuration was not acknowledged/rejected.
	StatusInvalid
)

// Section is one typed configuration block loaded from a config document.
type Section interface {
	// Kind returns the section's type identifier, e.g. "heartbeat".
	Kind() string
	// Validate checks the section for correctness.
	Validate() error
	// Clone returns a deep copy of the section.
	Clone() Section
}

// Instance of a config document that includes its status.
type Instance struct {
	Kind    string
	Name    string
	Version string
	Section Section
	Status  Status
}

// Copy returns a deep copy of the Instance.
func (i *Instance) Copy() Instance {
	out := Instance{
		Kind:    i.Kind,
		Name:    i.Name,
		Version: i.Version,
		Status:  i.Status,
	}
	if i.Section != nil {
		out.Section = i.Section.Clone()
	}
	return out
}

// Filters includes optional parameters to filter configs.
type Filters struct {
	// Kinds filters for config kinds to watch for.
	// If empty, then defaults for all kinds.
	Kinds []string
	// Bitmask of config statuses to watch for e.g. StatusOK | StatusInvalid
	// If unset, defaults to StatusOK.
	Status Status
}

// Options when retrieving configs.
type Options struct {
	Filters Filters
}

// Loader retrieves configs.
type Loader interface {
	// ListConfigs retrieves available configs with optional filters.
	//
	// If Loader receives a new version of a config that is invalid, ListConfigs
	// SHOULD return the most recent valid config, otherwise it will return the
	// current config with StatusInvalid.
	ListConfigs(opts Options) (map[string][]Instance, error)
	// GetConfig gets a config document identified as name of kind.
	// It returns an error if no config is found.
	//
	// If Loader receives a new version of a config that is invalid, GetConfig
	// SHOULD return the most recent valid config, otherwise it will return the
	// current config with StatusInvalid.
	GetConfig(kind, name string) (Instance, error)
	// Watch returns a channel that receives configuration documents as they
	// change. Each invocation of Watch returns a separate channel instance.
	//
	// Instances received on the channel SHOULD have at minimum AT LEAST ONCE
	// semantics - duplicate Instances may be received on the channel. The client
	// is responsible for handling potentially duplicate Instances.
	//
	// The channel SHOULD NOT send an Instance with a Version lower than a
	// previously received Instance with the same Kind and Name.
	//
	// If the Loader instance is also a LoaderCloser, the channel SHOULD be
	// closed once Close() is called. If the loader is closed, then this
	// SHOULD return a nil channel.
	Watch(opts Options) <-chan Instance
}

// LoaderCloser groups the Loader methods with Close.
type LoaderCloser interface {
	Loader

	// Close stops the loader and cleans up resources.
	// This method SHOULD BE IDEMPOTENT - Calling Close multiple times SHOULD
	// return the error of the first close call.
	Close() error
}
