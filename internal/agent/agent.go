// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

// Package agent assembles the metrics provider chain, the heartbeat
// scheduler and the optional forwarder behind a single Start call.
package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/tangle-network/blueprint-sub004/internal/config"
	"github.com/tangle-network/blueprint-sub004/internal/heartbeat"
	"github.com/tangle-network/blueprint-sub004/pkg/channel"
	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
	"github.com/tangle-network/blueprint-sub004/pkg/metrics/providers/push"
)

const defaultSampleInterval = 30 * time.Second

type options struct {
	logger         logr.Logger
	forwarder      *push.Provider
	loader         config.Loader
	sampleInterval time.Duration
	sampler        bool
}

type Option func(*options)

// WithLogger sets the agent logger.
func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithForwarder attaches a push forwarder whose lifetime and error stream
// the agent manages. The forwarder should already be wired into the
// provider chain the scheduler snapshots from.
func WithForwarder(fwd *push.Provider) Option {
	return func(o *options) {
		o.forwarder = fwd
	}
}

// WithConfigLoader subscribes the agent to configuration updates for the
// lifetime of Start. Heartbeat documents retime the running scheduler;
// forwarder documents are surfaced in the log since the forwarder's knobs
// are fixed at construction.
func WithConfigLoader(loader config.Loader) Option {
	return func(o *options) {
		o.loader = loader
	}
}

// WithSystemSampler enables periodic recording of process health metrics
// into the provider.
func WithSystemSampler(interval time.Duration) Option {
	return func(o *options) {
		o.sampler = true
		if interval > 0 {
			o.sampleInterval = interval
		}
	}
}

// Agent ties the provider chain and the scheduler together. It owns the
// background sampler and the merged error stream; the heartbeat cycle
// itself stays in the scheduler.
type Agent struct {
	scheduler *heartbeat.Scheduler
	provider  metrics.Provider
	opts      options

	started atomic.Bool
	merger  *channel.Merger[error]
}

// New builds an Agent. The provider must be the same one the scheduler
// snapshots from, otherwise sampler metrics never reach a heartbeat.
func New(scheduler *heartbeat.Scheduler, provider metrics.Provider, opts ...Option) (*Agent, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	o := options{
		logger:         logr.Discard(),
		sampleInterval: defaultSampleInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Agent{
		scheduler: scheduler,
		provider:  provider,
		opts:      o,
		merger:    channel.NewMerger[error](),
	}, nil
}

// Errors returns the merged error stream: heartbeat cycle failures plus
// forwarder upload failures. The channel closes when the agent stops.
func (a *Agent) Errors() <-chan error {
	return a.merger.Out()
}

// Start runs the agent until ctx is cancelled. It launches the sampler
// and the forwarder, then blocks in the scheduler loop. Calling Start
// again while running or after shutdown is a no-op.
func (a *Agent) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		a.opts.logger.V(1).Info("agent already started, ignoring")
		return nil
	}

	a.opts.logger.Info("starting agent")

	a.merger.Add(a.cycleFailures(ctx))
	if a.opts.forwarder != nil {
		a.merger.Add(a.forwarderErrors(ctx))
		a.opts.forwarder.Start(ctx)
	}
	if a.opts.sampler {
		go a.sampleLoop(ctx)
	}
	if a.opts.loader != nil {
		a.merger.Add(a.configUpdates(ctx))
	}

	err := a.scheduler.Start(ctx)

	if a.opts.forwarder != nil {
		a.opts.forwarder.Wait()
	}
	a.merger.Close()
	a.opts.logger.Info("agent stopped")
	return err
}

// cycleFailures adapts the scheduler's failure records into the merged
// error stream.
func (a *Agent) cycleFailures(ctx context.Context) <-chan error {
	out := make(chan error, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case rec := <-a.scheduler.Failures():
				if rec.Err == nil {
					continue
				}
				select {
				case out <- fmt.Errorf("heartbeat cycle %s: %w", rec.SnapshotID, rec.Err):
				default:
				}
			}
		}
	}()
	return out
}

// configUpdates applies configuration documents as they change. Heartbeat
// sections feed the scheduler's live timing; failures to apply an update
// surface on the merged error stream and the previous timing stays in
// effect.
func (a *Agent) configUpdates(ctx context.Context) <-chan error {
	out := make(chan error, 16)
	updates := a.opts.loader.Watch(config.Options{
		Filters: config.Filters{
			Kinds: []string{config.KindHeartbeat, config.KindForwarder},
		},
	})
	go func() {
		defer close(out)
		if updates == nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case instance, ok := <-updates:
				if !ok {
					return
				}
				if err := a.applyConfig(instance); err != nil {
					select {
					case out <- fmt.Errorf("config %s/%s version %s: %w",
						instance.Kind, instance.Name, instance.Version, err):
					default:
					}
				}
			}
		}
	}()
	return out
}

func (a *Agent) applyConfig(instance config.Instance) error {
	switch section := instance.Section.(type) {
	case *config.HeartbeatSection:
		timing := heartbeat.Timing{
			BaseInterval:   section.BaseInterval.Std(),
			JitterFraction: section.JitterFraction,
			MaxInterval:    section.MaxInterval.Std(),
			MaxMissed:      section.MaxMissed,
		}
		if err := a.scheduler.UpdateTiming(timing); err != nil {
			return err
		}
		a.opts.logger.Info("applied heartbeat config update",
			"name", instance.Name, "version", instance.Version)
	case *config.ForwarderSection:
		// Forwarder endpoint and queue sizing cannot change on a running
		// provider; log so operators know a restart is needed.
		a.opts.logger.Info("forwarder config changed, restart required to apply",
			"name", instance.Name, "version", instance.Version,
			"endpoint", section.Endpoint)
	default:
		a.opts.logger.V(1).Info("ignoring config update of unhandled kind",
			"kind", instance.Kind, "name", instance.Name)
	}
	return nil
}

func (a *Agent) forwarderErrors(ctx context.Context) <-chan error {
	out := make(chan error, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-a.opts.forwarder.Errors():
				select {
				case out <- err:
				default:
				}
			}
		}
	}()
	return out
}
