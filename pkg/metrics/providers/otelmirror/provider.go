// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

// Package otelmirror wraps a metrics provider and mirrors every recorded
// sample to an OpenTelemetry collector. The mirror is strictly best-effort:
// instrument failures are logged and counted but never propagated to the
// caller, and a mirror write never blocks recording.
package otelmirror

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	metricSDK "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
)

// Provider is the instrumented metrics provider variant. All store semantics
// (snapshot, commit, kind discipline) come from the wrapped provider; this
// type only adds the export mirror.
type Provider struct {
	inner  metrics.Provider
	cfg    Config
	logger logr.Logger

	exporter *otlpmetricgrpc.Exporter
	sdk      *metricSDK.MeterProvider
	meter    metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	gauges   map[string]metric.Int64Gauge

	mirrored    atomic.Uint64
	mirrorFails atomic.Uint64
}

var _ metrics.Provider = (*Provider)(nil)

// New builds an instrumented provider around inner. The OTLP exporter and
// meter provider are created eagerly so that misconfiguration surfaces at
// startup rather than on the first recorded sample.
func New(ctx context.Context, inner metrics.Provider, cfg Config, logger logr.Logger) (*Provider, error) {
	if inner == nil {
		inner = metrics.NewLocal(nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithTimeout(cfg.Timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	)
	sdk := metricSDK.NewMeterProvider(
		metricSDK.WithReader(metricSDK.NewPeriodicReader(
			exporter,
			metricSDK.WithInterval(cfg.ExportInterval),
		)),
		metricSDK.WithResource(res),
	)

	p := &Provider{
		inner:    inner,
		cfg:      cfg,
		logger:   logger.WithName("otel-mirror"),
		exporter: exporter,
		sdk:      sdk,
		meter:    sdk.Meter("github.com/tangle-network/blueprint-sub004"),
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Int64Gauge),
	}
	p.logger.Info("metrics mirror enabled", "endpoint", cfg.Endpoint, "interval", cfg.ExportInterval)
	return p, nil
}

// Record forwards to the wrapped provider and then mirrors the sample.
// The mirror write is synchronous but in-memory only; the exporter flushes
// on its own periodic reader, so recording never waits on the network.
func (p *Provider) Record(key string, value uint64, kind metrics.Kind) {
	p.inner.Record(key, value, kind)
	p.mirror(key, value, kind)
}

// Snapshot delegates to the wrapped provider.
func (p *Provider) Snapshot() metrics.Snapshot {
	return p.inner.Snapshot()
}

// Commit delegates to the wrapped provider.
func (p *Provider) Commit(snap metrics.Snapshot) {
	p.inner.Commit(snap)
}

// Mirrored returns the number of samples mirrored successfully.
func (p *Provider) Mirrored() uint64 {
	return p.mirrored.Load()
}

// MirrorFailures returns the number of samples the mirror could not record.
func (p *Provider) MirrorFailures() uint64 {
	return p.mirrorFails.Load()
}

// Shutdown flushes pending exports and releases the meter provider.
// The wrapped provider is unaffected.
func (p *Provider) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if err := p.sdk.Shutdown(shutdownCtx); err != nil {
		p.logger.Error(err, "error shutting down meter provider")
		return err
	}
	p.logger.Info("metrics mirror stopped",
		"mirrored", p.mirrored.Load(),
		"failures", p.mirrorFails.Load())
	return nil
}

func (p *Provider) mirror(key string, value uint64, kind metrics.Kind) {
	// Mirror writes must not delay recording; use a short deadline so a
	// misbehaving SDK cannot stall the caller.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// OTel instruments are signed; clamp rather than wrap.
	v := int64(math.MaxInt64)
	if value <= math.MaxInt64 {
		v = int64(value)
	}

	var err error
	switch kind {
	case metrics.KindCounter:
		var c metric.Int64Counter
		if c, err = p.counter(key); err == nil {
			c.Add(ctx, v)
		}
	case metrics.KindGauge:
		var g metric.Int64Gauge
		if g, err = p.gauge(key); err == nil {
			g.Record(ctx, v)
		}
	}
	if err != nil {
		p.mirrorFails.Add(1)
		p.logger.V(1).Error(err, "mirror write failed", "key", key, "kind", kind.String())
		return
	}
	p.mirrored.Add(1)
}

func (p *Provider) counter(key string) (metric.Int64Counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[key]; ok {
		return c, nil
	}
	c, err := p.meter.Int64Counter(key)
	if err != nil {
		return nil, err
	}
	p.counters[key] = c
	return c, nil
}

func (p *Provider) gauge(key string) (metric.Int64Gauge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gauges[key]; ok {
		return g, nil
	}
	g, err := p.meter.Int64Gauge(key)
	if err != nil {
		return nil, err
	}
	p.gauges[key] = g
	return g, nil
}
