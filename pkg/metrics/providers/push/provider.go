// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

// Package push wraps a metrics provider and forwards every recorded sample
// to an operator-run HTTP collector. Forwarding is asynchronous and
// best-effort: recording never blocks on the network, failed uploads are
// retried with bounded backoff, and a full queue drops the forwarded copy
// while the wrapped provider keeps the authoritative value.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
)

// sample is one forwarded metric observation.
type sample struct {
	Key       string `json:"key"`
	Value     uint64 `json:"value"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

// batch is the upload request body.
type batch struct {
	Source  string   `json:"source"`
	Samples []sample `json:"samples"`
}

// Provider is the remote metrics provider variant. All store semantics come
// from the wrapped provider; this type only adds the HTTP forwarder.
type Provider struct {
	inner  metrics.Provider
	cfg    Config
	logger logr.Logger
	client *http.Client

	queue chan sample
	errs  chan error

	startOnce sync.Once
	wg        sync.WaitGroup

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

var _ metrics.Provider = (*Provider)(nil)

// New builds a remote provider around inner. Call Start to launch the
// upload worker; until then samples accumulate in the queue.
func New(inner metrics.Provider, cfg Config, logger logr.Logger) (*Provider, error) {
	if inner == nil {
		inner = metrics.NewLocal(nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{
		inner:  inner,
		cfg:    cfg,
		logger: logger.WithName("push"),
		client: &http.Client{Timeout: cfg.Timeout},
		queue:  make(chan sample, cfg.MaxQueueSize),
		errs:   make(chan error, 16),
	}, nil
}

// Start launches the upload worker. It returns immediately; the worker runs
// until ctx is cancelled, then drains what it can and exits. Start is
// idempotent.
func (p *Provider) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.uploadWorker(ctx)
		p.logger.Info("forwarder started",
			"endpoint", p.cfg.Endpoint,
			"flush_interval", p.cfg.FlushInterval,
			"queue_size", p.cfg.MaxQueueSize)
	})
}

// Wait blocks until the upload worker has exited.
func (p *Provider) Wait() {
	p.wg.Wait()
}

// Errors returns upload failures that exhausted their retries. The channel
// is buffered and never closed; sends that would block are dropped.
func (p *Provider) Errors() <-chan error {
	return p.errs
}

// Record forwards to the wrapped provider and enqueues a copy for upload.
// The enqueue is non-blocking; a full queue drops the forwarded copy only.
func (p *Provider) Record(key string, value uint64, kind metrics.Kind) {
	p.inner.Record(key, value, kind)
	s := sample{
		Key:       key,
		Value:     value,
		Kind:      kind.String(),
		Timestamp: time.Now().Unix(),
	}
	select {
	case p.queue <- s:
	default:
		p.dropped.Add(1)
		p.logger.V(1).Info("forward queue full, dropping sample", "key", key)
	}
}

// Snapshot delegates to the wrapped provider.
func (p *Provider) Snapshot() metrics.Snapshot {
	return p.inner.Snapshot()
}

// Commit delegates to the wrapped provider.
func (p *Provider) Commit(snap metrics.Snapshot) {
	p.inner.Commit(snap)
}

// Forwarded returns the number of samples uploaded successfully.
func (p *Provider) Forwarded() uint64 { return p.forwarded.Load() }

// Dropped returns the number of samples dropped due to a full queue.
func (p *Provider) Dropped() uint64 { return p.dropped.Load() }

func (p *Provider) uploadWorker(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final best-effort flush of whatever is already queued.
			if b := p.drain(); len(b) > 0 {
				p.upload(context.Background(), b)
			}
			p.logger.Info("forwarder stopped",
				"forwarded", p.forwarded.Load(),
				"dropped", p.dropped.Load(),
				"failed", p.failed.Load())
			return
		case <-ticker.C:
			for {
				b := p.drain()
				if len(b) == 0 {
					break
				}
				p.upload(ctx, b)
			}
		}
	}
}

// drain pulls up to BatchSize queued samples without blocking.
func (p *Provider) drain() []sample {
	out := make([]sample, 0, p.cfg.BatchSize)
	for len(out) < p.cfg.BatchSize {
		select {
		case s := <-p.queue:
			out = append(out, s)
		default:
			return out
		}
	}
	return out
}

// upload POSTs one batch, retrying with exponential backoff. A batch that
// exhausts its retries is dropped and reported on the error channel.
func (p *Provider) upload(ctx context.Context, samples []sample) {
	body, err := json.Marshal(batch{Source: p.cfg.Source, Samples: samples})
	if err != nil {
		p.reportError(fmt.Errorf("marshaling batch: %w", err))
		return
	}

	backoff := p.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				p.failed.Add(uint64(len(samples)))
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > p.cfg.MaxBackoff {
				backoff = p.cfg.MaxBackoff
			}
		}
		if lastErr = p.post(ctx, body); lastErr == nil {
			p.forwarded.Add(uint64(len(samples)))
			return
		}
		p.logger.V(1).Info("upload attempt failed",
			"attempt", attempt+1, "samples", len(samples), "error", lastErr.Error())
	}

	p.failed.Add(uint64(len(samples)))
	p.reportError(fmt.Errorf("upload failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr))
}

func (p *Provider) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()              //nolint:errcheck
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) reportError(err error) {
	p.logger.Error(err, "forwarding error")
	select {
	case p.errs <- err:
	default:
	}
}
