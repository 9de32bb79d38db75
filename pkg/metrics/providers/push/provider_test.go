// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
)

type captureServer struct {
	mu      sync.Mutex
	batches []batch
	fail    int // number of requests to reject before succeeding
	srv     *httptest.Server
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.fail > 0 {
			cs.fail--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var b batch
		require.NoError(t, json.Unmarshal(body, &b))
		cs.batches = append(cs.batches, b)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) received() []batch {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]batch, len(cs.batches))
	copy(out, cs.batches)
	return out
}

func testConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func newTestProvider(t *testing.T, cfg Config) *Provider {
	t.Helper()
	p, err := New(metrics.NewLocal(nil), cfg, testr.New(t))
	require.NoError(t, err)
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) { c.Endpoint = "https://collector.example.com/v1/samples" }},
		{name: "empty endpoint", mutate: func(c *Config) {}, wantErr: true},
		{name: "bad scheme", mutate: func(c *Config) { c.Endpoint = "ftp://x" }, wantErr: true},
		{name: "queue too large", mutate: func(c *Config) {
			c.Endpoint = "http://x"
			c.MaxQueueSize = MaxSafeQueueSize + 1
		}, wantErr: true},
		{name: "backoff inverted", mutate: func(c *Config) {
			c.Endpoint = "http://x"
			c.MaxBackoff = c.InitialBackoff / 2
		}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestForwardsRecordedSamples(t *testing.T) {
	cs := newCaptureServer(t)
	p := newTestProvider(t, testConfig(cs.srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Record("cpu_ms", 100, metrics.KindCounter)
	p.Record("queue_depth", 7, metrics.KindGauge)

	waitFor(t, func() bool { return p.Forwarded() == 2 })

	var got []sample
	for _, b := range cs.received() {
		assert.Equal(t, "blueprint-agent", b.Source)
		got = append(got, b.Samples...)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "cpu_ms", got[0].Key)
	assert.Equal(t, uint64(100), got[0].Value)
	assert.Equal(t, "counter", got[0].Kind)
	assert.Equal(t, "queue_depth", got[1].Key)
	assert.Equal(t, "gauge", got[1].Kind)
}

func TestStoreSemanticsUnaffectedByForwarding(t *testing.T) {
	cs := newCaptureServer(t)
	p := newTestProvider(t, testConfig(cs.srv.URL))

	// Worker never started; the queue just sits there.
	p.Record("cpu_ms", 10, metrics.KindCounter)
	p.Record("cpu_ms", 5, metrics.KindCounter)

	snap := p.Snapshot()
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, uint64(15), snap.Pairs[0].Value)

	p.Commit(snap)
	assert.Equal(t, 0, p.Snapshot().Len())
}

func TestRetriesThenSucceeds(t *testing.T) {
	cs := newCaptureServer(t)
	cs.fail = 2
	p := newTestProvider(t, testConfig(cs.srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Record("cpu_ms", 1, metrics.KindCounter)
	waitFor(t, func() bool { return p.Forwarded() == 1 })
	require.Len(t, cs.received(), 1)
}

func TestExhaustedRetriesReportError(t *testing.T) {
	cs := newCaptureServer(t)
	cs.fail = 1000
	cfg := testConfig(cs.srv.URL)
	cfg.MaxRetries = 1
	p := newTestProvider(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Record("cpu_ms", 1, metrics.KindCounter)

	select {
	case err := <-p.Errors():
		assert.ErrorContains(t, err, "upload failed after 2 attempts")
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}

	// The store still holds the sample even though forwarding gave up.
	assert.Equal(t, 1, p.Snapshot().Len())
}

func TestFullQueueDropsForwardedCopyOnly(t *testing.T) {
	cfg := testConfig("http://localhost:1") // never started, never dialed
	cfg.MaxQueueSize = 2
	p := newTestProvider(t, cfg)

	for i := 0; i < 5; i++ {
		p.Record("cpu_ms", 1, metrics.KindCounter)
	}

	assert.Equal(t, uint64(3), p.Dropped())
	snap := p.Snapshot()
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, uint64(5), snap.Pairs[0].Value)
}

func TestShutdownFlushesQueuedSamples(t *testing.T) {
	cs := newCaptureServer(t)
	cfg := testConfig(cs.srv.URL)
	cfg.FlushInterval = time.Hour // only the shutdown flush can deliver
	p := newTestProvider(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	p.Record("cpu_ms", 42, metrics.KindCounter)
	cancel()
	p.Wait()

	require.Len(t, cs.received(), 1)
	assert.Equal(t, uint64(42), cs.received()[0].Samples[0].Value)
}

func TestStartIsIdempotent(t *testing.T) {
	cs := newCaptureServer(t)
	p := newTestProvider(t, testConfig(cs.srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Start(ctx)
	cancel()
	p.Wait()
}
