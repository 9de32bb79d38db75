// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package agent

import (
	"context"
	"runtime"
	"time"

	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
)

// Keys recorded by the system sampler.
const (
	KeyGoroutines = "agent_goroutines"
	KeyHeapBytes  = "agent_heap_bytes"
	KeyUptime     = "agent_uptime_s"
)

// sampleLoop records process health metrics into the provider so every
// heartbeat carries them alongside the blueprint's own counters.
func (a *Agent) sampleLoop(ctx context.Context) {
	logger := a.opts.logger.WithName("sampler")
	logger.Info("system sampler started", "interval", a.opts.sampleInterval)

	ticker := time.NewTicker(a.opts.sampleInterval)
	defer ticker.Stop()

	last := time.Now()
	a.sampleOnce(0)
	for {
		select {
		case <-ctx.Done():
			logger.V(1).Info("system sampler stopped")
			return
		case now := <-ticker.C:
			a.sampleOnce(now.Sub(last))
			last = now
		}
	}
}

func (a *Agent) sampleOnce(elapsed time.Duration) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	a.provider.Record(KeyGoroutines, uint64(runtime.NumGoroutine()), metrics.KindGauge)
	a.provider.Record(KeyHeapBytes, ms.HeapAlloc, metrics.KindGauge)
	if secs := uint64(elapsed / time.Second); secs > 0 {
		a.provider.Record(KeyUptime, secs, metrics.KindCounter)
	}
}
