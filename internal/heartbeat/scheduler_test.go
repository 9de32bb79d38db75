// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package heartbeat

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/blueprint-sub004/internal/chain"
	"github.com/tangle-network/blueprint-sub004/internal/signer"
	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
	"github.com/tangle-network/blueprint-sub004/pkg/wire"
)

type fakeSigner struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeSigner) Sign(ctx context.Context, msg []byte) (signer.Signature, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return signer.Signature{}, f.err
	}
	return signer.Signature{
		Bytes:    make([]byte, 65),
		SignerID: make([]byte, 33),
	}, nil
}

type fakeClient struct {
	mu       sync.Mutex
	payloads [][]byte
	nonces   []uint64

	// respond decides the result of the nth call (1-based).
	respond func(call int) (chain.Confirmation, error)
	// gate, when non-nil, blocks Submit until released or ctx expires.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeClient(respond func(call int) (chain.Confirmation, error)) *fakeClient {
	return &fakeClient{
		respond: respond,
		entered: make(chan struct{}, 64),
	}
}

func (f *fakeClient) Submit(ctx context.Context, hb chain.SignedHeartbeat, params chain.TxParams) (chain.Confirmation, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, append([]byte(nil), hb.Payload...))
	f.nonces = append(f.nonces, params.Nonce)
	call := len(f.payloads)
	f.mu.Unlock()

	select {
	case f.entered <- struct{}{}:
	default:
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return chain.Confirmation{}, &chain.SubmissionError{Class: chain.ClassTimeout, Err: ctx.Err()}
		}
	}
	return f.respond(call)
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeClient) payload(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[i]
}

func (f *fakeClient) nonce(i int) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[i]
}

func okResponse(int) (chain.Confirmation, error) {
	return chain.Confirmation{Block: 100}, nil
}

func testConfig() Config {
	return Config{
		ServiceID:      7,
		BlueprintID:    9,
		BaseInterval:   2 * time.Millisecond,
		JitterFraction: 0.0001,
		SubmitTimeout:  time.Second,
		ShutdownGrace:  time.Second,
	}
}

func newTestScheduler(t *testing.T, cfg Config, provider metrics.Provider,
	sgn signer.Signer, client chain.SubmissionClient, opts ...Option) *Scheduler {
	t.Helper()

	opts = append([]Option{WithLogger(testr.New(t))}, opts...)
	params := chain.TxParams{GasLimit: 500_000, Nonce: 1, ChainID: 42}
	s, err := New(cfg, provider, sgn, client, StaticTxParams(params), opts...)
	require.NoError(t, err)
	return s
}

func startScheduler(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx); close(done) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return cancel, done
}

func storeValue(t *testing.T, p metrics.Provider, key string) uint64 {
	t.Helper()
	for _, pair := range p.Snapshot().Pairs {
		if pair.Key == key {
			return pair.Value
		}
	}
	return 0
}

func TestNextIntervalBounds(t *testing.T) {
	cfg := Config{BaseInterval: 300 * time.Second, JitterFraction: 0.1}
	rng := rand.New(rand.NewSource(1))

	lo, hi := 300*time.Second, 330*time.Second
	for i := 0; i < 10000; i++ {
		d := cfg.nextInterval(rng)
		require.GreaterOrEqual(t, d, lo)
		require.LessOrEqual(t, d, hi)
	}
}

func TestNextIntervalSaturatesAtPathologicalConfig(t *testing.T) {
	cfg := Config{
		BaseInterval:   time.Duration(math.MaxInt64),
		JitterFraction: 1000,
		MaxInterval:    time.Duration(math.MaxInt64),
	}
	rng := rand.New(rand.NewSource(1))

	// Must not overflow or panic.
	d := cfg.nextInterval(rng)
	assert.Greater(t, d, time.Duration(0))
}

func TestNextIntervalClampsToMaxInterval(t *testing.T) {
	cfg := Config{
		BaseInterval:   300 * time.Second,
		JitterFraction: 0.1,
		MaxInterval:    310 * time.Second,
	}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		require.LessOrEqual(t, cfg.nextInterval(rng), 310*time.Second)
	}
}

func TestSchedulerCommitsOnConfirmedSuccess(t *testing.T) {
	provider := metrics.NewLocal(nil)
	provider.Record("cpu_ms", 100, metrics.KindCounter)

	client := newFakeClient(okResponse)
	s := newTestScheduler(t, testConfig(), provider, &fakeSigner{}, client)
	startScheduler(t, s)

	require.Eventually(t, func() bool {
		return client.calls() >= 1 && storeValue(t, provider, "cpu_ms") == 0
	}, 5*time.Second, time.Millisecond, "confirmed submission must commit the snapshot")

	last, ok := s.LastHeartbeat()
	require.True(t, ok)
	assert.GreaterOrEqual(t, last.Sequence, uint64(1))
	assert.Equal(t, uint64(100), last.BlockNumber)
}

// Failed cycles drain nothing; the eventual successful cycle carries
// everything recorded so far, exactly once.
func TestSchedulerRetainsMetricsAcrossFailedCycles(t *testing.T) {
	provider := metrics.NewLocal(nil)
	for i := 0; i < 3; i++ {
		provider.Record("cpu_ms", 120, metrics.KindCounter)
	}

	var allowSuccess atomic.Bool
	var successCall atomic.Int32
	transient := &chain.SubmissionError{Class: chain.ClassTransient, Err: errors.New("gateway down")}
	client := newFakeClient(func(call int) (chain.Confirmation, error) {
		if !allowSuccess.Load() {
			return chain.Confirmation{}, transient
		}
		successCall.CompareAndSwap(0, int32(call))
		return chain.Confirmation{Block: 5}, nil
	})

	s := newTestScheduler(t, testConfig(), provider, &fakeSigner{}, client)
	startScheduler(t, s)

	// After the first failure the live store is intact; record more.
	<-client.entered
	assert.Equal(t, uint64(360), storeValue(t, provider, "cpu_ms"))
	provider.Record("cpu_ms", 40, metrics.KindCounter)
	allowSuccess.Store(true)

	require.Eventually(t, func() bool {
		return successCall.Load() != 0 && storeValue(t, provider, "cpu_ms") == 0
	}, 5*time.Second, time.Millisecond)

	// The successful payload carried the full 400.
	codec, err := wire.NewCodec(0, 0)
	require.NoError(t, err)
	_, snap, err := codec.Decode(client.payload(int(successCall.Load()) - 1))
	require.NoError(t, err)
	require.Len(t, snap.Pairs, 1)
	assert.Equal(t, "cpu_ms", snap.Pairs[0].Key)
	assert.Equal(t, uint64(400), snap.Pairs[0].Value)
}

func TestSchedulerSequenceAdvancesOnlyOnCommit(t *testing.T) {
	provider := metrics.NewLocal(nil)

	transient := &chain.SubmissionError{Class: chain.ClassTransient, Err: errors.New("busy")}
	client := newFakeClient(func(call int) (chain.Confirmation, error) {
		if call <= 2 {
			return chain.Confirmation{}, transient
		}
		return chain.Confirmation{}, nil
	})

	s := newTestScheduler(t, testConfig(), provider, &fakeSigner{}, client)
	startScheduler(t, s)

	require.Eventually(t, func() bool { return client.calls() >= 3 }, 5*time.Second, time.Millisecond)

	codec, err := wire.NewCodec(0, 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		st, _, err := codec.Decode(client.payload(i))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), st.Sequence, "failed cycles must retry the same sequence number")
	}
}

func TestSchedulerDiscardsOnKeyUnavailable(t *testing.T) {
	provider := metrics.NewLocal(nil)
	provider.Record("jobs", 3, metrics.KindCounter)

	client := newFakeClient(okResponse)
	s := newTestScheduler(t, testConfig(), provider, &fakeSigner{err: signer.ErrKeyUnavailable}, client)
	startScheduler(t, s)

	var rec CycleRecord
	select {
	case rec = <-s.Failures():
	case <-time.After(5 * time.Second):
		t.Fatal("no failure reported")
	}

	assert.Equal(t, OutcomeDiscarded, rec.Outcome)
	assert.ErrorIs(t, rec.Err, signer.ErrKeyUnavailable)
	assert.Zero(t, client.calls(), "signing failure must not reach the network")
	assert.Equal(t, uint64(3), storeValue(t, provider, "jobs"), "live metrics must be untouched")
}

func TestSchedulerValidationFailureSkipsNetwork(t *testing.T) {
	provider := metrics.NewLocal(nil)
	provider.Record("a", 1, metrics.KindCounter)
	provider.Record("b", 1, metrics.KindCounter)
	provider.Record("c", 1, metrics.KindCounter)

	cfg := testConfig()
	cfg.MaxPairs = 2

	client := newFakeClient(okResponse)
	s := newTestScheduler(t, cfg, provider, &fakeSigner{}, client)
	startScheduler(t, s)

	var rec CycleRecord
	select {
	case rec = <-s.Failures():
	case <-time.After(5 * time.Second):
		t.Fatal("no failure reported")
	}

	assert.Equal(t, OutcomeDiscarded, rec.Outcome)
	assert.ErrorIs(t, rec.Err, wire.ErrTooManyPairs)
	assert.Zero(t, client.calls())
}

func TestSchedulerTimeoutIsIndeterminate(t *testing.T) {
	provider := metrics.NewLocal(nil)
	provider.Record("jobs", 5, metrics.KindCounter)

	timeout := &chain.SubmissionError{Class: chain.ClassTimeout, Err: context.DeadlineExceeded}
	client := newFakeClient(func(int) (chain.Confirmation, error) {
		return chain.Confirmation{}, timeout
	})

	s := newTestScheduler(t, testConfig(), provider, &fakeSigner{}, client)
	startScheduler(t, s)

	var rec CycleRecord
	select {
	case rec = <-s.Failures():
	case <-time.After(5 * time.Second):
		t.Fatal("no failure reported")
	}

	assert.Equal(t, OutcomeIndeterminate, rec.Outcome)
	assert.Equal(t, uint64(5), storeValue(t, provider, "jobs"), "indeterminate outcome must not commit")
	_, ok := s.LastHeartbeat()
	assert.False(t, ok)
}

func TestSchedulerShutdownWaitsForInflightSubmission(t *testing.T) {
	provider := metrics.NewLocal(nil)
	provider.Record("jobs", 8, metrics.KindCounter)

	client := newFakeClient(okResponse)
	client.gate = make(chan struct{})

	s := newTestScheduler(t, testConfig(), provider, &fakeSigner{}, client)
	cancel, done := startScheduler(t, s)

	<-client.entered
	cancel()

	// The submission resolves within the grace window and must still be
	// committed, not abandoned.
	close(client.gate)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.Equal(t, uint64(0), storeValue(t, provider, "jobs"))
	last, ok := s.LastHeartbeat()
	require.True(t, ok)
	assert.Equal(t, uint64(1), last.Sequence)
}

func TestSchedulerGraceExpiryIsIndeterminate(t *testing.T) {
	provider := metrics.NewLocal(nil)
	provider.Record("jobs", 8, metrics.KindCounter)

	cfg := testConfig()
	cfg.ShutdownGrace = 20 * time.Millisecond

	client := newFakeClient(okResponse)
	client.gate = make(chan struct{}) // never released
	defer close(client.gate)

	s := newTestScheduler(t, cfg, provider, &fakeSigner{}, client)
	cancel, done := startScheduler(t, s)

	<-client.entered
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	var rec CycleRecord
	select {
	case rec = <-s.Failures():
	case <-time.After(time.Second):
		t.Fatal("no failure reported")
	}
	assert.Equal(t, OutcomeIndeterminate, rec.Outcome)
	assert.Equal(t, uint64(8), storeValue(t, provider, "jobs"), "unknown outcome must not be treated as success")
}

func TestSchedulerMissedThresholdSurfacesFatal(t *testing.T) {
	provider := metrics.NewLocal(nil)

	cfg := testConfig()
	cfg.MaxMissed = 2

	transient := &chain.SubmissionError{Class: chain.ClassTransient, Err: errors.New("down")}
	client := newFakeClient(func(int) (chain.Confirmation, error) {
		return chain.Confirmation{}, transient
	})

	s := newTestScheduler(t, cfg, provider, &fakeSigner{}, client)
	startScheduler(t, s)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case rec := <-s.Failures():
			if errors.Is(rec.Err, ErrTooManyMissed) {
				return
			}
		case <-deadline:
			t.Fatal("threshold crossing never surfaced")
		}
	}
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	provider := metrics.NewLocal(nil)
	client := newFakeClient(okResponse)
	s := newTestScheduler(t, testConfig(), provider, &fakeSigner{}, client)

	startScheduler(t, s)
	<-client.entered

	// A second start must be a guarded no-op, not a second loop.
	err := s.Start(context.Background())
	assert.NoError(t, err)
}

// A chain that checks nonces must never see a committed nonce again;
// only a failed cycle may retry with the same one.
func TestTxParamsFromBaseAdvancesNoncePerCommit(t *testing.T) {
	provider := metrics.NewLocal(nil)
	transient := &chain.SubmissionError{Class: chain.ClassTransient, Err: errors.New("gateway unavailable")}
	client := newFakeClient(func(call int) (chain.Confirmation, error) {
		if call <= 2 {
			return chain.Confirmation{}, transient
		}
		return chain.Confirmation{Block: uint64(call)}, nil
	})

	var s *Scheduler
	source := TxParamsFromBase(chain.TxParams{GasLimit: 500_000, Nonce: 10, ChainID: 42},
		func() uint64 { return s.Committed() })
	s, err := New(testConfig(), provider, &fakeSigner{}, client, source, WithLogger(testr.New(t)))
	require.NoError(t, err)

	startScheduler(t, s)

	require.Eventually(t, func() bool { return client.calls() >= 4 }, 5*time.Second, time.Millisecond)

	assert.Equal(t, uint64(10), client.nonce(0))
	assert.Equal(t, uint64(10), client.nonce(1))
	// The first successful submission still claims the base nonce.
	assert.Equal(t, uint64(10), client.nonce(2))
	// Afterward the nonce moves with the committed count.
	assert.Equal(t, uint64(11), client.nonce(3))
}

func TestUpdateTimingTakesEffectImmediately(t *testing.T) {
	provider := metrics.NewLocal(nil)
	client := newFakeClient(okResponse)
	cfg := testConfig()
	cfg.BaseInterval = time.Hour
	s := newTestScheduler(t, cfg, provider, &fakeSigner{}, client)

	startScheduler(t, s)

	require.NoError(t, s.UpdateTiming(Timing{BaseInterval: 2 * time.Millisecond}))

	// The hour-long interval armed at start is discarded, not waited out.
	select {
	case <-client.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("retimed scheduler never submitted")
	}
}

func TestUpdateTimingRejectsInvalidValues(t *testing.T) {
	provider := metrics.NewLocal(nil)
	client := newFakeClient(okResponse)
	s := newTestScheduler(t, testConfig(), provider, &fakeSigner{}, client)

	err := s.UpdateTiming(Timing{JitterFraction: -0.5})
	assert.Error(t, err)
	err = s.UpdateTiming(Timing{BaseInterval: -time.Second})
	assert.Error(t, err)
}

func TestSchedulerStateReturnsToIdle(t *testing.T) {
	provider := metrics.NewLocal(nil)
	provider.Record("cpu_ms", 10, metrics.KindCounter)
	client := newFakeClient(okResponse)
	s := newTestScheduler(t, testConfig(), provider, &fakeSigner{}, client)

	assert.Equal(t, StateIdle, s.State())

	startScheduler(t, s)
	<-client.entered

	// Cycles settle back to Idle between intervals regardless of outcome.
	assert.Eventually(t, func() bool {
		return s.State() == StateIdle
	}, 2*time.Second, time.Millisecond)
}

func TestNewSchedulerRequiresCollaborators(t *testing.T) {
	provider := metrics.NewLocal(nil)
	client := newFakeClient(okResponse)
	params := StaticTxParams(chain.TxParams{})

	_, err := New(testConfig(), nil, &fakeSigner{}, client, params)
	assert.Error(t, err)
	_, err = New(testConfig(), provider, nil, client, params)
	assert.Error(t, err)
	_, err = New(testConfig(), provider, &fakeSigner{}, nil, params)
	assert.Error(t, err)
	_, err = New(testConfig(), provider, &fakeSigner{}, client, nil)
	assert.Error(t, err)
}
