// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/tangle-network/blueprint-sub004/internal/chain"
	"github.com/tangle-network/blueprint-sub004/internal/signer"
	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
	"github.com/tangle-network/blueprint-sub004/pkg/wire"
)

// ErrTooManyMissed reports that consecutive heartbeat cycles have failed
// beyond the configured threshold. The scheduler keeps running and keeps
// accumulating metrics regardless; this only surfaces the condition to
// the owning application.
var ErrTooManyMissed = errors.New("heartbeat: consecutive cycles missed beyond threshold")

// TxParamsSource resolves explicit transaction parameters for one cycle.
// It runs once per cycle so implementations may query nonce and fees
// fresh from the chain.
type TxParamsSource func(ctx context.Context) (chain.TxParams, error)

// StatusSource reports the service's current status code and message,
// read at the start of each cycle.
type StatusSource func() (code uint32, message string)

// StaticTxParams returns a TxParamsSource that always yields params.
func StaticTxParams(params chain.TxParams) TxParamsSource {
	return func(context.Context) (chain.TxParams, error) {
		return params, nil
	}
}

// TxParamsFromBase returns a TxParamsSource that offsets base.Nonce by
// committed(), typically Scheduler.Committed. A failed cycle retries
// with the same nonce; once a heartbeat commits the nonce is never
// reused, so a nonce-checking chain sees each submission as fresh.
func TxParamsFromBase(base chain.TxParams, committed func() uint64) TxParamsSource {
	return func(context.Context) (chain.TxParams, error) {
		params := base
		params.Nonce = base.Nonce + committed()
		return params, nil
	}
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger configures the Scheduler logger.
func WithLogger(logger logr.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock injects the clock used for cycle timers. Tests use a mock.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clk = clk }
}

// WithRand injects the randomness source used for jitter.
func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = rng }
}

// WithStatusSource overrides the default all-OK status source.
func WithStatusSource(src StatusSource) Option {
	return func(s *Scheduler) { s.status = src }
}

// Scheduler owns the heartbeat cycle state machine. One scheduler runs
// per service instance; Snapshot and Commit on the provider are only ever
// invoked from its loop, so at most one snapshot is in flight at a time.
type Scheduler struct {
	cfg      Config
	provider metrics.Provider
	signer   signer.Signer
	client   chain.SubmissionClient
	txParams TxParamsSource
	codec    *wire.Codec
	clk      clock.Clock
	rng      *rand.Rand
	logger   logr.Logger
	status   StatusSource

	mu      sync.Mutex
	started bool
	state   State
	seq     uint64
	missed  int
	last    *wire.Status

	failures chan CycleRecord
	reconfig chan struct{}
}

// New creates a Scheduler. The transaction parameter source is required:
// submissions never auto-fill gas, nonce, or chain identity.
func New(cfg Config, provider metrics.Provider, sgn signer.Signer,
	client chain.SubmissionClient, txParams TxParamsSource, opts ...Option) (*Scheduler, error) {

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid heartbeat config: %w", err)
	}
	if provider == nil {
		return nil, errors.New("heartbeat: metrics provider is required")
	}
	if sgn == nil {
		return nil, errors.New("heartbeat: signer is required")
	}
	if client == nil {
		return nil, errors.New("heartbeat: submission client is required")
	}
	if txParams == nil {
		return nil, errors.New("heartbeat: tx params source is required")
	}

	codec, err := wire.NewCodec(cfg.MaxPairs, cfg.MaxKeyLen)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:      cfg,
		provider: provider,
		signer:   sgn,
		client:   client,
		txParams: txParams,
		codec:    codec,
		clk:      clock.New(),
		logger:   logr.Discard(),
		status:   func() (uint32, string) { return 0, "" },
		failures: make(chan CycleRecord, 16),
		reconfig: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(s.clk.Now().UnixNano()))
	}
	s.logger = s.logger.WithName("heartbeat")

	return s, nil
}

// Start runs the scheduler loop until ctx is cancelled. It is idempotent:
// only the first call runs the loop, later calls return immediately, so
// there is no code path that double-starts the background work.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.V(1).Info("scheduler already started, ignoring")
		return nil
	}
	s.started = true
	s.mu.Unlock()

	started := s.snapshotConfig()
	s.logger.Info("starting heartbeat scheduler",
		"service_id", started.ServiceID,
		"blueprint_id", started.BlueprintID,
		"base_interval", started.BaseInterval,
		"jitter_fraction", started.JitterFraction)

	for {
		cfg := s.snapshotConfig()
		timer := s.clk.Timer(cfg.nextInterval(s.rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("heartbeat scheduler stopped")
			return nil
		case <-s.reconfig:
			// Discard the armed interval so new timing applies now,
			// not one stale interval from now.
			timer.Stop()
			continue
		case <-timer.C:
		}
		s.runCycle(ctx)
	}
}

func (s *Scheduler) snapshotConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Failures returns the channel on which non-committed cycle outcomes are
// reported. The channel is buffered; if the owner does not drain it,
// records are dropped with a log line rather than blocking the loop.
func (s *Scheduler) Failures() <-chan CycleRecord {
	return s.failures
}

// State returns the phase the scheduler is currently in. Between cycles
// this is StateIdle.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Committed returns the number of heartbeats confirmed so far. It equals
// the sequence number of the last committed heartbeat.
func (s *Scheduler) Committed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Timing is the subset of Config that may change while the scheduler is
// running. Zero fields keep their current values.
type Timing struct {
	BaseInterval   time.Duration
	JitterFraction float64
	MaxInterval    time.Duration
	MaxMissed      int
}

// UpdateTiming applies new timing to a running scheduler. The currently
// armed interval is discarded and re-armed from the new values; a cycle
// already in flight is unaffected.
func (s *Scheduler) UpdateTiming(t Timing) error {
	s.mu.Lock()
	next := s.cfg
	if t.BaseInterval != 0 {
		next.BaseInterval = t.BaseInterval
	}
	if t.JitterFraction != 0 {
		next.JitterFraction = t.JitterFraction
	}
	if t.MaxInterval != 0 {
		next.MaxInterval = t.MaxInterval
	}
	if t.MaxMissed != 0 {
		next.MaxMissed = t.MaxMissed
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid heartbeat timing: %w", err)
	}
	s.cfg = next
	s.mu.Unlock()

	select {
	case s.reconfig <- struct{}{}:
	default:
	}
	s.logger.Info("heartbeat timing updated",
		"base_interval", next.BaseInterval,
		"jitter_fraction", next.JitterFraction,
		"max_interval", next.MaxInterval,
		"max_missed", next.MaxMissed)
	return nil
}

// LastHeartbeat returns the status of the most recently committed
// heartbeat, if any.
func (s *Scheduler) LastHeartbeat() (wire.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return wire.Status{}, false
	}
	return *s.last, true
}

type submitResult struct {
	conf chain.Confirmation
	err  error
}

func (s *Scheduler) runCycle(ctx context.Context) {
	rec := CycleRecord{SnapshotID: uuid.New(), StartedAt: s.clk.Now()}
	cfg := s.snapshotConfig()
	defer s.setState(StateIdle)

	// Snapshotting. The read is non-destructive: losing data on a later
	// failed submission is structurally impossible because nothing has
	// been removed from the store yet.
	s.setState(StateSnapshotting)
	snap := s.provider.Snapshot()
	rec.Snapshot = snap

	if ctx.Err() != nil {
		s.fail(&rec, OutcomeDiscarded, ctx.Err())
		return
	}

	code, msg := s.status()
	st := wire.Status{
		Code:      code,
		Message:   msg,
		Sequence:  s.candidateSeq(),
		Timestamp: uint64(s.clk.Now().Unix()),
	}

	// Validation failures discard before any network contact.
	payload, err := s.codec.Encode(st, snap)
	if err != nil {
		s.fail(&rec, OutcomeDiscarded, fmt.Errorf("encoding heartbeat payload: %w", err))
		return
	}

	// Signing. The store's lock is not held here; signing may block on
	// key-material access for as long as it needs.
	s.setState(StateSigning)
	sigMsg, err := wire.SigningMessage(st, cfg.ServiceID, cfg.BlueprintID, payload)
	if err != nil {
		s.fail(&rec, OutcomeDiscarded, err)
		return
	}
	sig, err := s.signer.Sign(ctx, sigMsg)
	if err != nil {
		s.fail(&rec, OutcomeDiscarded, fmt.Errorf("signing heartbeat: %w", err))
		return
	}

	if ctx.Err() != nil {
		s.fail(&rec, OutcomeDiscarded, ctx.Err())
		return
	}

	params, err := s.txParams(ctx)
	if err != nil {
		s.fail(&rec, OutcomeDiscarded, fmt.Errorf("resolving tx params: %w", err))
		return
	}

	hb := chain.SignedHeartbeat{
		ServiceID:   cfg.ServiceID,
		BlueprintID: cfg.BlueprintID,
		Payload:     payload,
		Signature:   sig,
	}

	// Submitting. The attempt is detached from the loop context so a
	// shutdown request cannot abort it mid-flight; an abandoned
	// submission with unknown outcome must not be treated as failed.
	s.setState(StateSubmitting)
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SubmitTimeout)
	resCh := make(chan submitResult, 1)
	go func() {
		defer cancel()
		conf, err := s.client.Submit(submitCtx, hb, params)
		resCh <- submitResult{conf: conf, err: err}
	}()

	var res submitResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		// Shutdown mid-submission: wait out the grace period for the
		// one in-flight attempt rather than abandoning it.
		grace := s.clk.Timer(cfg.ShutdownGrace)
		select {
		case res = <-resCh:
			grace.Stop()
		case <-grace.C:
			s.logger.Info("in-flight heartbeat outcome is indeterminate after shutdown grace",
				"snapshot_id", rec.SnapshotID, "sequence", st.Sequence)
			s.fail(&rec, OutcomeIndeterminate, fmt.Errorf("shutdown during submission: %w", ctx.Err()))
			return
		}
	}

	if res.err != nil {
		switch chain.ClassOf(res.err) {
		case chain.ClassTimeout:
			// Ambiguous: may have landed. Do not commit, do not assume
			// success; the metrics stay intact either way.
			s.fail(&rec, OutcomeIndeterminate, res.err)
		default:
			s.fail(&rec, OutcomeDiscarded, res.err)
		}
		return
	}

	// Committing: retire exactly the snapshotted contributions. New
	// recordings that raced with the submission survive untouched.
	s.setState(StateCommitting)
	s.provider.Commit(snap)

	s.mu.Lock()
	s.seq = st.Sequence
	s.missed = 0
	stCopy := st
	stCopy.BlockNumber = res.conf.Block
	s.last = &stCopy
	s.mu.Unlock()

	rec.Outcome = OutcomeCommitted
	s.logger.V(1).Info("heartbeat committed",
		"sequence", st.Sequence,
		"pairs", snap.Len(),
		"block", res.conf.Block,
		"snapshot_id", rec.SnapshotID)
}

// candidateSeq returns the sequence number this cycle will claim if it
// commits. It only advances on commit, so a failed cycle retries with the
// same number.
func (s *Scheduler) candidateSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq + 1
}

// fail finishes a non-committed cycle: records its outcome, counts the
// miss, and reports it. The snapshot is simply dropped; the live store
// was never touched, so discarding is idempotent by construction.
func (s *Scheduler) fail(rec *CycleRecord, outcome Outcome, err error) {
	s.mu.Lock()
	s.state = StateDiscarding
	s.missed++
	missed := s.missed
	maxMissed := s.cfg.MaxMissed
	s.mu.Unlock()

	rec.Outcome = outcome
	rec.Err = err
	if maxMissed > 0 && missed >= maxMissed {
		rec.Err = fmt.Errorf("%w: %d consecutive (last: %v)", ErrTooManyMissed, missed, err)
	}

	s.logger.Info("heartbeat cycle did not commit",
		"outcome", outcome.String(),
		"missed", missed,
		"snapshot_id", rec.SnapshotID,
		"error", err)
	s.report(*rec)
}

func (s *Scheduler) report(rec CycleRecord) {
	select {
	case s.failures <- rec:
	default:
		s.logger.V(1).Info("failure channel full, dropping cycle record",
			"snapshot_id", rec.SnapshotID)
	}
}
