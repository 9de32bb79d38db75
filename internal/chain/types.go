// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

// Package chain submits signed heartbeats to the on-chain services
// registry. Consensus and transport semantics of the target chain live
// behind the SubmissionClient interface.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/tangle-network/blueprint-sub004/internal/signer"
)

// SignedHeartbeat is an immutable signed liveness statement: the encoded
// payload, the signature over the canonical byte layout, and the signer
// identity.
type SignedHeartbeat struct {
	ServiceID   uint64
	BlueprintID uint64
	Payload     []byte
	Signature   signer.Signature
}

// TxParams are the explicit transaction parameters for one submission.
// They are supplied by configuration or queried fresh per cycle, never
// auto-filled: implicit fees overpay, implicit nonces race, and a missing
// chain identity invites cross-chain replay.
type TxParams struct {
	GasLimit uint64
	Nonce    uint64
	ChainID  uint64
}

// Confirmation reports a transaction accepted and finalized by the chain.
type Confirmation struct {
	TxHash [32]byte
	Block  uint64
}

// ErrorClass partitions submission failures by how the heartbeat cycle
// must react.
type ErrorClass int

const (
	// ClassRejected is fatal for this cycle: the chain refused the
	// transaction. Discard the snapshot; retrying the same payload will
	// not help until input or configuration changes.
	ClassRejected ErrorClass = iota
	// ClassTimeout is ambiguous: the transaction may or may not have
	// landed. Treat the outcome as indeterminate; do not commit, do not
	// assume success.
	ClassTimeout
	// ClassTransient is retryable on the next scheduled cycle.
	ClassTransient
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRejected:
		return "rejected"
	case ClassTimeout:
		return "timeout"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// SubmissionError wraps a transport failure with its ErrorClass.
type SubmissionError struct {
	Class ErrorClass
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission %s: %v", e.Class, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ClassOf extracts the ErrorClass from err. Unclassified errors are
// treated as transient so a misread failure is retried rather than
// silently dropped.
func ClassOf(err error) ErrorClass {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	return ClassTransient
}

// SubmissionClient submits a signed heartbeat transaction and reports
// confirmation or a classified failure.
type SubmissionClient interface {
	Submit(ctx context.Context, hb SignedHeartbeat, params TxParams) (Confirmation, error)
}
