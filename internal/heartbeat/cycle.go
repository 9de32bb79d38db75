// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package heartbeat

import (
	"time"

	"github.com/google/uuid"

	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
)

// State is a phase of the heartbeat cycle state machine. A cycle moves
// Idle → Snapshotting → Signing → Submitting → {Committing | Discarding}
// and every outcome feeds back into Idle.
type State uint8

const (
	StateIdle State = iota
	StateSnapshotting
	StateSigning
	StateSubmitting
	StateCommitting
	StateDiscarding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSnapshotting:
		return "snapshotting"
	case StateSigning:
		return "signing"
	case StateSubmitting:
		return "submitting"
	case StateCommitting:
		return "committing"
	case StateDiscarding:
		return "discarding"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one cycle.
type Outcome uint8

const (
	// OutcomeCommitted: submission confirmed, snapshot contributions
	// retired from the live store.
	OutcomeCommitted Outcome = iota
	// OutcomeDiscarded: the cycle failed before or during submission;
	// the snapshot was dropped and the live store is untouched.
	OutcomeDiscarded
	// OutcomeIndeterminate: the submission's fate is unknown (timeout or
	// forced shutdown mid-flight). Never assumed successful, never
	// silently retried as if nothing happened: the snapshot is not
	// committed and the ambiguity is logged and reported.
	OutcomeIndeterminate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// CycleRecord is the transient state of one scheduler iteration. It is
// created when the cycle leaves Idle and handed to the failure channel if
// the cycle did not commit; it is never persisted.
type CycleRecord struct {
	SnapshotID uuid.UUID
	Snapshot   metrics.Snapshot
	StartedAt  time.Time
	Outcome    Outcome
	Err        error
}
