// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package metrics

import (
	"time"
)

// Kind determines how repeated recordings of the same key combine.
type Kind uint8

const (
	// KindCounter accumulates: each recording adds to the running total.
	KindCounter Kind = iota
	// KindGauge is last-write-wins: each recording replaces the stored value.
	KindGauge
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// Pair is a single named metric value.
type Pair struct {
	Key   string
	Value uint64
	Kind  Kind
}

// Snapshot is a point-in-time copy of accumulated metrics, in key
// first-use order. A snapshot is owned by the heartbeat cycle that took
// it until it is either committed or discarded; the live store is not
// modified by taking one.
type Snapshot struct {
	Pairs   []Pair
	TakenAt time.Time
}

// Len returns the number of pairs in the snapshot.
func (s Snapshot) Len() int { return len(s.Pairs) }

// Provider is the capability set every metrics provider variant exposes.
//
// Record never drops an update: callers block until the store grants
// exclusive access. Snapshot and Commit are invoked only by the heartbeat
// scheduler, one cycle at a time.
type Provider interface {
	// Record adds value to the named counter, or replaces the named
	// gauge. The kind of a key is fixed by its first recording.
	Record(key string, value uint64, kind Kind)

	// Snapshot returns a consistent copy of all current entries without
	// mutating the store.
	Snapshot() Snapshot

	// Commit retires exactly the contributions captured in snap from the
	// live store: counters are decremented by the snapshotted value
	// (clamped at zero), gauges are cleared only if still equal to the
	// snapshotted value.
	Commit(snap Snapshot)
}
