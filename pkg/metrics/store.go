// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package metrics

import (
	"sync"
	"time"
)

// Store is a concurrency-safe accumulator of named metrics. It is the
// foundation every Provider variant wraps.
//
// All acquisition is blocking. A try-lock that gives up under contention
// would silently drop recordings, so none is used anywhere in this path;
// critical sections are pure in-memory updates and stay short.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // keys in first-use order
}

type entry struct {
	kind  Kind
	value uint64
	// writes counts recordings against this key since process start.
	// Diagnostics only; never reset by Commit.
	writes uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
	}
}

// Record adds value to the named counter or replaces the named gauge,
// creating the entry on first use. The kind given on first use is fixed
// for the lifetime of the key; later calls with a different kind keep the
// original combining behavior.
func (s *Store) Record(key string, value uint64, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.entries[key] = &entry{kind: kind, value: value, writes: 1}
		s.order = append(s.order, key)
		return
	}

	switch e.kind {
	case KindCounter:
		e.value += value
	case KindGauge:
		e.value = value
	}
	e.writes++
}

// Snapshot returns a copy of all current entries, consistent at a single
// instant: the shared read lock is held for the whole copy, so no entry
// can be mid-update while it is taken. The live store is untouched.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make([]Pair, 0, len(s.order))
	for _, key := range s.order {
		e := s.entries[key]
		pairs = append(pairs, Pair{Key: key, Value: e.value, Kind: e.kind})
	}
	return Snapshot{Pairs: pairs, TakenAt: time.Now()}
}

// Commit retires the contributions captured in snap. For counter keys the
// snapshotted value is subtracted from the live total, clamped at zero.
// For gauge keys the live value is cleared only if it still equals the
// snapshotted one, so a newer write that raced with the in-flight
// submission is never clobbered.
//
// Committing a snapshot twice subtracts nothing the second time only if
// the first commit already drained the captured amount and no new
// recordings arrived; callers must commit a snapshot at most once. A
// discarded snapshot is simply dropped, which leaves the store untouched
// no matter how many times it happens.
func (s *Store) Commit(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range snap.Pairs {
		e, ok := s.entries[p.Key]
		if !ok {
			continue
		}
		switch e.kind {
		case KindCounter:
			if e.value >= p.Value {
				e.value -= p.Value
			} else {
				e.value = 0
			}
		case KindGauge:
			if e.value == p.Value {
				e.value = 0
			}
		}
	}
}

// Writes returns the number of recordings made against key since process
// start, and whether the key exists.
func (s *Store) Writes(key string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	return e.writes, true
}

// Len returns the number of distinct keys in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
