// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package metrics

// Compile-time check
var _ Provider = (*Local)(nil)

// Local is the in-process Provider variant: a thin pass-through to a
// single Store instance.
type Local struct {
	store *Store
}

// NewLocal creates a Local provider over store. If store is nil a fresh
// one is created.
func NewLocal(store *Store) *Local {
	if store == nil {
		store = NewStore()
	}
	return &Local{store: store}
}

func (l *Local) Record(key string, value uint64, kind Kind) {
	l.store.Record(key, value, kind)
}

func (l *Local) Snapshot() Snapshot {
	return l.store.Snapshot()
}

func (l *Local) Commit(snap Snapshot) {
	l.store.Commit(snap)
}

// Store exposes the underlying store for diagnostics.
func (l *Local) Store() *Store { return l.store }
