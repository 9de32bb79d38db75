// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.
package channel

import "sync"

// Merger merges multiple input channels into a single output channel.
// Message delivery order is guaranteed within a single input channel.
type Merger[T any] struct {
	out  chan T
	done chan struct{}

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewMerger creates a new Merger with initial input channels. The output
// channel is buffered to the largest buffer among the inputs.
func NewMerger[T any](inputs ...<-chan T) *Merger[T] {
	buf := 0
	for _, ch := range inputs {
		if cap(ch) > buf {
			buf = cap(ch)
		}
	}

	m := &Merger[T]{
		out:  make(chan T, buf),
		done: make(chan struct{}),
	}

	for _, ch := range inputs {
		m.Add(ch)
	}

	go func() {
		<-m.done
		m.wg.Wait()
		close(m.out)
	}()

	return m
}

// Add adds a new input channel. The merger stops forwarding from an input
// once it is closed. Safe to call from multiple goroutines; calling Add
// after Close panics.
func (m *Merger[T]) Add(input <-chan T) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		panic("channel: Add after Close")
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		for {
			select {
			case v, ok := <-input:
				if !ok {
					return
				}
				select {
				case m.out <- v:
				case <-m.done:
					return
				}
			case <-m.done:
				return
			}
		}
	}()
}

// Out returns the merged output channel. It closes after Close is called
// and all forwarding goroutines have drained.
func (m *Merger[T]) Out() <-chan T {
	return m.out
}

// Close stops the merger and closes the output channel. Calling Close
// twice panics.
func (m *Merger[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	close(m.done)
}
