/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package queue provides the unbounded FIFO used by every single-consumer loop in the
// application: window executors, channel delivery and outbound writers.
//
// Push never blocks, so senders are never suspended by a slow consumer. The consumer
// waits on a coalescing signal channel and stops as soon as the queue is closed;
// items still queued at that point are dropped.
package queue

import "sync"

// FIFO is safe for concurrent producers and a single consumer.
type FIFO[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
}

func New[T any]() *FIFO[T] {
	return &FIFO[T]{items: make([]T, 0, 16), signal: make(chan struct{}, 1)}
}

// Push appends v. It reports false if the queue is closed.
func (q *FIFO[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes the front item without blocking.
func (q *FIFO[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.closed || len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero // release for GC
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return v, true
}

// Len returns the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close was called.
func (q *FIFO[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops the queue and wakes the consumer. It is idempotent.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.signal)
}

// Drain calls fn for every item in order until the queue is closed.
// It must be called from exactly one goroutine.
func (q *FIFO[T]) Drain(fn func(T)) {
	for {
		if v, ok := q.TryPop(); ok {
			fn(v)
			continue
		}
		if q.Closed() {
			return
		}
		<-q.signal
	}
}
