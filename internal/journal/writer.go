/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"storyboarder/internal/domain"
	applog "storyboarder/internal/log"
	"storyboarder/internal/store"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Buffer is the number of entries that may wait for the sink. Default 256.
	Buffer int
	// Batch is the largest number of entries written in one Append. Default 64.
	Batch int
	// Timeout bounds one Append. Default 5s.
	Timeout time.Duration
	Now     func() time.Time
}

// Writer feeds a Sink from a bounded queue. Enqueueing never blocks: entries
// that do not fit are dropped and counted.
type Writer struct {
	sink Sink
	opts WriterOptions
	log  *slog.Logger

	mu     sync.RWMutex
	closed bool
	q      chan Entry
	done   chan struct{}

	written, dropped atomic.Int64
}

func NewWriter(sink Sink, opts WriterOptions) *Writer {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Batch <= 0 {
		opts.Batch = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	w := &Writer{
		sink: sink,
		opts: opts,
		log:  applog.WithComponent("journal"),
		q:    make(chan Entry, opts.Buffer),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Middleware records every record after the rest of the chain has applied it.
func (w *Writer) Middleware(next store.DispatchFunc) store.DispatchFunc {
	return func(r domain.Record) {
		next(r)
		w.Record(r)
	}
}

// Record enqueues r. It reports false if r was dropped.
func (w *Writer) Record(r domain.Record) bool {
	e := EntryFor(r, w.opts.Now())
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.q <- e:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Recent reads the newest n entries from the sink.
func (w *Writer) Recent(ctx context.Context, n int) ([]Entry, error) {
	return w.sink.Recent(ctx, n)
}

// Written returns the number of entries stored so far.
func (w *Writer) Written() int64 { return w.written.Load() }

// Dropped returns the number of entries lost to a full queue or a failed write.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Close writes what is queued and closes the sink.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.q)
	w.mu.Unlock()
	<-w.done
	return w.sink.Close()
}

func (w *Writer) loop() {
	defer close(w.done)
	batch := make([]Entry, 0, w.opts.Batch)
	for e := range w.q {
		batch = append(batch[:0], e)
	fill:
		for len(batch) < w.opts.Batch {
			select {
			case e, ok := <-w.q:
				if !ok {
					break fill
				}
				batch = append(batch, e)
			default:
				break fill
			}
		}
		w.flush(batch)
	}
}

func (w *Writer) flush(batch []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.Timeout)
	defer cancel()
	if err := w.sink.Append(ctx, batch); err != nil {
		w.dropped.Add(int64(len(batch)))
		w.log.Warn("journal write failed", slog.Int("entries", len(batch)), slog.Any("err", err))
		return
	}
	w.written.Add(int64(len(batch)))
}
