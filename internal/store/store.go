/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package store holds a window's canonical State. Every change goes through Dispatch,
// which runs the middleware chain and then the reducer; UNDO and REDO records move the
// history cursor instead of reaching the reducer, so they replicate like any other record.
package store

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"storyboarder/internal/domain"
	applog "storyboarder/internal/log"
	"storyboarder/internal/reducer"
	"storyboarder/internal/undo"
)

// DispatchFunc applies a record.
type DispatchFunc func(r domain.Record)

// Middleware wraps the next dispatcher in the chain. It sees every record and may
// inspect the store before and after calling next.
type Middleware func(next DispatchFunc) DispatchFunc

// Listener is notified after a record changed the state.
type Listener func(prev, next domain.State, r domain.Record)

// Options configures a Store.
type Options struct {
	Initial domain.State
	History undo.Config
	// Untracked kinds change the state without creating an undo step. Undo and
	// redo keep the fields they own as they are.
	Untracked []domain.Kind
	// Now stamps history entries; defaults to time.Now.
	Now func() time.Time
}

// Store is safe for concurrent use, but callers that rely on record ordering
// (the window loop) must serialize Dispatch themselves.
type Store struct {
	mu        sync.Mutex
	state     domain.State
	history   *undo.Manager
	untracked map[domain.Kind]struct{}
	kept      []domain.Kind
	now       func() time.Time

	mws      []Middleware
	dispatch DispatchFunc

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int

	log *slog.Logger
}

// New creates a store holding opts.Initial.
func New(opts Options) *Store {
	s := &Store{
		state:     opts.Initial.Clone(),
		history:   undo.NewManager(opts.History),
		untracked: make(map[domain.Kind]struct{}, len(opts.Untracked)),
		kept:      append([]domain.Kind(nil), opts.Untracked...),
		now:       opts.Now,
		listeners: make(map[int]Listener),
		log:       applog.WithComponent("store"),
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, k := range opts.Untracked {
		s.untracked[k] = struct{}{}
	}
	s.dispatch = s.reduce
	return s
}

// Use appends middleware to the chain. The first middleware added is the outermost.
func (s *Store) Use(mws ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mws = append(s.mws, mws...)
	d := DispatchFunc(s.reduce)
	for i := len(s.mws) - 1; i >= 0; i-- {
		d = s.mws[i](d)
	}
	s.dispatch = d
}

// Dispatch runs r through the middleware chain and applies it.
func (s *Store) Dispatch(r domain.Record) {
	s.mu.Lock()
	d := s.dispatch
	s.mu.Unlock()
	d(r)
}

// Undo dispatches a synthesized UNDO record.
func (s *Store) Undo() { s.Dispatch(domain.NewRecord(domain.Undo, nil)) }

// Redo dispatches a synthesized REDO record.
func (s *Store) Redo() { s.Dispatch(domain.NewRecord(domain.Redo, nil)) }

// State returns a copy of the current state.
func (s *Store) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// History reports the undo and redo depth.
func (s *Store) History() (undoDepth, redoDepth int) {
	_, u, r := s.history.Stats()
	return u, r
}

// ClearHistory drops every undo and redo step.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
}

// OnStateChange registers l and returns a function that removes it.
func (s *Store) OnStateChange(l Listener) (cancel func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Store) reduce(r domain.Record) {
	prev, next, changed := s.apply(r)
	if changed {
		s.notify(prev, next, r)
	}
}

func (s *Store) apply(r domain.Record) (prev, next domain.State, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.state
	prevBlob, err := json.Marshal(prev)
	if err != nil {
		s.log.Error("encode state failed", slog.Any("err", err))
		return prev, prev, false
	}

	if r.Type.IsHistoryMove() {
		next, changed = s.moveLocked(r.Type, prevBlob)
	} else {
		next = reducer.Apply(prev, r)
		nextBlob, err := json.Marshal(next)
		if err != nil {
			s.log.Error("encode state failed", slog.Any("err", err), slog.String("type", string(r.Type)))
			return prev, prev, false
		}
		changed = !bytes.Equal(prevBlob, nextBlob)
		if _, skip := s.untracked[r.Type]; changed && !skip && !r.Snapshot {
			s.history.Push(undo.Entry{Blob: prevBlob, TS: s.now()})
		}
		if r.Snapshot {
			s.history.Clear()
		}
	}
	if changed {
		s.state = next
	}
	return prev, next, changed
}

func (s *Store) moveLocked(k domain.Kind, current []byte) (domain.State, bool) {
	cur := undo.Entry{Blob: current, TS: s.now()}
	var (
		e  undo.Entry
		ok bool
	)
	if k == domain.Undo {
		e, ok = s.history.Undo(cur)
	} else {
		e, ok = s.history.Redo(cur)
	}
	if !ok {
		return s.state, false
	}
	var next domain.State
	if err := json.Unmarshal(e.Blob, &next); err != nil {
		s.log.Error("decode history entry failed", slog.Any("err", err), slog.String("type", string(k)))
		return s.state, false
	}
	return reducer.Carry(next, s.state, s.kept), true
}

func (s *Store) notify(prev, next domain.State, r domain.Record) {
	s.lmu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.Unlock()
	for _, l := range ls {
		l(prev.Clone(), next.Clone(), r)
	}
}
