/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package replicate keeps two windows' stores in step by forwarding locally
// originated records to the peer and applying the peer's records without
// sending them back.
//
// The Replicator is installed as store middleware. For every dispatched record:
//  1. if the record is the one held by the echo guard, it came from the peer:
//     the guard is cleared and the record is applied without forwarding;
//  2. otherwise the record is applied, and then, unless its kind is local-only or
//     no peer is attached, an encoded copy is sent on store:update.
//
// A genuine user action therefore costs at most one extra hop and never loops.
// Serialization failures drop the outbound copy only; the local dispatch has
// already completed.
package replicate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"storyboarder/internal/channel"
	"storyboarder/internal/domain"
	applog "storyboarder/internal/log"
	"storyboarder/internal/store"
)

// Dispatcher applies records; *store.Store implements it.
type Dispatcher interface {
	Dispatch(r domain.Record)
}

// ForwardError describes a record whose outbound copy was dropped.
type ForwardError struct {
	RecordID string
	Kind     domain.Kind
	Err      error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward %s %s: %v", e.Kind, e.RecordID, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// Options configures a Replicator.
type Options struct {
	// WindowID stamps the origin of records dispatched in this window.
	WindowID string
	// LocalOnly kinds are applied locally and never forwarded.
	LocalOnly []domain.Kind
	// Flatten kinds are sent with a string-encoded payload.
	Flatten []domain.Kind
	// Exec runs received records on the window's execution context.
	// Defaults to calling the function directly.
	Exec func(func())
	// OnDrop is called when an outbound copy is dropped because it could not be encoded.
	OnDrop func(*ForwardError)
	// OnReject is called when a peer envelope fails its schema check.
	OnReject func(err error)
	Logger *slog.Logger
}

// Stats counts replication outcomes.
type Stats struct {
	Forwarded  int64
	Suppressed int64
	Dropped    int64
	Received   int64
}

type Replicator struct {
	opts      Options
	localOnly map[domain.Kind]bool
	flatten   map[domain.Kind]bool
	guard     Guard
	hold      Guard
	log       *slog.Logger

	mu     sync.RWMutex
	peer   channel.Channel
	sub    channel.Subscription
	target Dispatcher

	forwarded, suppressed, dropped, received atomic.Int64
}

func New(opts Options) *Replicator {
	r := &Replicator{
		opts:      opts,
		localOnly: kindSet(opts.LocalOnly),
		flatten:   kindSet(opts.Flatten),
		log:       opts.Logger,
	}
	if r.opts.Exec == nil {
		r.opts.Exec = func(f func()) { f() }
	}
	if r.log == nil {
		r.log = applog.WithComponent("replicate")
	}
	return r
}

func kindSet(ks []domain.Kind) map[domain.Kind]bool {
	m := make(map[domain.Kind]bool, len(ks))
	for _, k := range ks {
		m[k] = true
	}
	return m
}

// Bind sets the dispatcher that received records are applied to.
func (r *Replicator) Bind(d Dispatcher) {
	r.mu.Lock()
	r.target = d
	r.mu.Unlock()
}

// Attach makes ch the peer channel and starts receiving store:update on it.
func (r *Replicator) Attach(ch channel.Channel) {
	r.Detach()
	sub := UpdateTopic.Listen(ch, func(env Envelope) {
		r.opts.Exec(func() { r.receive(env) })
	}, r.opts.OnReject)
	r.mu.Lock()
	r.peer, r.sub = ch, sub
	r.mu.Unlock()
}

// Detach forgets the peer. Later records are applied locally only.
func (r *Replicator) Detach() {
	r.mu.Lock()
	sub := r.sub
	r.peer, r.sub = nil, nil
	r.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Stats returns counters since creation.
func (r *Replicator) Stats() Stats {
	return Stats{
		Forwarded:  r.forwarded.Load(),
		Suppressed: r.suppressed.Load(),
		Dropped:    r.dropped.Load(),
		Received:   r.received.Load(),
	}
}

// Middleware is the store middleware doing echo suppression and forwarding.
func (r *Replicator) Middleware(next store.DispatchFunc) store.DispatchFunc {
	return func(rec domain.Record) {
		if rec.Origin == "" {
			rec.Origin = r.opts.WindowID
		}
		if r.guard.Take(rec.ID) {
			r.suppressed.Add(1)
			next(rec)
			return
		}
		if r.hold.Take(rec.ID) {
			next(rec)
			return
		}
		next(rec)
		r.forward(rec)
	}
}

// ApplyRemote applies a peer-originated record locally without forwarding it.
// It must run on the window's execution context.
func (r *Replicator) ApplyRemote(rec domain.Record) {
	r.mu.RLock()
	d := r.target
	r.mu.RUnlock()
	if d == nil {
		r.log.Warn("no store bound, peer record dropped", slog.String("id", rec.ID))
		return
	}
	if prev := r.guard.Set(rec.ID); prev != "" {
		r.log.Warn("echo guard was still armed", slog.String("stale", prev), slog.String("id", rec.ID))
	}
	// A middleware ahead of us may swallow the record, or a listener may panic.
	defer r.guard.Clear()
	d.Dispatch(rec)
}

// ApplyLocal applies a locally originated record without forwarding it on
// store:update. It must run on the window's execution context.
func (r *Replicator) ApplyLocal(rec domain.Record) {
	r.mu.RLock()
	d := r.target
	r.mu.RUnlock()
	if d == nil {
		return
	}
	if rec.Origin == "" {
		rec.Origin = r.opts.WindowID
	}
	r.hold.Set(rec.ID)
	defer r.hold.Clear()
	d.Dispatch(rec)
}

func (r *Replicator) receive(env Envelope) {
	ctx := applog.ContextWithRecord(context.Background(), env.ID)
	if env.Origin == r.opts.WindowID {
		r.log.WarnContext(ctx, "own record came back from peer, ignored", slog.String("type", string(env.Type)))
		return
	}
	rec, err := Decode(env)
	if err != nil {
		r.log.WarnContext(ctx, "peer record rejected", slog.Any("err", err))
		return
	}
	r.received.Add(1)
	r.ApplyRemote(rec)
}

// Forward sends rec to the peer without applying it locally.
func (r *Replicator) Forward(rec domain.Record) {
	if rec.Origin == "" {
		rec.Origin = r.opts.WindowID
	}
	r.forward(rec)
}

func (r *Replicator) forward(rec domain.Record) {
	if r.localOnly[rec.Type] {
		return
	}
	ctx := applog.ContextWithRecord(context.Background(), rec.ID)
	r.mu.RLock()
	peer := r.peer
	r.mu.RUnlock()
	if peer == nil {
		r.log.DebugContext(ctx, "no peer, not forwarded", slog.String("type", string(rec.Type)))
		return
	}
	env, err := Encode(rec, r.flatten[rec.Type])
	if err == nil {
		err = UpdateTopic.Send(peer, env)
	}
	if err != nil {
		r.dropped.Add(1)
		fe := &ForwardError{RecordID: rec.ID, Kind: rec.Type, Err: err}
		r.log.ErrorContext(ctx, "record not serializable, forward dropped", slog.Any("err", fe))
		if r.opts.OnDrop != nil {
			r.opts.OnDrop(fe)
		}
		return
	}
	r.forwarded.Add(1)
}
