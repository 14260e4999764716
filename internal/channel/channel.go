/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package channel implements the cross-window message bus.
//
// A Channel connects exactly two windows. Send is fire-and-forget: it never blocks,
// never reports delivery failures and silently drops messages when the peer is gone.
// Messages sent under the same name arrive in send order. Each name has at most one
// handler per window.
//
// Transports: Pipe (in-process), Server/Dial (websocket, one peer per server) and
// Bus (redis pub/sub). Topic adds typed, schema-checked payloads on top.
package channel

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	applog "storyboarder/internal/log"
)

var (
	// ErrClosed is returned when operating on a closed transport.
	ErrClosed = errors.New("channel closed")
	// ErrPeerExists is returned when a second peer tries to attach to a server.
	ErrPeerExists = errors.New("a peer is already connected")
	// ErrUnauthorized is returned when a peer presents a missing or invalid token.
	ErrUnauthorized = errors.New("unauthorized peer")
)

// Handler receives the raw JSON payload of a message.
type Handler func(data []byte)

// Subscription is returned by OnReceive.
type Subscription interface {
	Unsubscribe()
}

// Channel is one window's endpoint of a window pair.
type Channel interface {
	// Send delivers data to the peer's handler for name. data must be valid JSON.
	Send(name string, data []byte)
	// OnReceive registers h as the handler for name, replacing any previous one.
	OnReceive(name string, h Handler) Subscription
	Close() error
}

// registry keeps the handler per name for one endpoint.
type registry struct {
	mu       sync.Mutex
	handlers map[string]*entry
	log      *slog.Logger
}

type entry struct{ h Handler }

func newRegistry(component string) *registry {
	return &registry{handlers: make(map[string]*entry), log: applog.WithComponent(component)}
}

func (r *registry) set(name string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		r.log.Warn("handler replaced", slog.String("channel", name))
	}
	e := &entry{h: h}
	r.handlers[name] = e
	return subscription(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.handlers[name] == e {
			delete(r.handlers, name)
		}
	})
}

func (r *registry) deliver(name string, data []byte) {
	r.mu.Lock()
	e := r.handlers[name]
	r.mu.Unlock()
	if e == nil {
		r.log.Debug("no handler, message dropped", slog.String("channel", name))
		return
	}
	e.h(data)
}

type subscription func()

func (s subscription) Unsubscribe() {
	if s != nil {
		s()
	}
}

// frame is the unit moved by transports that multiplex names over one stream.
type frame struct {
	Name string          `json:"channel"`
	Data json.RawMessage `json:"data"`
}
