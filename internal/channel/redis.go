/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	applog "storyboarder/internal/log"
	"storyboarder/internal/queue"
)

// BusOptions names the two ends of a redis-backed window pair.
type BusOptions struct {
	// Prefix namespaces keys, e.g. "storyboarder:<project>".
	Prefix string
	// Self and Peer are the window names, e.g. "primary" and "secondary".
	Self string
	Peer string
}

// Bus is a Channel over redis pub/sub. Pub/sub has no persistence, so messages
// published while the peer is not subscribed are lost, matching Send's contract.
type Bus struct {
	rdb  *redis.Client
	opts BusOptions
	reg  *registry
	ps   *redis.PubSub
	out  *queue.FIFO[frame]
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBus subscribes to the messages addressed to opts.Self.
func NewBus(ctx context.Context, rdb *redis.Client, opts BusOptions) (*Bus, error) {
	if opts.Self == "" || opts.Peer == "" || opts.Self == opts.Peer {
		return nil, fmt.Errorf("bus needs two distinct window names, got %q and %q", opts.Self, opts.Peer)
	}
	if opts.Prefix == "" {
		opts.Prefix = "storyboarder"
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	bctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		rdb:    rdb,
		opts:   opts,
		reg:    newRegistry("channel.redis"),
		out:    queue.New[frame](),
		log:    applog.WithComponent("channel.redis"),
		ctx:    bctx,
		cancel: cancel,
	}
	b.ps = rdb.PSubscribe(ctx, globEscape(b.key(opts.Self, ""))+"*")
	if _, err := b.ps.Receive(ctx); err != nil {
		cancel()
		_ = b.ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	b.wg.Add(2)
	go b.receiveLoop()
	go b.publishLoop()
	return b, nil
}

// Send publishes to the peer's key for name.
func (b *Bus) Send(name string, data []byte) {
	b.out.Push(frame{Name: name, Data: append([]byte(nil), data...)})
}

// OnReceive registers the handler for name.
func (b *Bus) OnReceive(name string, h Handler) Subscription { return b.reg.set(name, h) }

// Close unsubscribes and stops publishing. Unsent messages are dropped.
func (b *Bus) Close() error {
	b.out.Close()
	b.cancel()
	err := b.ps.Close()
	b.wg.Wait()
	return err
}

func (b *Bus) key(window, name string) string {
	return b.opts.Prefix + ":to:" + window + ":" + name
}

// globEscape quotes the characters redis treats as pattern syntax.
func globEscape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// nameFromKey extracts the channel name from a key addressed to this window.
func (b *Bus) nameFromKey(key string) (string, bool) {
	p := b.key(b.opts.Self, "")
	if !strings.HasPrefix(key, p) || len(key) == len(p) {
		return "", false
	}
	return key[len(p):], true
}

func (b *Bus) receiveLoop() {
	defer b.wg.Done()
	for msg := range b.ps.Channel() {
		name, ok := b.nameFromKey(msg.Channel)
		if !ok {
			continue
		}
		b.reg.deliver(name, []byte(msg.Payload))
	}
}

func (b *Bus) publishLoop() {
	defer b.wg.Done()
	b.out.Drain(func(f frame) {
		if err := b.rdb.Publish(b.ctx, b.key(b.opts.Peer, f.Name), []byte(f.Data)).Err(); err != nil {
			b.log.Debug("publish failed, message dropped", slog.String("channel", f.Name), slog.Any("err", err))
		}
	})
}
