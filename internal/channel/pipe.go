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
	"sync"

	"storyboarder/internal/queue"
)

// PipeEnd is one end of an in-process window pair. Each end delivers inbound
// messages from its own goroutine, in send order.
type PipeEnd struct {
	reg   *registry
	in    *queue.FIFO[frame]
	peer  *PipeEnd
	close sync.Once
	done  chan struct{}
}

// NewPipe returns two connected ends.
func NewPipe() (*PipeEnd, *PipeEnd) {
	a := newPipeEnd()
	b := newPipeEnd()
	a.peer, b.peer = b, a
	go a.in.Drain(func(f frame) { a.reg.deliver(f.Name, f.Data) })
	go b.in.Drain(func(f frame) { b.reg.deliver(f.Name, f.Data) })
	return a, b
}

func newPipeEnd() *PipeEnd {
	return &PipeEnd{reg: newRegistry("channel.pipe"), in: queue.New[frame](), done: make(chan struct{})}
}

// Send queues data for the peer. It is a no-op once either end is closed.
func (p *PipeEnd) Send(name string, data []byte) {
	if p.in.Closed() {
		return
	}
	p.peer.in.Push(frame{Name: name, Data: append([]byte(nil), data...)})
}

// OnReceive registers the handler for name on this end.
func (p *PipeEnd) OnReceive(name string, h Handler) Subscription { return p.reg.set(name, h) }

// Close detaches this end. Messages still queued for it are dropped.
func (p *PipeEnd) Close() error {
	p.close.Do(func() {
		p.in.Close()
		close(p.done)
	})
	return nil
}

// Done is closed when this end is closed.
func (p *PipeEnd) Done() <-chan struct{} { return p.done }
