/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

// Sync diagnostic event names.
const (
	EventForwardDropped  = "sync.forward_dropped"
	EventMessageRejected = "sync.message_rejected"
	EventPeer            = "sync.peer"
	EventWindowPanic     = "sync.window_panic"
)

// ForwardDropped reports a record whose outbound copy could not be encoded.
// Only the kind is sent, never the payload.
func (c *Client) ForwardDropped(kind, role string) {
	c.Event(EventForwardDropped, map[string]string{"kind": kind, "role": role})
}

// MessageRejected reports a peer message that failed its schema check.
func (c *Client) MessageRejected(channel, role string) {
	c.Event(EventMessageRejected, map[string]string{"channel": channel, "role": role})
}

// Peer reports a transport attaching ("up") or going away ("down").
func (c *Client) Peer(transport, state, role string) {
	c.Event(EventPeer, map[string]string{"transport": transport, "state": state, "role": role})
}

// WindowPanic reports a recovered panic in a window loop.
func (c *Client) WindowPanic(role string) {
	c.Event(EventWindowPanic, map[string]string{"role": role})
}
