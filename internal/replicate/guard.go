/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package replicate

import "sync"

// Guard is the echo guard: a single slot holding the id of the peer record that is
// being applied locally. The window loop runs that dispatch to completion before
// anything else, so one slot is enough.
type Guard struct {
	mu sync.Mutex
	id string
}

// Set arms the guard for id and returns the id it displaced, if any.
func (g *Guard) Set(id string) (prev string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, g.id = g.id, id
	return prev
}

// Take reports whether id is the guarded record, clearing the slot if so.
func (g *Guard) Take(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == "" || g.id != id {
		return false
	}
	g.id = ""
	return true
}

// Clear empties the slot.
func (g *Guard) Clear() {
	g.mu.Lock()
	g.id = ""
	g.mu.Unlock()
}

// Pending returns the guarded id, or "".
func (g *Guard) Pending() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.id
}
