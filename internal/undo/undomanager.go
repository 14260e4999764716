/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"sync"
	"time"
)

// Entry is an encoded State captured at TS. Blob content is opaque to the manager;
// size is estimated as len(Blob).
type Entry struct {
	Blob []byte
	TS   time.Time
}

// Config controls memory and depth caps. Every push is its own step: replicated
// UNDO records only line up when both windows keep the same steps.
type Config struct {
	// MaxBytes is a soft cap over both stacks; the oldest undo entries are pruned first.
	MaxBytes int
	// MaxDepth limits the number of undo entries kept in memory.
	MaxDepth int
}

// Manager is a linear undo/redo history of encoded states.
// It is safe for concurrent use.
type Manager struct {
	cfg Config
	mu  sync.Mutex
	// undo holds states before each change, newest last; redo holds states undone, newest last.
	undo []Entry
	redo []Entry
	// accounting
	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 * 1024 * 1024 // 16 MiB
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 200
	}
	return &Manager{cfg: cfg}
}

// Push records the state as it was before a change. Any new change invalidates redo.
func (m *Manager) Push(before Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRedoLocked()
	m.undo = append(m.undo, before)
	m.totalBytes += len(before.Blob)
	m.enforceCapsLocked()
}

// Undo pops the most recent before-state and stores current on the redo stack.
func (m *Manager) Undo(current Entry) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.undo)
	if n == 0 {
		return Entry{}, false
	}
	e := m.undo[n-1]
	m.undo[n-1] = Entry{}
	m.undo = m.undo[:n-1]
	m.totalBytes -= len(e.Blob)
	m.redo = append(m.redo, current)
	m.totalBytes += len(current.Blob)
	m.enforceCapsLocked()
	return e, true
}

// Redo pops the most recently undone state and stores current on the undo stack.
func (m *Manager) Redo(current Entry) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.redo)
	if n == 0 {
		return Entry{}, false
	}
	e := m.redo[n-1]
	m.redo[n-1] = Entry{}
	m.redo = m.redo[:n-1]
	m.totalBytes -= len(e.Blob)
	m.undo = append(m.undo, current)
	m.totalBytes += len(current.Blob)
	m.enforceCapsLocked()
	return e, true
}

// Clear drops both stacks.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo = nil
	m.redo = nil
	m.totalBytes = 0
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes int, undoDepth int, redoDepth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBytes, len(m.undo), len(m.redo)
}

func (m *Manager) dropRedoLocked() {
	for _, e := range m.redo {
		m.totalBytes -= len(e.Blob)
	}
	m.redo = nil
}

func (m *Manager) enforceCapsLocked() {
	if over := len(m.undo) - m.cfg.MaxDepth; over > 0 {
		m.dropOldestUndoLocked(over)
	}
	for m.totalBytes > m.cfg.MaxBytes && len(m.undo) > 0 {
		m.dropOldestUndoLocked(1)
	}
	// Only redo entries left: drop the furthest future first.
	for m.totalBytes > m.cfg.MaxBytes && len(m.redo) > 0 {
		m.totalBytes -= len(m.redo[0].Blob)
		m.redo = append([]Entry(nil), m.redo[1:]...)
	}
	if m.totalBytes < 0 {
		m.totalBytes = 0
	}
}

func (m *Manager) dropOldestUndoLocked(n int) {
	for i := 0; i < n; i++ {
		m.totalBytes -= len(m.undo[i].Blob)
	}
	m.undo = append([]Entry(nil), m.undo[n:]...)
}
