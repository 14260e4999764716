/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboarder/internal/domain"
)

func TestDispatchAppliesAndNotifies(t *testing.T) {
	s := New(Options{})
	var seen []domain.Kind
	cancel := s.OnStateChange(func(prev, next domain.State, r domain.Record) {
		seen = append(seen, r.Type)
		assert.Equal(t, 0.0, prev.AspectRatio)
		assert.Equal(t, 1.78, next.AspectRatio)
	})

	s.Dispatch(domain.NewRecord(domain.SetAspectRatio, 1.78))
	assert.Equal(t, 1.78, s.State().AspectRatio)
	assert.Equal(t, []domain.Kind{domain.SetAspectRatio}, seen)

	cancel()
	s.Dispatch(domain.NewRecord(domain.SetAspectRatio, 2.0))
	assert.Len(t, seen, 1)
}

func TestUnknownKindLeavesStateAndHistory(t *testing.T) {
	s := New(Options{Initial: domain.State{AspectRatio: 1.5}})
	notified := false
	s.OnStateChange(func(_, _ domain.State, _ domain.Record) { notified = true })

	s.Dispatch(domain.Record{ID: "x", Type: "nonexistent", Payload: map[string]any{"a": 1}})

	assert.Equal(t, domain.State{AspectRatio: 1.5}, s.State())
	u, r := s.History()
	assert.Zero(t, u)
	assert.Zero(t, r)
	assert.False(t, notified)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	s := New(Options{})
	s.Dispatch(domain.NewRecord(domain.SetBoard, domain.Board{UID: "B1", Number: 1}))
	pre := s.State()

	s.Dispatch(domain.NewRecord(domain.CreateObject, domain.SceneObject{ID: "cam", Type: domain.ObjectCamera, Z: 1.6}))
	post := s.State()
	require.NotEqual(t, pre, post)

	s.Undo()
	assert.Equal(t, pre, s.State())

	s.Redo()
	assert.Equal(t, post, s.State())
}

func TestUndoOnEmptyHistoryIsNoop(t *testing.T) {
	s := New(Options{Initial: domain.State{Language: "en"}})
	s.Undo()
	s.Redo()
	assert.Equal(t, "en", s.State().Language)
}

func TestUntrackedKindsSkipHistory(t *testing.T) {
	s := New(Options{Untracked: []domain.Kind{domain.SetCurrentLanguage, domain.SetHover}})
	s.Dispatch(domain.NewRecord(domain.SetAspectRatio, 1.78))
	s.Dispatch(domain.NewRecord(domain.SetCurrentLanguage, "fr"))
	s.Dispatch(domain.NewRecord(domain.SetHover, "cam"))

	u, _ := s.History()
	assert.Equal(t, 1, u)

	s.Undo()
	st := s.State()
	assert.Equal(t, 0.0, st.AspectRatio)
	assert.Equal(t, "fr", st.Language, "undo keeps untracked fields")
	assert.Equal(t, "cam", st.Hover)

	s.Dispatch(domain.NewRecord(domain.SetCurrentLanguage, "de"))
	s.Redo()
	st = s.State()
	assert.Equal(t, 1.78, st.AspectRatio)
	assert.Equal(t, "de", st.Language, "redo keeps untracked fields")
}

func TestSnapshotRecordsResetHistory(t *testing.T) {
	s := New(Options{})
	s.Dispatch(domain.NewRecord(domain.SetAspectRatio, 1.78))
	s.Dispatch(domain.NewRecord(domain.SetAspectRatio, 2.0))

	snap := domain.NewRecord(domain.SetBoard, domain.Board{UID: "B9", Number: 9})
	snap.Snapshot = true
	s.Dispatch(snap)

	assert.Equal(t, "B9", s.State().Board.UID)
	u, r := s.History()
	assert.Zero(t, u)
	assert.Zero(t, r)

	s.Undo()
	assert.Equal(t, "B9", s.State().Board.UID)
	assert.Equal(t, 2.0, s.State().AspectRatio)
}

func TestClearHistory(t *testing.T) {
	s := New(Options{})
	s.Dispatch(domain.NewRecord(domain.SetAspectRatio, 1.78))
	s.Undo()
	s.ClearHistory()
	u, r := s.History()
	assert.Zero(t, u)
	assert.Zero(t, r)
}

func TestMiddlewareOrder(t *testing.T) {
	s := New(Options{})
	var calls []string
	mw := func(name string) Middleware {
		return func(next DispatchFunc) DispatchFunc {
			return func(r domain.Record) {
				calls = append(calls, name+":before")
				next(r)
				calls = append(calls, name+":after")
			}
		}
	}
	s.Use(mw("outer"))
	s.Use(mw("inner"))

	var observed float64
	s.Use(func(next DispatchFunc) DispatchFunc {
		return func(r domain.Record) {
			next(r)
			observed = s.State().AspectRatio
		}
	})

	s.Dispatch(domain.NewRecord(domain.SetAspectRatio, 1.33))
	assert.Equal(t, []string{"outer:before", "inner:before", "inner:after", "outer:after"}, calls)
	assert.Equal(t, 1.33, observed, "middleware sees the resulting state after next returns")
}
