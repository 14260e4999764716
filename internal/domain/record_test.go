/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordIDsAreUnique(t *testing.T) {
	a := NewRecord(SetAspectRatio, 1.78)
	b := NewRecord(SetAspectRatio, 1.78)
	require.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Less(t, a.ID, b.ID, "ulids from one process sort by creation")
}

func TestDecodePayload(t *testing.T) {
	v, err := DecodePayload[float64](NewRecord(SetAspectRatio, 1.78))
	require.NoError(t, err)
	assert.Equal(t, 1.78, v)

	raw := Record{Type: SetBoard, Payload: json.RawMessage(`{"uid":"b1","number":3}`)}
	b, err := DecodePayload[Board](raw)
	require.NoError(t, err)
	assert.Equal(t, Board{UID: "b1", Number: 3}, b)

	generic := Record{Type: SetBoard, Payload: map[string]any{"uid": "b2"}}
	b, err = DecodePayload[Board](generic)
	require.NoError(t, err)
	assert.Equal(t, "b2", b.UID)

	_, err = DecodePayload[Board](Record{Type: SetBoard})
	assert.ErrorIs(t, err, ErrNoPayload)

	_, err = DecodePayload[float64](Record{Type: SetAspectRatio, Payload: json.RawMessage(`"wide"`)})
	assert.Error(t, err)
}

func TestSceneCloneIsDeep(t *testing.T) {
	s := State{Scene: Scene{
		Objects:    map[string]SceneObject{"c1": {ID: "c1", Skeleton: []byte{1, 2}}},
		Selections: []string{"c1"},
	}}
	c := s.Clone()
	o := c.Scene.Objects["c1"]
	o.Skeleton[0] = 9
	c.Scene.Objects["c1"] = o
	c.Scene.Selections[0] = "x"

	assert.Equal(t, byte(1), s.Scene.Objects["c1"].Skeleton[0])
	assert.Equal(t, "c1", s.Scene.Selections[0])
}
