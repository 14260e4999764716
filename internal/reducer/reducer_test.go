/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package reducer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"storyboarder/internal/domain"
)

func sceneState() domain.State {
	return domain.State{
		AspectRatio: 2.39,
		Language:    "en",
		Scene: domain.Scene{
			Objects: map[string]domain.SceneObject{
				"cam1":  {ID: "cam1", Type: domain.ObjectCamera, Visible: true},
				"char1": {ID: "char1", Type: domain.ObjectCharacter, Visible: true},
				"box":   {ID: "box", Type: domain.ObjectProp},
			},
			ActiveCamera: "cam1",
			Selections:   []string{"char1"},
		},
	}
}

func TestApplyUnknownKindIsNoop(t *testing.T) {
	s := sceneState()
	got := Apply(s, domain.Record{Type: "nonexistent", Payload: 42})
	assert.Equal(t, s, got)
	assert.False(t, Known("nonexistent"))
}

func TestApplyMalformedPayloadIsNoop(t *testing.T) {
	s := sceneState()
	cases := []domain.Record{
		{Type: domain.SetAspectRatio, Payload: "wide"},
		{Type: domain.SetAspectRatio, Payload: -1.0},
		{Type: domain.SetAspectRatio},
		{Type: domain.SetCurrentLanguage, Payload: "not a language tag!"},
		{Type: domain.SetActiveCamera, Payload: "char1"},
		{Type: domain.UpdateObject, Payload: domain.ObjectPatch{ID: "ghost"}},
		{Type: domain.UpdateCharacterSkeleton, Payload: domain.SkeletonUpdate{ID: "box", Skeleton: []byte{1}}},
		{Type: domain.CreateObject, Payload: domain.SceneObject{}},
	}
	for _, r := range cases {
		assert.Equal(t, s, Apply(s, r), "record %s %v", r.Type, r.Payload)
	}
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	s := sceneState()
	x := 4.0
	_ = Apply(s, domain.NewRecord(domain.UpdateObject, domain.ObjectPatch{ID: "box", X: &x}))
	_ = Apply(s, domain.NewRecord(domain.DeleteObjects, []string{"cam1"}))
	assert.Equal(t, sceneState(), s)
}

func TestApplyScalars(t *testing.T) {
	s := Apply(domain.State{}, domain.NewRecord(domain.SetAspectRatio, 1.78))
	assert.Equal(t, 1.78, s.AspectRatio)

	s = Apply(s, domain.NewRecord(domain.SetCurrentLanguage, "fr"))
	assert.Equal(t, "fr", s.Language)

	s = Apply(s, domain.Record{Type: domain.SetCurrentLanguage, Payload: json.RawMessage(`"pt-BR"`)})
	assert.Equal(t, "pt-BR", s.Language)

	s = Apply(s, domain.NewRecord(domain.SetMetaFilePath, "/tmp/film.storyboarder"))
	assert.Equal(t, "/tmp/film.storyboarder", s.Meta.FilePath)

	s = Apply(s, domain.NewRecord(domain.SetBoard, domain.Board{UID: "B1", Number: 4, Shot: "4A"}))
	assert.Equal(t, "4A", s.Board.Shot)

	s = Apply(s, domain.NewRecord(domain.SetHover, "cam1"))
	assert.Equal(t, "cam1", s.Hover)
	s = Apply(s, domain.NewRecord(domain.SetHover, nil))
	assert.Equal(t, "", s.Hover)
}

func TestApplySceneObjects(t *testing.T) {
	s := sceneState()

	s = Apply(s, domain.NewRecord(domain.CreateObject, domain.SceneObject{ID: "cam2", Type: domain.ObjectCamera}))
	assert.Contains(t, s.Scene.Objects, "cam2")

	s = Apply(s, domain.NewRecord(domain.SetActiveCamera, "cam2"))
	assert.Equal(t, "cam2", s.Scene.ActiveCamera)

	name := "Hero"
	vis := false
	s = Apply(s, domain.NewRecord(domain.UpdateObject, domain.ObjectPatch{ID: "char1", Name: &name, Visible: &vis}))
	assert.Equal(t, "Hero", s.Scene.Objects["char1"].Name)
	assert.False(t, s.Scene.Objects["char1"].Visible)

	s = Apply(s, domain.NewRecord(domain.UpdateCharacterSkeleton, domain.SkeletonUpdate{ID: "char1", Skeleton: []byte{0, 1, 2, 255}}))
	assert.Equal(t, []byte{0, 1, 2, 255}, s.Scene.Objects["char1"].Skeleton)

	s = Apply(s, domain.NewRecord(domain.SelectObjects, []string{"box", "ghost", "box"}))
	assert.Equal(t, []string{"box"}, s.Scene.Selections)

	s = Apply(s, domain.NewRecord(domain.DeleteObjects, []string{"box", "cam2"}))
	assert.NotContains(t, s.Scene.Objects, "box")
	assert.Empty(t, s.Scene.Selections)
	assert.Equal(t, "", s.Scene.ActiveCamera)
}

func TestApplyIsIdempotentForRedundantDelivery(t *testing.T) {
	r := domain.NewRecord(domain.CreateObject, domain.SceneObject{ID: "p", Type: domain.ObjectProp, X: 1})
	once := Apply(sceneState(), r)
	twice := Apply(once, r)
	assert.Equal(t, once, twice)
}

func TestLoadSceneDropsDanglingReferences(t *testing.T) {
	sc := domain.Scene{
		Objects:      map[string]domain.SceneObject{"a": {ID: "a"}},
		ActiveCamera: "missing",
		Selections:   []string{"a", "missing"},
	}
	s := Apply(domain.State{}, domain.NewRecord(domain.LoadScene, sc))
	assert.Equal(t, "", s.Scene.ActiveCamera)
	assert.Equal(t, []string{"a"}, s.Scene.Selections)
}

func TestCarryKeepsFieldsOfListedKinds(t *testing.T) {
	restored := sceneState()
	restored.Language = "en"
	restored.Hover = ""
	delete(restored.Scene.Objects, "box")

	live := sceneState()
	live.Language = "fr"
	live.Hover = "cam1"
	live.AspectRatio = 1.78
	live.Scene.Selections = []string{"box", "char1"}

	got := Carry(restored, live, []domain.Kind{domain.SetCurrentLanguage, domain.SetHover, domain.SelectObjects, domain.CreateObject})
	assert.Equal(t, "fr", got.Language)
	assert.Equal(t, "cam1", got.Hover)
	assert.Equal(t, []string{"char1"}, got.Scene.Selections, "selections of objects missing after restore are dropped")
	assert.Equal(t, 2.39, got.AspectRatio, "kinds not listed keep the restored value")
	assert.NotContains(t, got.Scene.Objects, "box")
	assert.Equal(t, "en", restored.Language, "restored is not modified")
}

func TestCarryActiveCameraNeedsCamera(t *testing.T) {
	restored := sceneState()
	live := sceneState()
	live.Scene.ActiveCamera = "char1"
	assert.Equal(t, "cam1", Carry(restored, live, []domain.Kind{domain.SetActiveCamera}).Scene.ActiveCamera)

	live.Scene.ActiveCamera = ""
	assert.Empty(t, Carry(restored, live, []domain.Kind{domain.SetActiveCamera}).Scene.ActiveCamera)
}
