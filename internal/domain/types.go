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

// This file defines the state model shared by the primary (board) window and the
// secondary (shot generator) window. Every field must survive a JSON round trip:
// the history keeps encoded States and the channel carries encoded payloads.

// State is the canonical application state held by a window's store.
type State struct {
	Meta        Meta    `json:"meta"`
	Board       Board   `json:"board"`
	AspectRatio float64 `json:"aspectRatio"`
	Language    string  `json:"language"`
	Scene       Scene   `json:"scene"`
	// Hover is transient pointer state; it is never replicated or recorded in history.
	Hover string `json:"hover,omitempty"`
}

// Meta carries document context owned by the primary window.
type Meta struct {
	FilePath string `json:"filePath,omitempty"`
}

// Board is the storyboard panel currently being edited.
type Board struct {
	UID      string `json:"uid"`
	Number   int    `json:"number"`
	Shot     string `json:"shot,omitempty"`
	Dialogue string `json:"dialogue,omitempty"`
	Action   string `json:"action,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Scene is the 3D shot generator scene attached to the current board.
type Scene struct {
	Objects      map[string]SceneObject `json:"objects"`
	ActiveCamera string                 `json:"activeCamera,omitempty"`
	Selections   []string               `json:"selections"`
}

// Object types.
const (
	ObjectCamera    = "camera"
	ObjectCharacter = "character"
	ObjectProp      = "object"
	ObjectLight     = "light"
)

// SceneObject is one placed element of the 3D scene.
type SceneObject struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Name     string  `json:"name,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
	Visible  bool    `json:"visible"`
	// Skeleton is the encoded pose blob of a character. It is opaque to the store.
	Skeleton []byte `json:"skeleton,omitempty"`
}

// ObjectPatch lists the fields of an UPDATE_OBJECT payload. Nil fields are left untouched.
type ObjectPatch struct {
	ID       string   `json:"id"`
	Name     *string  `json:"name,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Z        *float64 `json:"z,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
	Visible  *bool    `json:"visible,omitempty"`
}

// SkeletonUpdate is the payload of UPDATE_CHARACTER_SKELETON.
type SkeletonUpdate struct {
	ID       string `json:"id"`
	Skeleton []byte `json:"skeleton"`
}

// Clone returns a deep copy of s so reducers can modify it without touching s.
func (s State) Clone() State {
	out := s
	out.Scene = s.Scene.Clone()
	return out
}

// Clone returns a deep copy of the scene.
func (sc Scene) Clone() Scene {
	out := Scene{ActiveCamera: sc.ActiveCamera}
	if sc.Objects != nil {
		out.Objects = make(map[string]SceneObject, len(sc.Objects))
		for k, v := range sc.Objects {
			if v.Skeleton != nil {
				v.Skeleton = append([]byte(nil), v.Skeleton...)
			}
			out.Objects[k] = v
		}
	}
	if sc.Selections != nil {
		out.Selections = append([]string{}, sc.Selections...)
	}
	return out
}
