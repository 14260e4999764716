/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package reducer implements the deterministic transition function of the window store.
// Apply is total: unknown kinds and malformed payloads leave the state unchanged, so
// windows running slightly different builds can exchange records safely.
package reducer

import (
	"log/slog"
	"math"
	"slices"

	"golang.org/x/text/language"

	"storyboarder/internal/domain"
	applog "storyboarder/internal/log"
)

type handler func(s domain.State, r domain.Record) (domain.State, error)

var handlers = map[domain.Kind]handler{
	domain.SetBoard:                setBoard,
	domain.SetAspectRatio:          setAspectRatio,
	domain.SetCurrentLanguage:      setLanguage,
	domain.SetMetaFilePath:         setFilePath,
	domain.LoadScene:               loadScene,
	domain.CreateObject:            createObject,
	domain.UpdateObject:            updateObject,
	domain.DeleteObjects:           deleteObjects,
	domain.SelectObjects:           selectObjects,
	domain.SetActiveCamera:         setActiveCamera,
	domain.UpdateCharacterSkeleton: updateSkeleton,
	domain.SetHover:                setHover,
}

// Known reports whether k has a reducer case.
func Known(k domain.Kind) bool {
	_, ok := handlers[k]
	return ok
}

// carriers copy the fields a kind owns from one state into another. Kinds that
// touch scene objects have none: their effect cannot be separated from the scene.
var carriers = map[domain.Kind]func(dst *domain.State, src domain.State){
	domain.SetBoard:           func(dst *domain.State, src domain.State) { dst.Board = src.Board },
	domain.SetAspectRatio:     func(dst *domain.State, src domain.State) { dst.AspectRatio = src.AspectRatio },
	domain.SetCurrentLanguage: func(dst *domain.State, src domain.State) { dst.Language = src.Language },
	domain.SetMetaFilePath:    func(dst *domain.State, src domain.State) { dst.Meta.FilePath = src.Meta.FilePath },
	domain.SetHover:           func(dst *domain.State, src domain.State) { dst.Hover = src.Hover },
	domain.SelectObjects: func(dst *domain.State, src domain.State) {
		dst.Scene.Selections = existing(dst.Scene, src.Scene.Selections)
	},
	domain.SetActiveCamera: func(dst *domain.State, src domain.State) {
		id := src.Scene.ActiveCamera
		if o, ok := dst.Scene.Objects[id]; id == "" || (ok && o.Type == domain.ObjectCamera) {
			dst.Scene.ActiveCamera = id
		}
	},
}

// Carry returns restored with the fields owned by kinds taken from live.
// The store uses it so undo and redo leave untracked fields alone.
func Carry(restored, live domain.State, kinds []domain.Kind) domain.State {
	out := restored.Clone()
	for _, k := range kinds {
		if c, ok := carriers[k]; ok {
			c(&out, live)
		}
	}
	return out
}

// Apply returns the state that results from applying r to s. s is never modified.
func Apply(s domain.State, r domain.Record) domain.State {
	h, ok := handlers[r.Type]
	if !ok {
		return s
	}
	next, err := h(s.Clone(), r)
	if err != nil {
		applog.WithComponent("reducer").Debug("record ignored",
			slog.String("type", string(r.Type)), slog.String("id", r.ID), slog.Any("err", err))
		return s
	}
	return next
}

func setBoard(s domain.State, r domain.Record) (domain.State, error) {
	b, err := domain.DecodePayload[domain.Board](r)
	if err != nil {
		return s, err
	}
	s.Board = b
	return s, nil
}

func setAspectRatio(s domain.State, r domain.Record) (domain.State, error) {
	v, err := domain.DecodePayload[float64](r)
	if err != nil {
		return s, err
	}
	if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return s, errInvalid("aspect ratio must be positive")
	}
	s.AspectRatio = v
	return s, nil
}

func setLanguage(s domain.State, r domain.Record) (domain.State, error) {
	v, err := domain.DecodePayload[string](r)
	if err != nil {
		return s, err
	}
	tag, err := language.Parse(v)
	if err != nil {
		return s, err
	}
	s.Language = tag.String()
	return s, nil
}

func setFilePath(s domain.State, r domain.Record) (domain.State, error) {
	v, err := domain.DecodePayload[string](r)
	if err != nil {
		return s, err
	}
	s.Meta.FilePath = v
	return s, nil
}

func loadScene(s domain.State, r domain.Record) (domain.State, error) {
	sc, err := domain.DecodePayload[domain.Scene](r)
	if err != nil {
		return s, err
	}
	sc = sc.Clone()
	if sc.Objects == nil {
		sc.Objects = map[string]domain.SceneObject{}
	}
	sc.Selections = existing(sc, sc.Selections)
	if _, ok := sc.Objects[sc.ActiveCamera]; !ok {
		sc.ActiveCamera = ""
	}
	s.Scene = sc
	return s, nil
}

func createObject(s domain.State, r domain.Record) (domain.State, error) {
	o, err := domain.DecodePayload[domain.SceneObject](r)
	if err != nil {
		return s, err
	}
	if o.ID == "" {
		return s, errInvalid("object id is required")
	}
	if s.Scene.Objects == nil {
		s.Scene.Objects = map[string]domain.SceneObject{}
	}
	// Re-applying the same create is harmless: it overwrites with identical data.
	s.Scene.Objects[o.ID] = o
	return s, nil
}

func updateObject(s domain.State, r domain.Record) (domain.State, error) {
	p, err := domain.DecodePayload[domain.ObjectPatch](r)
	if err != nil {
		return s, err
	}
	o, ok := s.Scene.Objects[p.ID]
	if !ok {
		return s, errInvalid("unknown object " + p.ID)
	}
	if p.Name != nil {
		o.Name = *p.Name
	}
	if p.X != nil {
		o.X = *p.X
	}
	if p.Y != nil {
		o.Y = *p.Y
	}
	if p.Z != nil {
		o.Z = *p.Z
	}
	if p.Rotation != nil {
		o.Rotation = *p.Rotation
	}
	if p.Visible != nil {
		o.Visible = *p.Visible
	}
	s.Scene.Objects[p.ID] = o
	return s, nil
}

func deleteObjects(s domain.State, r domain.Record) (domain.State, error) {
	ids, err := domain.DecodePayload[[]string](r)
	if err != nil {
		return s, err
	}
	for _, id := range ids {
		delete(s.Scene.Objects, id)
		if s.Scene.ActiveCamera == id {
			s.Scene.ActiveCamera = ""
		}
	}
	s.Scene.Selections = existing(s.Scene, s.Scene.Selections)
	return s, nil
}

func selectObjects(s domain.State, r domain.Record) (domain.State, error) {
	ids, err := domain.DecodePayload[[]string](r)
	if err != nil {
		return s, err
	}
	s.Scene.Selections = existing(s.Scene, ids)
	return s, nil
}

func setActiveCamera(s domain.State, r domain.Record) (domain.State, error) {
	id, err := domain.DecodePayload[string](r)
	if err != nil {
		return s, err
	}
	o, ok := s.Scene.Objects[id]
	if !ok || o.Type != domain.ObjectCamera {
		return s, errInvalid("not a camera: " + id)
	}
	s.Scene.ActiveCamera = id
	return s, nil
}

func updateSkeleton(s domain.State, r domain.Record) (domain.State, error) {
	u, err := domain.DecodePayload[domain.SkeletonUpdate](r)
	if err != nil {
		return s, err
	}
	o, ok := s.Scene.Objects[u.ID]
	if !ok || o.Type != domain.ObjectCharacter {
		return s, errInvalid("not a character: " + u.ID)
	}
	o.Skeleton = append([]byte(nil), u.Skeleton...)
	s.Scene.Objects[u.ID] = o
	return s, nil
}

func setHover(s domain.State, r domain.Record) (domain.State, error) {
	if r.Payload == nil {
		s.Hover = ""
		return s, nil
	}
	v, err := domain.DecodePayload[string](r)
	if err != nil {
		return s, err
	}
	s.Hover = v
	return s, nil
}

// existing keeps the ids that name objects in sc, preserving order and dropping duplicates.
func existing(sc domain.Scene, ids []string) []string {
	out := []string{}
	for _, id := range ids {
		if _, ok := sc.Objects[id]; ok && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

type errInvalid string

func (e errInvalid) Error() string { return string(e) }
