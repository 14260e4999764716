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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Kind tags a transition record. The set is open: kinds unknown to a window are no-ops there.
type Kind string

const (
	SetBoard                Kind = "SET_BOARD"
	SetAspectRatio          Kind = "SET_ASPECT_RATIO"
	SetCurrentLanguage      Kind = "SET_CURRENT_LANGUAGE"
	SetMetaFilePath         Kind = "SET_META_FILE_PATH"
	LoadScene               Kind = "LOAD_SCENE"
	CreateObject            Kind = "CREATE_OBJECT"
	UpdateObject            Kind = "UPDATE_OBJECT"
	DeleteObjects           Kind = "DELETE_OBJECTS"
	SelectObjects           Kind = "SELECT_OBJECTS"
	SetActiveCamera         Kind = "SET_ACTIVE_CAMERA"
	UpdateCharacterSkeleton Kind = "UPDATE_CHARACTER_SKELETON"
	SetHover                Kind = "SET_HOVER"
	Undo                    Kind = "UNDO"
	Redo                    Kind = "REDO"
)

// IsHistoryMove reports whether k moves the history cursor instead of going through the reducer.
func (k Kind) IsHistoryMove() bool { return k == Undo || k == Redo }

// Record is one state transition. ID and Origin identify it across windows;
// Payload must be JSON-encodable to be forwarded.
// Snapshot records carry the sender's current state during a resync. They are
// applied without an undo step and reset the receiver's history.
type Record struct {
	ID       string `json:"id"`
	Origin   string `json:"origin,omitempty"`
	Type     Kind   `json:"type"`
	Payload  any    `json:"payload,omitempty"`
	Snapshot bool   `json:"snapshot,omitempty"`
}

// NewRecord creates a record with a fresh, time-ordered id.
// Origin is filled in by the window that dispatches it.
func NewRecord(kind Kind, payload any) Record {
	return Record{ID: NewID(), Type: kind, Payload: payload}
}

// NewID returns a fresh record id.
func NewID() string { return ulid.Make().String() }

// NewWindowID returns a random identifier for a window instance.
func NewWindowID() string { return uuid.NewString() }

// ErrNoPayload is returned by DecodePayload for records without a payload.
var ErrNoPayload = errors.New("record has no payload")

// DecodePayload converts the payload of r into T. Payloads created locally are
// usually already a T; payloads received from a peer arrive as json.RawMessage.
func DecodePayload[T any](r Record) (T, error) {
	var out T
	switch p := r.Payload.(type) {
	case nil:
		return out, ErrNoPayload
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, ErrNoPayload
		}
		return *p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &out); err != nil {
			return out, fmt.Errorf("decode %s payload: %w", r.Type, err)
		}
		return out, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return out, fmt.Errorf("encode %s payload: %w", r.Type, err)
		}
		if err := json.Unmarshal(b, &out); err != nil {
			return out, fmt.Errorf("decode %s payload: %w", r.Type, err)
		}
		return out, nil
	}
}
