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

import (
	"encoding/json"
	"errors"
	"fmt"

	"storyboarder/internal/channel"
	"storyboarder/internal/domain"
)

// Envelope is the wire form of a record on the store:update channel.
// When Flat is set, Payload is a JSON string holding the encoded payload; large
// binary-bearing payloads travel this way so the receiver rebuilds them byte for byte.
// Snapshot marks records sent by a resync.
type Envelope struct {
	ID       string          `json:"id"`
	Origin   string          `json:"origin"`
	Type     domain.Kind     `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Flat     bool            `json:"flat,omitempty"`
	Snapshot bool            `json:"snapshot,omitempty"`
}

const envelopeSchema = `{
  "type": "object",
  "required": ["id", "origin", "type"],
  "properties": {
    "id":       {"type": "string", "minLength": 1},
    "origin":   {"type": "string", "minLength": 1},
    "type":     {"type": "string", "minLength": 1},
    "flat":     {"type": "boolean"},
    "snapshot": {"type": "boolean"}
  }
}`

// UpdateTopic carries replicated records in both directions.
var UpdateTopic = channel.NewTopic[Envelope]("store:update", envelopeSchema)

// Encode converts r to its wire form. It fails if the payload cannot be serialized.
func Encode(r domain.Record, flatten bool) (Envelope, error) {
	env := Envelope{ID: r.ID, Origin: r.Origin, Type: r.Type, Snapshot: r.Snapshot}
	if r.Payload == nil {
		return env, nil
	}
	p, err := json.Marshal(r.Payload)
	if err != nil {
		return env, fmt.Errorf("encode %s payload: %w", r.Type, err)
	}
	if flatten {
		s, err := json.Marshal(string(p))
		if err != nil {
			return env, fmt.Errorf("flatten %s payload: %w", r.Type, err)
		}
		p, env.Flat = s, true
	}
	env.Payload = p
	return env, nil
}

// Decode converts an envelope back into a record with a json.RawMessage payload.
func Decode(env Envelope) (domain.Record, error) {
	r := domain.Record{ID: env.ID, Origin: env.Origin, Type: env.Type, Snapshot: env.Snapshot}
	p := env.Payload
	if env.Flat && len(p) > 0 {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return r, fmt.Errorf("unflatten %s payload: %w", env.Type, err)
		}
		if !json.Valid([]byte(s)) {
			return r, errors.New("unflatten " + string(env.Type) + " payload: not JSON")
		}
		p = json.RawMessage(s)
	}
	if len(p) > 0 && string(p) != "null" {
		r.Payload = p
	}
	return r, nil
}
