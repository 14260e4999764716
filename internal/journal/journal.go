/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package journal keeps a diagnostic log of the records a window applied.
// Entries are written asynchronously by Writer and read back with Recent, for
// crash reports and for the CLI. The journal is never consulted to rebuild state.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"storyboarder/internal/domain"
)

// Entry is one applied record.
type Entry struct {
	Seq     int64           `json:"seq"`
	ID      string          `json:"id"`
	Origin  string          `json:"origin"`
	Kind    domain.Kind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      time.Time       `json:"ts"`
}

// Sink stores entries.
type Sink interface {
	Append(ctx context.Context, entries []Entry) error
	// Recent returns up to n entries, oldest first, ending with the newest.
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// EntryFor builds an entry for r. A payload that cannot be encoded is stored as null.
func EntryFor(r domain.Record, ts time.Time) Entry {
	e := Entry{ID: r.ID, Origin: r.Origin, Kind: r.Type, TS: ts.UTC()}
	switch p := r.Payload.(type) {
	case nil:
	case json.RawMessage:
		e.Payload = append(json.RawMessage(nil), p...)
	default:
		if b, err := json.Marshal(p); err == nil {
			e.Payload = b
		}
	}
	return e
}
