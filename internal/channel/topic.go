/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	applog "storyboarder/internal/log"
)

// Topic binds a channel name to a payload type and an optional JSON schema.
// The schema is checked on receive, so a peer running another build cannot feed
// a handler a payload of the wrong shape.
type Topic[T any] struct {
	Name   string
	schema *gojsonschema.Schema
}

// NewTopic creates a topic. schema may be empty. It panics if the schema does not
// compile; topics are declared as package variables.
func NewTopic[T any](name, schema string) Topic[T] {
	t := Topic[T]{Name: name}
	if strings.TrimSpace(schema) != "" {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
		if err != nil {
			panic(fmt.Sprintf("topic %s: invalid schema: %v", name, err))
		}
		t.schema = s
	}
	return t
}

// Encode serializes msg for this topic.
func (t Topic[T]) Encode(msg T) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.Name, err)
	}
	return b, nil
}

// Decode validates data against the schema and deserializes it.
func (t Topic[T]) Decode(data []byte) (T, error) {
	var out T
	if t.schema != nil {
		res, err := t.schema.Validate(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return out, fmt.Errorf("validate %s: %w", t.Name, err)
		}
		if !res.Valid() {
			msgs := make([]string, 0, len(res.Errors()))
			for _, e := range res.Errors() {
				msgs = append(msgs, e.String())
			}
			return out, fmt.Errorf("validate %s: %s", t.Name, strings.Join(msgs, "; "))
		}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", t.Name, err)
	}
	return out, nil
}

// Send encodes msg and sends it on c. Only encoding can fail; delivery is best effort.
func (t Topic[T]) Send(c Channel, msg T) error {
	if c == nil {
		return nil
	}
	b, err := t.Encode(msg)
	if err != nil {
		return err
	}
	c.Send(t.Name, b)
	return nil
}

// Subscribe registers h for this topic on c. Messages that fail validation are
// logged and dropped.
func (t Topic[T]) Subscribe(c Channel, h func(T)) Subscription {
	return t.Listen(c, h, nil)
}

// Listen is Subscribe with a callback for rejected messages.
func (t Topic[T]) Listen(c Channel, h func(T), reject func(error)) Subscription {
	l := applog.WithComponent("channel").With(slog.String("channel", t.Name))
	return c.OnReceive(t.Name, func(data []byte) {
		msg, err := t.Decode(data)
		if err != nil {
			l.Warn("message rejected", slog.Any("err", err))
			if reject != nil {
				reject(err)
			}
			return
		}
		h(msg)
	})
}
