/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package window

import "storyboarder/internal/channel"

// ShowMessage asks a Secondary to show a board.
type ShowMessage struct {
	BoardUID string `json:"board_uid"`
}

// LanguageMessage announces the Primary's UI language.
type LanguageMessage struct {
	Language string `json:"language"`
	Origin   string `json:"origin"`
}

var ShowTopic = channel.NewTopic[ShowMessage]("store:show", `{
  "type": "object",
  "required": ["board_uid"],
  "properties": {"board_uid": {"type": "string"}}
}`)

var LanguageTopic = channel.NewTopic[LanguageMessage]("store:language-changed", `{
  "type": "object",
  "required": ["language", "origin"],
  "properties": {
    "language": {"type": "string", "minLength": 1},
    "origin":   {"type": "string", "minLength": 1}
  }
}`)
