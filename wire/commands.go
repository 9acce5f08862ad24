// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/voxstream/voxstream/audio"
	"github.com/voxstream/voxstream/items"
)

// Command is a high-level client intent. Each command serializes to one or
// more physical wire messages in a fixed order.
type Command interface {
	command()
}

// SendAudio appends audio to the input buffer, optionally committing it.
type SendAudio struct {
	Audio  []byte
	Commit bool
}

func (SendAudio) command() {}

// SendMessage creates a user conversation item.
//
// Input accepts:
// 1. string — wrapped as a single-content user text message
// 2. items.MessageItem — passed through inside the same envelope
// 3. map[string]any — pre-structured item payload, passed through
type SendMessage struct {
	Input any
}

func (SendMessage) command() {}

// SendToolOutput reports a tool result for a model-issued call. Unless
// TriggerResponse is disabled, it also asks the model to continue generating.
type SendToolOutput struct {
	CallID          string
	Output          string
	TriggerResponse bool
}

func (SendToolOutput) command() {}

// SendInterrupt cancels the in-flight model response.
type SendInterrupt struct{}

func (SendInterrupt) command() {}

// SendSessionUpdate pushes new session settings to the server.
type SendSessionUpdate struct {
	Settings SessionSettings
}

func (SendSessionUpdate) command() {}

// SendRaw passes a raw client event through, validated against the known
// client event set.
type SendRaw struct {
	EventType string
	Data      map[string]any
}

func (SendRaw) command() {}

var supportedRawClientEventTypes = map[string]struct{}{
	"session.update":             {},
	"response.create":            {},
	"response.cancel":            {},
	"conversation.item.create":   {},
	"conversation.item.retrieve": {},
	"conversation.item.truncate": {},
	"input_audio_buffer.append":  {},
	"input_audio_buffer.commit":  {},
	"input_audio_buffer.clear":   {},
}

// MarshalCommand expands a command into its ordered wire messages.
func MarshalCommand(cmd Command) ([]map[string]any, error) {
	switch c := cmd.(type) {
	case SendAudio:
		messages := []map[string]any{{
			"type":  "input_audio_buffer.append",
			"audio": audio.EncodeBase64(c.Audio),
		}}
		if c.Commit {
			messages = append(messages, map[string]any{"type": "input_audio_buffer.commit"})
		}
		return messages, nil

	case SendMessage:
		item, err := userInputToItem(c.Input)
		if err != nil {
			return nil, err
		}
		return []map[string]any{{
			"type": "conversation.item.create",
			"item": item,
		}}, nil

	case SendToolOutput:
		if strings.TrimSpace(c.CallID) == "" {
			return nil, errors.New("tool output requires a call id")
		}
		messages := []map[string]any{{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": c.CallID,
				"output":  c.Output,
			},
		}}
		if c.TriggerResponse {
			messages = append(messages, map[string]any{"type": "response.create"})
		}
		return messages, nil

	case SendInterrupt:
		return []map[string]any{{"type": "response.cancel"}}, nil

	case SendSessionUpdate:
		return []map[string]any{{
			"type":    "session.update",
			"session": c.Settings.ToMap(),
		}}, nil

	case SendRaw:
		eventType := strings.TrimSpace(c.EventType)
		if eventType == "" {
			return nil, errors.New("raw client event requires a type")
		}
		if _, supported := supportedRawClientEventTypes[eventType]; !supported {
			return nil, fmt.Errorf("unsupported raw client event type %q", eventType)
		}
		payload := map[string]any{"type": eventType}
		for key, value := range c.Data {
			payload[key] = value
		}
		return []map[string]any{payload}, nil

	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}

// TruncateMessage builds a conversation.item.truncate payload reporting how
// much audio was actually played before an interruption.
func TruncateMessage(itemID string, contentIndex int, audioEndMS int) map[string]any {
	return map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": contentIndex,
		"audio_end_ms":  audioEndMS,
	}
}

func userInputToItem(input any) (map[string]any, error) {
	switch v := input.(type) {
	case string:
		return map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": v},
			},
		}, nil
	case items.MessageItem:
		return items.ToMap(v), nil
	case *items.MessageItem:
		if v == nil {
			return nil, errors.New("nil message item")
		}
		return items.ToMap(v), nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported message input %T", input)
	}
}
