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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/voxstream/voxstream/audio"
	"github.com/voxstream/voxstream/items"
)

// ParseServerMessage decodes one raw server payload into exactly one model
// event. It is total: malformed JSON yields an ErrorEvent, unknown event
// types yield an OtherEvent.
func ParseServerMessage(raw []byte) ModelEvent {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ErrorEvent{Error: fmt.Errorf("malformed server message: %w", err)}
	}
	return ParseServerEvent(payload)
}

// ParseServerEvent decodes one already-unmarshalled server payload into
// exactly one model event.
func ParseServerEvent(payload map[string]any) ModelEvent {
	eventType, _ := payload["type"].(string)
	if strings.TrimSpace(eventType) == "" {
		return ErrorEvent{Error: errors.New("missing required field type in server event")}
	}

	switch eventType {
	case "error":
		return ErrorEvent{Error: payload["error"]}

	case "response.audio.delta", "response.output_audio.delta":
		return parseAudioDelta(payload, eventType)

	case "response.audio.done", "response.output_audio.done":
		return AudioDoneEvent{
			ItemID:       stringField(payload, "item_id"),
			ContentIndex: contentIndexField(payload),
		}

	case "response.function_call_arguments.done":
		return ToolCallEvent{
			ResponseID:     stringField(payload, "response_id"),
			ItemID:         stringField(payload, "item_id"),
			PreviousItemID: stringPtrField(payload, "previous_item_id"),
			CallID:         stringField(payload, "call_id"),
			Name:           stringField(payload, "name"),
			Arguments:      stringField(payload, "arguments"),
		}

	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		return TranscriptDeltaEvent{
			ResponseID: stringField(payload, "response_id"),
			ItemID:     stringField(payload, "item_id"),
			Delta:      stringField(payload, "delta"),
		}

	case "conversation.item.created", "conversation.item.added":
		return parseItemCreated(payload, eventType)

	case "conversation.item.deleted":
		return ItemDeletedEvent{ItemID: stringField(payload, "item_id")}

	case "response.created":
		return TurnStartedEvent{}

	case "response.done":
		return TurnEndedEvent{}

	case "conversation.item.input_audio_transcription.completed":
		return InputAudioTranscriptionCompletedEvent{
			ItemID:     stringField(payload, "item_id"),
			Transcript: stringField(payload, "transcript"),
		}

	case "input_audio_buffer.speech_started":
		return AudioInterruptedEvent{ItemID: stringField(payload, "item_id")}

	case "input_audio_buffer.timeout_triggered":
		return InputAudioTimeoutTriggeredEvent{
			ItemID:       stringField(payload, "item_id"),
			AudioStartMS: intField(payload, "audio_start_ms"),
			AudioEndMS:   intField(payload, "audio_end_ms"),
		}

	default:
		return OtherEvent{EventType: eventType, Payload: payload}
	}
}

func parseAudioDelta(payload map[string]any, eventType string) ModelEvent {
	delta, ok := payload["delta"].(string)
	if !ok {
		return ErrorEvent{Error: fmt.Errorf("missing required field delta in %s", eventType)}
	}
	data, err := audio.DecodeBase64(delta)
	if err != nil {
		return ErrorEvent{Error: err}
	}
	return AudioEvent{
		Data:         data,
		ResponseID:   stringField(payload, "response_id"),
		ItemID:       stringField(payload, "item_id"),
		ContentIndex: contentIndexField(payload),
	}
}

func parseItemCreated(payload map[string]any, eventType string) ModelEvent {
	itemMap, ok := payload["item"].(map[string]any)
	if !ok {
		return ErrorEvent{Error: fmt.Errorf("missing required field item in %s", eventType)}
	}
	item, err := items.FromMap(itemMap)
	if err != nil {
		var unknownType *items.UnknownItemTypeError
		var unknownRole *items.UnknownRoleError
		// History-item types outside the model (e.g. function_call_output
		// echoes) are drift at the event level, not data corruption.
		if errors.As(err, &unknownType) || errors.As(err, &unknownRole) {
			return OtherEvent{EventType: eventType, Payload: payload}
		}
		return ErrorEvent{Error: err}
	}
	if message, ok := item.(items.MessageItem); ok {
		if previous := stringPtrField(payload, "previous_item_id"); previous != nil {
			message.PreviousItemID = previous
			item = message
		}
	}
	return ItemUpdatedEvent{Item: item}
}

// contentIndexField reads the audio content slot. The protocol has shipped
// both field names across versions; content_index wins when present.
func contentIndexField(payload map[string]any) int {
	if index, ok := numberField(payload, "content_index"); ok {
		return index
	}
	if index, ok := numberField(payload, "output_index"); ok {
		return index
	}
	return 0
}

func stringField(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return value
}

func stringPtrField(payload map[string]any, key string) *string {
	value, ok := payload[key].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func intField(payload map[string]any, key string) int {
	value, _ := numberField(payload, key)
	return value
}

func numberField(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(parsed), true
	default:
		return 0, false
	}
}
