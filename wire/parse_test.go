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
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxstream/voxstream/items"
)

func TestParseAudioDeltaDecodesBase64(t *testing.T) {
	event := ParseServerEvent(map[string]any{
		"type":          "response.audio.delta",
		"response_id":   "resp_1",
		"item_id":       "item_1",
		"content_index": float64(2),
		"delta":         base64.StdEncoding.EncodeToString([]byte("pcm")),
	})

	audioEvent, ok := event.(AudioEvent)
	require.True(t, ok)
	assert.Equal(t, []byte("pcm"), audioEvent.Data)
	assert.Equal(t, "resp_1", audioEvent.ResponseID)
	assert.Equal(t, "item_1", audioEvent.ItemID)
	assert.Equal(t, 2, audioEvent.ContentIndex)
}

func TestParseAudioDeltaFallsBackToOutputIndex(t *testing.T) {
	event := ParseServerEvent(map[string]any{
		"type":         "response.audio.delta",
		"item_id":      "item_1",
		"output_index": float64(3),
		"delta":        base64.StdEncoding.EncodeToString([]byte("x")),
	})
	require.IsType(t, AudioEvent{}, event)
	assert.Equal(t, 3, event.(AudioEvent).ContentIndex)

	// content_index wins when both are present.
	event = ParseServerEvent(map[string]any{
		"type":          "response.audio.delta",
		"item_id":       "item_1",
		"content_index": float64(1),
		"output_index":  float64(3),
		"delta":         base64.StdEncoding.EncodeToString([]byte("x")),
	})
	assert.Equal(t, 1, event.(AudioEvent).ContentIndex)
}

func TestParseAudioDeltaInvalidBase64(t *testing.T) {
	event := ParseServerEvent(map[string]any{
		"type":    "response.audio.delta",
		"item_id": "item_1",
		"delta":   "%%%not base64%%%",
	})
	require.IsType(t, ErrorEvent{}, event)
}

func TestParseToolCall(t *testing.T) {
	event := ParseServerEvent(map[string]any{
		"type":        "response.function_call_arguments.done",
		"response_id": "resp_1",
		"item_id":     "item_5",
		"call_id":     "call_5",
		"name":        "get_weather",
		"arguments":   `{"city":"Oslo"}`,
	})
	toolCall, ok := event.(ToolCallEvent)
	require.True(t, ok)
	assert.Equal(t, "get_weather", toolCall.Name)
	assert.Equal(t, "call_5", toolCall.CallID)
	assert.Equal(t, `{"city":"Oslo"}`, toolCall.Arguments)
}

func TestParseItemCreated(t *testing.T) {
	event := ParseServerEvent(map[string]any{
		"type":             "conversation.item.created",
		"previous_item_id": "item_0",
		"item": map[string]any{
			"type": "message",
			"id":   "item_1",
			"role": "user",
			"content": []any{
				map[string]any{"type": "input_text", "text": "hi"},
			},
		},
	})
	updated, ok := event.(ItemUpdatedEvent)
	require.True(t, ok)
	message, ok := updated.Item.(items.MessageItem)
	require.True(t, ok)
	assert.Equal(t, "item_1", message.ItemID)
	require.NotNil(t, message.PreviousItemID)
	assert.Equal(t, "item_0", *message.PreviousItemID)
}

func TestParseItemCreatedUnknownTypeToleratedAsOther(t *testing.T) {
	event := ParseServerEvent(map[string]any{
		"type": "conversation.item.created",
		"item": map[string]any{"type": "function_call_output", "call_id": "c"},
	})
	assert.IsType(t, OtherEvent{}, event)
}

func TestParseLifecycleEvents(t *testing.T) {
	assert.IsType(t, TurnStartedEvent{}, ParseServerEvent(map[string]any{"type": "response.created"}))
	assert.IsType(t, TurnEndedEvent{}, ParseServerEvent(map[string]any{"type": "response.done"}))
	assert.Equal(t,
		ItemDeletedEvent{ItemID: "item_2"},
		ParseServerEvent(map[string]any{"type": "conversation.item.deleted", "item_id": "item_2"}),
	)
	assert.Equal(t,
		InputAudioTranscriptionCompletedEvent{ItemID: "item_3", Transcript: "hello"},
		ParseServerEvent(map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"item_id":    "item_3",
			"transcript": "hello",
		}),
	)
	assert.Equal(t,
		AudioInterruptedEvent{ItemID: "item_4"},
		ParseServerEvent(map[string]any{
			"type":           "input_audio_buffer.speech_started",
			"item_id":        "item_4",
			"audio_start_ms": float64(100),
		}),
	)
	assert.Equal(t,
		InputAudioTimeoutTriggeredEvent{ItemID: "item_5", AudioStartMS: 0, AudioEndMS: 1500},
		ParseServerEvent(map[string]any{
			"type":           "input_audio_buffer.timeout_triggered",
			"item_id":        "item_5",
			"audio_start_ms": float64(0),
			"audio_end_ms":   float64(1500),
		}),
	)
}

func TestParseUnknownTypeNeverFails(t *testing.T) {
	event := ParseServerEvent(map[string]any{
		"type": "response.newfangled.delta",
		"blob": "whatever",
	})
	other, ok := event.(OtherEvent)
	require.True(t, ok)
	assert.Equal(t, "response.newfangled.delta", other.EventType)
	assert.Equal(t, "whatever", other.Payload["blob"])
}

func TestParseServerMessageMalformedJSON(t *testing.T) {
	assert.IsType(t, ErrorEvent{}, ParseServerMessage([]byte("{oops")))
	assert.IsType(t, ErrorEvent{}, ParseServerMessage([]byte(`{"no_type":true}`)))
}
