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

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSendAudioCommitted(t *testing.T) {
	messages, err := MarshalCommand(SendAudio{Audio: []byte("abcd"), Commit: true})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "input_audio_buffer.append", messages[0]["type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("abcd")), messages[0]["audio"])
	assert.Equal(t, "input_audio_buffer.commit", messages[1]["type"])
}

func TestMarshalSendAudioUncommitted(t *testing.T) {
	messages, err := MarshalCommand(SendAudio{Audio: []byte("abcd")})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "input_audio_buffer.append", messages[0]["type"])
}

func TestMarshalSendMessagePlainText(t *testing.T) {
	messages, err := MarshalCommand(SendMessage{Input: "hello there"})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "conversation.item.create", messages[0]["type"])

	item := messages[0]["item"].(map[string]any)
	assert.Equal(t, "message", item["type"])
	assert.Equal(t, "user", item["role"])
	content := item["content"].([]map[string]any)
	require.Len(t, content, 1)
	assert.Equal(t, "input_text", content[0]["type"])
	assert.Equal(t, "hello there", content[0]["text"])
}

func TestMarshalSendMessageStructuredPassthrough(t *testing.T) {
	structured := map[string]any{
		"type": "message",
		"role": "user",
		"content": []any{
			map[string]any{"type": "input_image", "image_url": "https://example.com/a.png"},
		},
	}
	messages, err := MarshalCommand(SendMessage{Input: structured})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, structured, messages[0]["item"])
}

func TestMarshalToolOutputTriggersResponse(t *testing.T) {
	messages, err := MarshalCommand(SendToolOutput{
		CallID:          "call_1",
		Output:          "42",
		TriggerResponse: true,
	})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "conversation.item.create", messages[0]["type"])
	item := messages[0]["item"].(map[string]any)
	assert.Equal(t, "function_call_output", item["type"])
	assert.Equal(t, "call_1", item["call_id"])
	assert.Equal(t, "42", item["output"])
	assert.Equal(t, "response.create", messages[1]["type"])
}

func TestMarshalToolOutputSuppressedTrigger(t *testing.T) {
	messages, err := MarshalCommand(SendToolOutput{CallID: "call_1", Output: "42"})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "conversation.item.create", messages[0]["type"])

	_, err = MarshalCommand(SendToolOutput{Output: "42"})
	assert.Error(t, err)
}

func TestMarshalInterruptAndSessionUpdate(t *testing.T) {
	messages, err := MarshalCommand(SendInterrupt{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "response.cancel", messages[0]["type"])

	messages, err = MarshalCommand(SendSessionUpdate{
		Settings: SessionSettings{Instructions: param.NewOpt("be nice")},
	})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "session.update", messages[0]["type"])
	session := messages[0]["session"].(map[string]any)
	assert.Equal(t, "be nice", session["instructions"])
}

func TestMarshalSendRawValidatesType(t *testing.T) {
	messages, err := MarshalCommand(SendRaw{
		EventType: "conversation.item.retrieve",
		Data:      map[string]any{"item_id": "item_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "conversation.item.retrieve", messages[0]["type"])
	assert.Equal(t, "item_1", messages[0]["item_id"])

	_, err = MarshalCommand(SendRaw{EventType: "session.hijack"})
	assert.Error(t, err)
	_, err = MarshalCommand(SendRaw{})
	assert.Error(t, err)
}

func TestTruncateMessage(t *testing.T) {
	payload := TruncateMessage("item_1", 0, 1250)
	assert.Equal(t, "conversation.item.truncate", payload["type"])
	assert.Equal(t, "item_1", payload["item_id"])
	assert.Equal(t, 0, payload["content_index"])
	assert.Equal(t, 1250, payload["audio_end_ms"])
}
