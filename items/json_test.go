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

package items

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestRoundTripMessageVariants(t *testing.T) {
	completed := StatusCompleted
	variants := []Item{
		NewSystemMessage("sys_1", InputTextContent("be brief")),
		NewUserMessage("usr_1",
			InputTextContent("hello"),
			InputAudioContent("AAAA", strPtr("hello")),
			InputImageContent("https://example.com/cat.png", strPtr("low")),
		),
		func() Item {
			item := NewAssistantMessage("ast_1",
				TextContent("hi"),
				AudioContent("BBBB", strPtr("hi there")),
			)
			item.Status = &completed
			item.PreviousItemID = strPtr("usr_1")
			return item
		}(),
	}

	for _, original := range variants {
		data, err := ToJSON(original)
		require.NoError(t, err)
		parsed, err := FromJSON(data)
		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	}
}

func TestRoundTripToolCall(t *testing.T) {
	call := NewToolCall("item_9", "call_9", "get_weather", `{"city":"Oslo"}`)
	data, err := ToJSON(call)
	require.NoError(t, err)
	parsed, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, call, parsed)

	done := CompleteToolCall(call, "sunny")
	data, err = ToJSON(done)
	require.NoError(t, err)
	parsed, err = FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, done, parsed)
	assert.Equal(t, ToolCallCompleted, parsed.(ToolCallItem).Status)
}

func TestFromMapUnknownTypeIsHardFailure(t *testing.T) {
	_, err := FromMap(map[string]any{"type": "hologram"})
	require.Error(t, err)
	var unknownErr *UnknownItemTypeError
	require.True(t, errors.As(err, &unknownErr))
	assert.Equal(t, "hologram", unknownErr.Type)

	_, err = FromMap(map[string]any{"type": "message", "role": "narrator"})
	var roleErr *UnknownRoleError
	require.True(t, errors.As(err, &roleErr))
	assert.Equal(t, "narrator", roleErr.Role)
}

func TestFromMapAcceptsBareIDKey(t *testing.T) {
	item, err := FromMap(map[string]any{
		"type": "message",
		"id":   "msg_1",
		"role": "user",
		"content": []any{
			map[string]any{"type": "input_text", "text": "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_1", item.ID())
}

func TestFromMapNormalizesOutputContentTypes(t *testing.T) {
	item, err := FromMap(map[string]any{
		"type": "message",
		"id":   "msg_2",
		"role": "assistant",
		"content": []any{
			map[string]any{"type": "output_text", "text": "hi"},
			map[string]any{"type": "output_audio", "transcript": "hi"},
		},
	})
	require.NoError(t, err)
	message := item.(MessageItem)
	require.Len(t, message.Content, 2)
	assert.Equal(t, ContentText, message.Content[0].Type)
	assert.Equal(t, ContentAudio, message.Content[1].Type)
}

func TestFromJSONMalformed(t *testing.T) {
	_, err := FromJSON([]byte("{not json"))
	assert.Error(t, err)
}
