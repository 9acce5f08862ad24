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
	"encoding/json"
	"fmt"
)

// ToMap serializes any item variant into its wire JSON shape. Total over the
// model: every constructed item has a map form.
func ToMap(item Item) map[string]any {
	switch v := item.(type) {
	case MessageItem:
		return messageToMap(v)
	case *MessageItem:
		if v == nil {
			return nil
		}
		return messageToMap(*v)
	case ToolCallItem:
		return toolCallToMap(v)
	case *ToolCallItem:
		if v == nil {
			return nil
		}
		return toolCallToMap(*v)
	default:
		return nil
	}
}

// ToJSON serializes an item to wire JSON bytes.
func ToJSON(item Item) ([]byte, error) {
	payload := ToMap(item)
	if payload == nil {
		return nil, fmt.Errorf("cannot serialize nil conversation item")
	}
	return json.Marshal(payload)
}

// FromMap parses a wire item payload into a typed item. Unknown item
// discriminants fail with *UnknownItemTypeError.
func FromMap(payload map[string]any) (Item, error) {
	if payload == nil {
		return nil, &UnknownItemTypeError{Type: ""}
	}
	itemType, _ := payload["type"].(string)
	switch itemType {
	case "message":
		return messageFromMap(payload)
	case "function_call":
		return toolCallFromMap(payload)
	default:
		return nil, &UnknownItemTypeError{Type: itemType}
	}
}

// FromJSON parses wire JSON bytes into a typed item.
func FromJSON(data []byte) (Item, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("malformed conversation item JSON: %w", err)
	}
	return FromMap(payload)
}

func messageToMap(item MessageItem) map[string]any {
	payload := map[string]any{
		"type":    "message",
		"item_id": item.ItemID,
		"role":    string(item.Role),
	}
	if item.PreviousItemID != nil {
		payload["previous_item_id"] = *item.PreviousItemID
	}
	if item.Status != nil {
		payload["status"] = string(*item.Status)
	}
	content := make([]any, 0, len(item.Content))
	for _, part := range item.Content {
		content = append(content, contentToMap(part))
	}
	payload["content"] = content
	return payload
}

func contentToMap(part Content) map[string]any {
	payload := map[string]any{"type": part.Type}
	if part.Text != nil {
		payload["text"] = *part.Text
	}
	if part.Audio != nil {
		payload["audio"] = *part.Audio
	}
	if part.Transcript != nil {
		payload["transcript"] = *part.Transcript
	}
	if part.ImageURL != nil {
		payload["image_url"] = *part.ImageURL
	}
	if part.Detail != nil {
		payload["detail"] = *part.Detail
	}
	return payload
}

func toolCallToMap(item ToolCallItem) map[string]any {
	payload := map[string]any{
		"type":      "function_call",
		"item_id":   item.ItemID,
		"call_id":   item.CallID,
		"name":      item.Name,
		"arguments": item.Arguments,
		"status":    string(item.Status),
	}
	if item.PreviousItemID != nil {
		payload["previous_item_id"] = *item.PreviousItemID
	}
	if item.Output != nil {
		payload["output"] = *item.Output
	}
	return payload
}

func messageFromMap(payload map[string]any) (MessageItem, error) {
	role, _ := payload["role"].(string)
	switch Role(role) {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return MessageItem{}, &UnknownRoleError{Role: role}
	}

	item := MessageItem{
		ItemID:         itemIDFromMap(payload),
		PreviousItemID: stringPtrField(payload, "previous_item_id"),
		Role:           Role(role),
	}
	if status := stringPtrField(payload, "status"); status != nil {
		s := Status(*status)
		item.Status = &s
	}

	rawContent, _ := payload["content"].([]any)
	item.Content = make([]Content, 0, len(rawContent))
	for _, rawPart := range rawContent {
		partMap, ok := rawPart.(map[string]any)
		if !ok {
			continue
		}
		item.Content = append(item.Content, contentFromMap(partMap))
	}
	return item, nil
}

func contentFromMap(payload map[string]any) Content {
	partType, _ := payload["type"].(string)
	switch partType {
	case "output_text":
		partType = ContentText
	case "output_audio":
		partType = ContentAudio
	}
	return Content{
		Type:       partType,
		Text:       stringPtrField(payload, "text"),
		Audio:      stringPtrField(payload, "audio"),
		Transcript: stringPtrField(payload, "transcript"),
		ImageURL:   stringPtrField(payload, "image_url"),
		Detail:     stringPtrField(payload, "detail"),
	}
}

func toolCallFromMap(payload map[string]any) (ToolCallItem, error) {
	callID, _ := payload["call_id"].(string)
	name, _ := payload["name"].(string)
	arguments, _ := payload["arguments"].(string)
	status, _ := payload["status"].(string)
	if status == "" {
		status = string(ToolCallInProgress)
	}
	return ToolCallItem{
		ItemID:         itemIDFromMap(payload),
		PreviousItemID: stringPtrField(payload, "previous_item_id"),
		CallID:         callID,
		Name:           name,
		Arguments:      arguments,
		Status:         ToolCallStatus(status),
		Output:         stringPtrField(payload, "output"),
	}, nil
}

// itemIDFromMap reads the item identifier, accepting both the "item_id" key
// used in event payloads and the bare "id" used inside item envelopes.
func itemIDFromMap(payload map[string]any) string {
	if id, ok := payload["item_id"].(string); ok && id != "" {
		return id
	}
	id, _ := payload["id"].(string)
	return id
}

func stringPtrField(payload map[string]any, key string) *string {
	value, ok := payload[key].(string)
	if !ok {
		return nil
	}
	return &value
}
