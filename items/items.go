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

// Package items models conversation history entries and their lossless
// two-way mapping to wire JSON.
package items

import "fmt"

// Role is the author of a message item.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks item completion on the server side.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Content part types. Input parts travel client-to-server, plain text/audio
// parts are assistant output.
const (
	ContentInputText  = "input_text"
	ContentInputAudio = "input_audio"
	ContentInputImage = "input_image"
	ContentText       = "text"
	ContentAudio      = "audio"
)

// Content is one content part of a message item.
type Content struct {
	Type       string
	Text       *string
	Audio      *string
	Transcript *string
	ImageURL   *string
	Detail     *string
}

// TextContent builds an assistant text part.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: &text}
}

// AudioContent builds an assistant audio part with a base64 payload and an
// optional transcript.
func AudioContent(audioB64 string, transcript *string) Content {
	return Content{Type: ContentAudio, Audio: &audioB64, Transcript: transcript}
}

// TranscriptOnlyAudioContent builds an assistant audio part that carries a
// transcript but no payload, used for streaming transcript accumulation.
func TranscriptOnlyAudioContent(transcript string) Content {
	return Content{Type: ContentAudio, Transcript: &transcript}
}

// InputTextContent builds a user text part.
func InputTextContent(text string) Content {
	return Content{Type: ContentInputText, Text: &text}
}

// InputAudioContent builds a user audio part.
func InputAudioContent(audioB64 string, transcript *string) Content {
	return Content{Type: ContentInputAudio, Audio: &audioB64, Transcript: transcript}
}

// InputImageContent builds a user image part.
func InputImageContent(imageURL string, detail *string) Content {
	return Content{Type: ContentInputImage, ImageURL: &imageURL, Detail: detail}
}

// Item is one persisted conversation history entry.
type Item interface {
	// ID returns the stable item identifier history is keyed by.
	ID() string
	itemType() string
}

// MessageItem is a system/user/assistant message.
type MessageItem struct {
	ItemID         string
	PreviousItemID *string
	Role           Role
	Status         *Status
	Content        []Content
}

func (m MessageItem) ID() string { return m.ItemID }
func (MessageItem) itemType() string { return "message" }

// ToolCallStatus tracks tool invocation progress.
type ToolCallStatus string

const (
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
)

// ToolCallItem records one model-issued tool call and, once available, its
// output.
type ToolCallItem struct {
	ItemID         string
	PreviousItemID *string
	CallID         string
	Name           string
	Arguments      string
	Status         ToolCallStatus
	Output         *string
}

func (c ToolCallItem) ID() string { return c.ItemID }
func (ToolCallItem) itemType() string { return "function_call" }

// NewMessage constructs a message item. Content must not be empty.
func NewMessage(itemID string, role Role, content ...Content) MessageItem {
	return MessageItem{ItemID: itemID, Role: role, Content: content}
}

// NewSystemMessage constructs a system message item.
func NewSystemMessage(itemID string, content ...Content) MessageItem {
	return NewMessage(itemID, RoleSystem, content...)
}

// NewUserMessage constructs a user message item.
func NewUserMessage(itemID string, content ...Content) MessageItem {
	return NewMessage(itemID, RoleUser, content...)
}

// NewAssistantMessage constructs an assistant message item.
func NewAssistantMessage(itemID string, content ...Content) MessageItem {
	return NewMessage(itemID, RoleAssistant, content...)
}

// NewToolCall constructs an in-progress tool call record.
func NewToolCall(itemID, callID, name, arguments string) ToolCallItem {
	return ToolCallItem{
		ItemID:    itemID,
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
		Status:    ToolCallInProgress,
	}
}

// CompleteToolCall returns a copy of the call marked completed with output.
func CompleteToolCall(call ToolCallItem, output string) ToolCallItem {
	call.Status = ToolCallCompleted
	call.Output = &output
	return call
}

// UnknownItemTypeError reports a history item payload whose discriminant is
// not part of the model. Unlike event parsing, this is a hard failure: an
// unparseable history item is a data-integrity problem the caller must see.
type UnknownItemTypeError struct {
	Type string
}

func (e *UnknownItemTypeError) Error() string {
	return fmt.Sprintf("unknown conversation item type %q", e.Type)
}

// UnknownRoleError reports a message item with an unsupported role.
type UnknownRoleError struct {
	Role string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown message role %q", e.Role)
}
