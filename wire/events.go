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

// Package wire implements the realtime wire-protocol codec: parsing raw
// server JSON into typed model events and serializing high-level commands
// into ordered client messages.
package wire

import "github.com/voxstream/voxstream/items"

// ConnectionStatus reports transport connection state changes.
type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

const (
	modelEventTypeConnectionStatus                 = "connection_status"
	modelEventTypeError                            = "error"
	modelEventTypeToolCall                         = "tool_call"
	modelEventTypeAudio                            = "audio"
	modelEventTypeAudioDone                        = "audio_done"
	modelEventTypeAudioInterrupted                 = "audio_interrupted"
	modelEventTypeTranscriptDelta                  = "transcript_delta"
	modelEventTypeItemUpdated                      = "item_updated"
	modelEventTypeItemDeleted                      = "item_deleted"
	modelEventTypeTurnStarted                      = "turn_started"
	modelEventTypeTurnEnded                        = "turn_ended"
	modelEventTypeInputAudioTranscriptionCompleted = "input_audio_transcription_completed"
	modelEventTypeInputAudioTimeoutTriggered       = "input_audio_timeout_triggered"
	modelEventTypeRawServerEvent                   = "raw_server_event"
	modelEventTypeOther                            = "other"
)

// ModelEvent is a typed, parsed representation of one inbound wire message.
type ModelEvent interface {
	Type() string
}

// ConnectionStatusEvent reports a transport connection state change. It is
// produced by the transport itself, never by the parser.
type ConnectionStatusEvent struct {
	Status ConnectionStatus
}

func (ConnectionStatusEvent) Type() string { return modelEventTypeConnectionStatus }

// ErrorEvent carries a server-reported or local decode error.
type ErrorEvent struct {
	Error any
}

func (ErrorEvent) Type() string { return modelEventTypeError }

// ToolCallEvent is emitted when the model requests a tool invocation.
type ToolCallEvent struct {
	ResponseID     string
	ItemID         string
	PreviousItemID *string
	CallID         string
	Name           string
	Arguments      string
}

func (ToolCallEvent) Type() string { return modelEventTypeToolCall }

// AudioEvent carries one decoded chunk of model output audio.
type AudioEvent struct {
	Data         []byte
	ResponseID   string
	ItemID       string
	ContentIndex int
}

func (AudioEvent) Type() string { return modelEventTypeAudio }

// AudioDoneEvent indicates the model finished generating audio for an item.
type AudioDoneEvent struct {
	ItemID       string
	ContentIndex int
}

func (AudioDoneEvent) Type() string { return modelEventTypeAudioDone }

// AudioInterruptedEvent indicates model audio was interrupted, typically by
// the user starting to speak.
type AudioInterruptedEvent struct {
	ItemID string
}

func (AudioInterruptedEvent) Type() string { return modelEventTypeAudioInterrupted }

// TranscriptDeltaEvent carries a partial output transcript.
type TranscriptDeltaEvent struct {
	ResponseID string
	ItemID     string
	Delta      string
}

func (TranscriptDeltaEvent) Type() string { return modelEventTypeTranscriptDelta }

// ItemUpdatedEvent indicates a conversation item was created or updated.
type ItemUpdatedEvent struct {
	Item items.Item
}

func (ItemUpdatedEvent) Type() string { return modelEventTypeItemUpdated }

// ItemDeletedEvent indicates a conversation item was deleted.
type ItemDeletedEvent struct {
	ItemID string
}

func (ItemDeletedEvent) Type() string { return modelEventTypeItemDeleted }

// TurnStartedEvent indicates the model started generating a response.
type TurnStartedEvent struct{}

func (TurnStartedEvent) Type() string { return modelEventTypeTurnStarted }

// TurnEndedEvent indicates the model finished a response.
type TurnEndedEvent struct{}

func (TurnEndedEvent) Type() string { return modelEventTypeTurnEnded }

// InputAudioTranscriptionCompletedEvent indicates a user audio item was
// transcribed server-side.
type InputAudioTranscriptionCompletedEvent struct {
	ItemID     string
	Transcript string
}

func (InputAudioTranscriptionCompletedEvent) Type() string {
	return modelEventTypeInputAudioTranscriptionCompleted
}

// InputAudioTimeoutTriggeredEvent indicates the server VAD idle timeout
// fired without user speech.
type InputAudioTimeoutTriggeredEvent struct {
	ItemID       string
	AudioStartMS int
	AudioEndMS   int
}

func (InputAudioTimeoutTriggeredEvent) Type() string {
	return modelEventTypeInputAudioTimeoutTriggered
}

// RawServerEvent carries one server payload verbatim, before typing.
type RawServerEvent struct {
	Data any
}

func (RawServerEvent) Type() string { return modelEventTypeRawServerEvent }

// OtherEvent is the catch-all for server event types this codec does not
// recognize. Unknown types decode here rather than failing, so protocol
// drift never kills a session.
type OtherEvent struct {
	EventType string
	Payload   map[string]any
}

func (OtherEvent) Type() string { return modelEventTypeOther }
