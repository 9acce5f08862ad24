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

package realtime

import (
	"github.com/voxstream/voxstream/items"
	"github.com/voxstream/voxstream/wire"
)

const (
	sessionEventTypeAgentStart                 = "agent_start"
	sessionEventTypeAgentEnd                   = "agent_end"
	sessionEventTypeHandoff                    = "handoff"
	sessionEventTypeToolStart                  = "tool_start"
	sessionEventTypeToolEnd                    = "tool_end"
	sessionEventTypeRawModelEvent              = "raw_model_event"
	sessionEventTypeAudio                      = "audio"
	sessionEventTypeAudioEnd                   = "audio_end"
	sessionEventTypeAudioInterrupted           = "audio_interrupted"
	sessionEventTypeError                      = "error"
	sessionEventTypeHistoryUpdated             = "history_updated"
	sessionEventTypeHistoryAdded               = "history_added"
	sessionEventTypeGuardrailTripped           = "guardrail_tripped"
	sessionEventTypeInputAudioTimeoutTriggered = "input_audio_timeout_triggered"
)

// EventInfo stores common metadata attached to every session event.
type EventInfo struct {
	Context map[string]any
}

// SessionEvent is emitted by sessions for high-level lifecycle updates.
type SessionEvent interface {
	Type() string
}

// AgentStartEvent indicates a new active agent.
type AgentStartEvent struct {
	Agent *Agent
	Info  EventInfo
}

func (AgentStartEvent) Type() string { return sessionEventTypeAgentStart }

// AgentEndEvent indicates an agent turn end.
type AgentEndEvent struct {
	Agent *Agent
	Info  EventInfo
}

func (AgentEndEvent) Type() string { return sessionEventTypeAgentEnd }

// HandoffEvent indicates a handoff between agents.
type HandoffEvent struct {
	FromAgent *Agent
	ToAgent   *Agent
	Info      EventInfo
}

func (HandoffEvent) Type() string { return sessionEventTypeHandoff }

// ToolStartEvent indicates a tool call start.
type ToolStartEvent struct {
	Agent     *Agent
	Tool      Tool
	Arguments string
	Info      EventInfo
}

func (ToolStartEvent) Type() string { return sessionEventTypeToolStart }

// ToolEndEvent indicates a tool call end.
type ToolEndEvent struct {
	Agent     *Agent
	Tool      Tool
	Arguments string
	Output    string
	Info      EventInfo
}

func (ToolEndEvent) Type() string { return sessionEventTypeToolEnd }

// RawModelEvent forwards a model event as received from the transport.
type RawModelEvent struct {
	Data wire.ModelEvent
	Info EventInfo
}

func (RawModelEvent) Type() string { return sessionEventTypeRawModelEvent }

// AudioEvent wraps one chunk of decoded model output audio.
type AudioEvent struct {
	Audio        wire.AudioEvent
	ItemID       string
	ContentIndex int
	Info         EventInfo
}

func (AudioEvent) Type() string { return sessionEventTypeAudio }

// AudioEndEvent indicates output audio completion for an item.
type AudioEndEvent struct {
	ItemID       string
	ContentIndex int
	Info         EventInfo
}

func (AudioEndEvent) Type() string { return sessionEventTypeAudioEnd }

// AudioInterruptedEvent indicates barge-in interruption.
type AudioInterruptedEvent struct {
	ItemID string
	Info   EventInfo
}

func (AudioInterruptedEvent) Type() string { return sessionEventTypeAudioInterrupted }

// ErrorEvent indicates a session-level error.
type ErrorEvent struct {
	Error any
	Info  EventInfo
}

func (ErrorEvent) Type() string { return sessionEventTypeError }

// HistoryUpdatedEvent contains the full latest history snapshot.
type HistoryUpdatedEvent struct {
	History []items.Item
	Info    EventInfo
}

func (HistoryUpdatedEvent) Type() string { return sessionEventTypeHistoryUpdated }

// HistoryAddedEvent indicates one new history item.
type HistoryAddedEvent struct {
	Item items.Item
	Info EventInfo
}

func (HistoryAddedEvent) Type() string { return sessionEventTypeHistoryAdded }

// GuardrailTrippedEvent indicates an output guardrail interruption.
type GuardrailTrippedEvent struct {
	GuardrailResults []GuardrailResult
	Message          string
	Info             EventInfo
}

func (GuardrailTrippedEvent) Type() string { return sessionEventTypeGuardrailTripped }

// InputAudioTimeoutTriggeredEvent indicates user input inactivity timeout.
type InputAudioTimeoutTriggeredEvent struct {
	Info EventInfo
}

func (InputAudioTimeoutTriggeredEvent) Type() string {
	return sessionEventTypeInputAudioTimeoutTriggered
}
