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
	"slices"

	"github.com/openai/openai-go/v3/packages/param"
)

// ToolDefinition describes one callable tool in the session settings.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// AudioTranscription configures server-side input transcription.
type AudioTranscription struct {
	Language param.Opt[string]
	Model    param.Opt[string]
	Prompt   param.Opt[string]
}

// NoiseReduction configures input noise reduction.
type NoiseReduction struct {
	Type string // near_field | far_field
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string // semantic_vad | server_vad
	CreateResponse    param.Opt[bool]
	Eagerness         param.Opt[string]
	InterruptResponse param.Opt[bool]
	PrefixPaddingMS   param.Opt[int64]
	SilenceDurationMS param.Opt[int64]
	Threshold         param.Opt[float64]
	IdleTimeoutMS     param.Opt[int64]
}

// SessionSettings is the session.update settings object. Zero values are
// omitted from the wire payload.
type SessionSettings struct {
	Model                    param.Opt[string]
	Instructions             param.Opt[string]
	Modalities               []string
	Voice                    param.Opt[string]
	Speed                    param.Opt[float64]
	InputAudioFormat         param.Opt[string]
	OutputAudioFormat        param.Opt[string]
	InputAudioTranscription  *AudioTranscription
	InputAudioNoiseReduction *NoiseReduction
	TurnDetection            *TurnDetection
	ToolChoice               param.Opt[string]
	Tools                    []ToolDefinition
}

// Merge returns a copy of s with every non-empty field of override applied
// on top. Override wins field by field.
func (s SessionSettings) Merge(override SessionSettings) SessionSettings {
	merged := s
	if override.Model.Valid() {
		merged.Model = override.Model
	}
	if override.Instructions.Valid() {
		merged.Instructions = override.Instructions
	}
	if len(override.Modalities) > 0 {
		merged.Modalities = slices.Clone(override.Modalities)
	}
	if override.Voice.Valid() {
		merged.Voice = override.Voice
	}
	if override.Speed.Valid() {
		merged.Speed = override.Speed
	}
	if override.InputAudioFormat.Valid() {
		merged.InputAudioFormat = override.InputAudioFormat
	}
	if override.OutputAudioFormat.Valid() {
		merged.OutputAudioFormat = override.OutputAudioFormat
	}
	if override.InputAudioTranscription != nil {
		transcription := *override.InputAudioTranscription
		merged.InputAudioTranscription = &transcription
	}
	if override.InputAudioNoiseReduction != nil {
		reduction := *override.InputAudioNoiseReduction
		merged.InputAudioNoiseReduction = &reduction
	}
	if override.TurnDetection != nil {
		detection := *override.TurnDetection
		merged.TurnDetection = &detection
	}
	if override.ToolChoice.Valid() {
		merged.ToolChoice = override.ToolChoice
	}
	if len(override.Tools) > 0 {
		merged.Tools = slices.Clone(override.Tools)
	}
	return merged
}

// ToMap serializes the settings object for a session.update payload.
func (s SessionSettings) ToMap() map[string]any {
	payload := map[string]any{}
	putOptString(payload, "model", s.Model)
	putOptString(payload, "instructions", s.Instructions)
	if len(s.Modalities) > 0 {
		payload["modalities"] = slices.Clone(s.Modalities)
	}
	putOptString(payload, "voice", s.Voice)
	if s.Speed.Valid() {
		payload["speed"] = s.Speed.Value
	}
	putOptString(payload, "input_audio_format", s.InputAudioFormat)
	putOptString(payload, "output_audio_format", s.OutputAudioFormat)

	if s.InputAudioTranscription != nil {
		transcription := map[string]any{}
		putOptString(transcription, "language", s.InputAudioTranscription.Language)
		putOptString(transcription, "model", s.InputAudioTranscription.Model)
		putOptString(transcription, "prompt", s.InputAudioTranscription.Prompt)
		payload["input_audio_transcription"] = transcription
	}
	if s.InputAudioNoiseReduction != nil {
		payload["input_audio_noise_reduction"] = map[string]any{
			"type": s.InputAudioNoiseReduction.Type,
		}
	}
	if s.TurnDetection != nil {
		detection := map[string]any{"type": s.TurnDetection.Type}
		if s.TurnDetection.CreateResponse.Valid() {
			detection["create_response"] = s.TurnDetection.CreateResponse.Value
		}
		putOptString(detection, "eagerness", s.TurnDetection.Eagerness)
		if s.TurnDetection.InterruptResponse.Valid() {
			detection["interrupt_response"] = s.TurnDetection.InterruptResponse.Value
		}
		if s.TurnDetection.PrefixPaddingMS.Valid() {
			detection["prefix_padding_ms"] = s.TurnDetection.PrefixPaddingMS.Value
		}
		if s.TurnDetection.SilenceDurationMS.Valid() {
			detection["silence_duration_ms"] = s.TurnDetection.SilenceDurationMS.Value
		}
		if s.TurnDetection.Threshold.Valid() {
			detection["threshold"] = s.TurnDetection.Threshold.Value
		}
		if s.TurnDetection.IdleTimeoutMS.Valid() {
			detection["idle_timeout_ms"] = s.TurnDetection.IdleTimeoutMS.Value
		}
		payload["turn_detection"] = detection
	}

	putOptString(payload, "tool_choice", s.ToolChoice)
	if len(s.Tools) > 0 {
		tools := make([]map[string]any, 0, len(s.Tools))
		for _, tool := range s.Tools {
			definition := map[string]any{
				"type": "function",
				"name": tool.Name,
			}
			if tool.Description != "" {
				definition["description"] = tool.Description
			}
			if tool.Parameters != nil {
				definition["parameters"] = tool.Parameters
			}
			tools = append(tools, definition)
		}
		payload["tools"] = tools
	}
	return payload
}

// AutomaticResponseCancellation reports whether the configured turn
// detection interrupts responses server-side, making explicit response
// cancellation on interrupt redundant.
func (s SessionSettings) AutomaticResponseCancellation() bool {
	if s.TurnDetection == nil {
		return false
	}
	return s.TurnDetection.InterruptResponse.Valid() && s.TurnDetection.InterruptResponse.Value
}

func putOptString(payload map[string]any, key string, value param.Opt[string]) {
	if value.Valid() {
		payload[key] = value.Value
	}
}
