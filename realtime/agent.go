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
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/voxstream/voxstream/wire"
)

// InstructionsFunc produces instructions from the session context map.
type InstructionsFunc func(contextMap map[string]any) (string, error)

// InstructionsWithAgentFunc produces instructions from the session context
// map and the agent being configured.
type InstructionsWithAgentFunc func(contextMap map[string]any, agent *Agent) (string, error)

// Agent is a declarative voice agent configuration: a name, instructions,
// tools and handoff targets. Agents hold no conversation state; the session
// does.
type Agent struct {
	Name string

	// Instructions may be a string, an InstructionsFunc, or an
	// InstructionsWithAgentFunc. A nil value resolves to "".
	Instructions any

	// Model optionally overrides the model for this agent.
	Model string

	Tools []Tool

	// Handoffs entries may be *Agent values or Handoff records.
	Handoffs []any

	OutputGuardrails []OutputGuardrail

	// Hooks is opaque caller configuration carried across clones.
	Hooks any
}

// Clone returns a copy of the agent with independent slices.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Tools = slices.Clone(a.Tools)
	clone.Handoffs = slices.Clone(a.Handoffs)
	clone.OutputGuardrails = slices.Clone(a.OutputGuardrails)
	return &clone
}

// ResolveInstructions evaluates the agent's instructions against the session
// context map.
func (a *Agent) ResolveInstructions(contextMap map[string]any) (string, error) {
	switch v := a.Instructions.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case InstructionsFunc:
		return v(contextMap)
	case func(map[string]any) (string, error):
		return v(contextMap)
	case InstructionsWithAgentFunc:
		return v(contextMap, a)
	case func(map[string]any, *Agent) (string, error):
		return v(contextMap, a)
	default:
		return "", fmt.Errorf("unsupported instructions type %T", a.Instructions)
	}
}

// AllTools returns the agent's declared tools followed by one derived
// HandoffTool per handoff entry.
func (a *Agent) AllTools() ([]Tool, error) {
	records, err := a.handoffRecords()
	if err != nil {
		return nil, err
	}
	tools := make([]Tool, 0, len(a.Tools)+len(records))
	tools = append(tools, a.Tools...)
	for _, record := range records {
		tools = append(tools, HandoffTool{record: record})
	}
	return tools, nil
}

// ResolveHandoffTarget maps a handoff tool name back to its target agent.
// Handoffs without a direct agent reference are resolved by invoking their
// resolution function with an empty context map.
func (a *Agent) ResolveHandoffTarget(toolName string) (*Agent, error) {
	suffix, ok := strings.CutPrefix(toolName, handoffToolPrefix)
	if !ok {
		return nil, &HandoffNotFoundError{ToolName: toolName}
	}
	records, err := a.handoffRecords()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if strings.TrimPrefix(record.toolName, handoffToolPrefix) != suffix {
			continue
		}
		return record.resolveTarget(map[string]any{})
	}
	return nil, &HandoffNotFoundError{ToolName: toolName}
}

func (a *Agent) handoffRecords() ([]handoffRecord, error) {
	records := make([]handoffRecord, 0, len(a.Handoffs))
	for _, entry := range a.Handoffs {
		switch v := entry.(type) {
		case *Agent:
			if v == nil {
				continue
			}
			record, err := handoffRecordFor(Handoff{Agent: v})
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		case Agent:
			target := v
			record, err := handoffRecordFor(Handoff{Agent: &target})
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		case Handoff:
			record, err := handoffRecordFor(v)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		case *Handoff:
			if v == nil {
				continue
			}
			record, err := handoffRecordFor(*v)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		default:
			return nil, fmt.Errorf("unsupported handoff entry type %T", entry)
		}
	}
	return records, nil
}

// Handoff declares a transfer of the conversation to another agent. The
// target is either referenced directly or produced by OnHandoff.
type Handoff struct {
	Agent *Agent

	// ToolNameOverride replaces the derived transfer_to_<name> tool name.
	ToolNameOverride string

	// ToolDescriptionOverride replaces the derived tool description.
	ToolDescriptionOverride string

	// OnHandoff resolves the target agent when Agent is nil, or observes
	// the transfer when Agent is set.
	OnHandoff func(contextMap map[string]any) (*Agent, error)
}

const handoffToolPrefix = "transfer_to_"

type handoffRecord struct {
	toolName    string
	description string
	agentName   string
	target      *Agent
	resolve     func(contextMap map[string]any) (*Agent, error)
}

func handoffRecordFor(handoff Handoff) (handoffRecord, error) {
	agentName := ""
	if handoff.Agent != nil {
		agentName = handoff.Agent.Name
	}

	toolName := strings.TrimSpace(handoff.ToolNameOverride)
	if toolName == "" {
		if strings.TrimSpace(agentName) == "" {
			return handoffRecord{}, fmt.Errorf("handoff requires a target agent or a tool name override")
		}
		toolName = handoffToolPrefix + sanitizeHandoffName(agentName)
	}

	description := handoff.ToolDescriptionOverride
	if description == "" {
		description = fmt.Sprintf("Handoff to the %s agent to handle the request.", agentName)
	}

	return handoffRecord{
		toolName:    toolName,
		description: description,
		agentName:   agentName,
		target:      handoff.Agent,
		resolve:     handoff.OnHandoff,
	}, nil
}

func (r handoffRecord) resolveTarget(contextMap map[string]any) (*Agent, error) {
	if r.resolve != nil {
		target, err := r.resolve(contextMap)
		if err != nil {
			return nil, fmt.Errorf("handoff %s failed: %w", r.toolName, err)
		}
		if target != nil {
			return target, nil
		}
	}
	if r.target != nil {
		return r.target, nil
	}
	return nil, fmt.Errorf("handoff %s returned no target agent", r.toolName)
}

// sanitizeHandoffName lowercases the agent name and collapses each run of
// non-alphanumeric characters into a single underscore.
func sanitizeHandoffName(name string) string {
	var builder strings.Builder
	pendingSeparator := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingSeparator = builder.Len() > 0
			continue
		}
		if pendingSeparator {
			builder.WriteByte('_')
			pendingSeparator = false
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// HandoffTool is the tool surface a handoff presents to the model. It is
// intercepted by the session rather than invoked directly.
type HandoffTool struct {
	record handoffRecord
}

func (t HandoffTool) Name() string { return t.record.toolName }

func (t HandoffTool) Definition() wire.ToolDefinition {
	return wire.ToolDefinition{
		Name:        t.record.toolName,
		Description: t.record.description,
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
	}
}

func (t HandoffTool) Invoke(context.Context, string) (any, error) {
	return nil, fmt.Errorf("handoff %s must be dispatched by a session", t.record.toolName)
}

// TransferMessage is the tool output reported to the model after a handoff.
func (t HandoffTool) TransferMessage(target *Agent) string {
	name := t.record.agentName
	if target != nil {
		name = target.Name
	}
	return fmt.Sprintf(`{"assistant": %q}`, name)
}

// HandoffNotFoundError reports a handoff tool name with no matching handoff.
type HandoffNotFoundError struct {
	ToolName string
}

func (e *HandoffNotFoundError) Error() string {
	return fmt.Sprintf("no handoff matches tool %s", e.ToolName)
}
