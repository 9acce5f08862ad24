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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voxstream/voxstream/wire"
)

// MCPSession is the subset of mcp.ClientSession used by MCPTool.
type MCPSession interface {
	ListTools(context.Context, *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(context.Context, *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// MCPTool exposes a tool served by an MCP server as a session Tool.
type MCPTool struct {
	session     MCPSession
	name        string
	description string
	parameters  map[string]any
}

// NewMCPTool wraps one listed MCP tool.
func NewMCPTool(session MCPSession, tool *mcp.Tool) (MCPTool, error) {
	if session == nil {
		return MCPTool{}, errors.New("mcp tool requires a session")
	}
	if tool == nil || strings.TrimSpace(tool.Name) == "" {
		return MCPTool{}, errors.New("mcp tool requires a named tool")
	}

	parameters := map[string]any{"type": "object"}
	if tool.InputSchema != nil {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return MCPTool{}, fmt.Errorf("failed to serialize input schema of mcp tool %s: %w", tool.Name, err)
		}
		if err := json.Unmarshal(raw, &parameters); err != nil {
			return MCPTool{}, fmt.Errorf("failed to decode input schema of mcp tool %s: %w", tool.Name, err)
		}
	}

	return MCPTool{
		session:     session,
		name:        tool.Name,
		description: tool.Description,
		parameters:  parameters,
	}, nil
}

// MCPTools lists every tool on the server and wraps each one.
func MCPTools(ctx context.Context, session MCPSession) ([]Tool, error) {
	if session == nil {
		return nil, errors.New("mcp session is required")
	}
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed listing mcp tools: %w", err)
	}
	tools := make([]Tool, 0, len(result.Tools))
	for _, listed := range result.Tools {
		tool, err := NewMCPTool(session, listed)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func (t MCPTool) Name() string { return t.name }

func (t MCPTool) Definition() wire.ToolDefinition {
	return wire.ToolDefinition{
		Name:        t.name,
		Description: t.description,
		Parameters:  t.parameters,
	}
}

func (t MCPTool) Invoke(ctx context.Context, arguments string) (any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(normalizeArguments(arguments)), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments for mcp tool %s: %w", t.name, err)
	}

	result, err := t.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp tool %s call failed: %w", t.name, err)
	}

	text := joinTextContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "unknown error"
		}
		return nil, fmt.Errorf("mcp tool %s returned an error: %s", t.name, text)
	}
	return text, nil
}

func joinTextContent(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, part := range content {
		if textContent, ok := part.(*mcp.TextContent); ok {
			parts = append(parts, textContent.Text)
		}
	}
	return strings.Join(parts, "\n")
}
