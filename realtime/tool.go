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
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/voxstream/voxstream/wire"
)

// Tool is a local capability the model can invoke by name.
type Tool interface {
	Name() string
	Definition() wire.ToolDefinition
	// Invoke runs the tool with the raw JSON arguments supplied by the
	// model. The session context map, if any, is available through
	// SessionContextFromContext.
	Invoke(ctx context.Context, arguments string) (any, error)
}

type sessionContextKey struct{}

// ContextWithSessionContext attaches the caller-supplied session context map
// to ctx so tools can read it during invocation.
func ContextWithSessionContext(ctx context.Context, values map[string]any) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, values)
}

// SessionContextFromContext returns the session context map attached by
// ContextWithSessionContext, if any.
func SessionContextFromContext(ctx context.Context) (map[string]any, bool) {
	values, ok := ctx.Value(sessionContextKey{}).(map[string]any)
	return values, ok
}

// FunctionTool is a Tool backed by a plain Go function.
type FunctionTool struct {
	ToolName    string
	Description string
	// Parameters is the JSON schema advertised to the model.
	Parameters map[string]any
	// OnInvoke receives the raw JSON arguments string.
	OnInvoke func(ctx context.Context, arguments string) (any, error)

	schema *gojsonschema.Schema
}

func (t FunctionTool) Name() string { return t.ToolName }

func (t FunctionTool) Definition() wire.ToolDefinition {
	return wire.ToolDefinition{
		Name:        t.ToolName,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

func (t FunctionTool) Invoke(ctx context.Context, arguments string) (any, error) {
	if t.OnInvoke == nil {
		return nil, fmt.Errorf("tool %s has no invocation function", t.ToolName)
	}
	if t.schema != nil {
		if err := validateJSON(t.schema, normalizeArguments(arguments)); err != nil {
			return nil, err
		}
	}
	return t.OnInvoke(ctx, arguments)
}

// NewFunctionTool builds a FunctionTool whose parameters schema is derived
// from T. Arguments are validated against the schema and decoded into T
// before fn runs.
func NewFunctionTool[T any](
	name string,
	description string,
	fn func(ctx context.Context, args T) (any, error),
) (FunctionTool, error) {
	if strings.TrimSpace(name) == "" {
		return FunctionTool{}, errors.New("function tool requires a name")
	}
	if fn == nil {
		return FunctionTool{}, errors.New("function tool requires a function")
	}

	schemaMap, compiled, err := schemaForType(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return FunctionTool{}, fmt.Errorf("failed to derive schema for tool %s: %w", name, err)
	}

	return FunctionTool{
		ToolName:    name,
		Description: description,
		Parameters:  schemaMap,
		OnInvoke: func(ctx context.Context, arguments string) (any, error) {
			var args T
			if err := json.Unmarshal([]byte(normalizeArguments(arguments)), &args); err != nil {
				return nil, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
			}
			return fn(ctx, args)
		},
		schema: compiled,
	}, nil
}

func normalizeArguments(arguments string) string {
	if strings.TrimSpace(arguments) == "" {
		return "{}"
	}
	return arguments
}

func schemaForType(t reflect.Type) (map[string]any, *gojsonschema.Schema, error) {
	if t == nil {
		return nil, nil, errors.New("tool argument type must be non-nil")
	}

	valueType := t
	if valueType.Kind() == reflect.Pointer {
		valueType = valueType.Elem()
	}

	reflector := &jsonschema.Reflector{
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: false,
		AllowAdditionalProperties:  false,
	}

	var schema *jsonschema.Schema
	if valueType.Kind() == reflect.Struct && valueType.Name() == "" && valueType.NumField() == 0 {
		schema = &jsonschema.Schema{
			Version:    jsonschema.Version,
			Type:       "object",
			Properties: jsonschema.NewProperties(),
		}
		schema.AdditionalProperties = jsonschema.FalseSchema
	} else {
		schema = reflector.ReflectFromType(valueType)
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, nil, err
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(raw, &schemaMap); err != nil {
		return nil, nil, err
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile tool argument schema: %w", err)
	}
	return schemaMap, compiled, nil
}

func validateJSON(schema *gojsonschema.Schema, input string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(input))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		details = append(details, resultError.String())
	}
	return fmt.Errorf("arguments do not match schema: %s", strings.Join(details, "; "))
}
