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
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/voxstream/voxstream/audio"
	"github.com/voxstream/voxstream/wire"
)

const (
	defaultRealtimeBaseURL = "wss://api.openai.com/v1/realtime"
	defaultModelName       = "gpt-realtime"
	apiKeyEnvVar           = "OPENAI_API_KEY"
)

// APIKeyProvider supplies an API key at connect time.
type APIKeyProvider func(ctx context.Context) (string, error)

// TransportConfig tunes the websocket connection.
type TransportConfig struct {
	HandshakeTimeout *time.Duration
	// PingInterval enables keepalive pings when positive.
	PingInterval *time.Duration
	// PingTimeout bounds how long a pong may take before the read side
	// gives up.
	PingTimeout *time.Duration
}

// ConnectOptions describes one transport connection.
type ConnectOptions struct {
	// URL overrides the endpoint entirely. When empty, the default
	// endpoint is derived from CallID or Model.
	URL string

	// Model selects the realtime model.
	Model string

	// CallID attaches to an existing realtime call. Takes precedence over
	// Model when both are set.
	CallID string

	APIKey         string
	APIKeyProvider APIKeyProvider

	// Headers replaces the derived handshake headers entirely when set.
	Headers map[string]string

	// InitialSettings is the first session.update pushed after connecting.
	InitialSettings wire.SessionSettings

	// PlaybackTracker reports actual playback progress for interruption
	// handling. The session wires its own tracker when nil.
	PlaybackTracker *audio.PlaybackTracker

	Transport *TransportConfig
}

// ResolveAPIKey resolves the key to authenticate with: the static key wins,
// then the provider, then the OPENAI_API_KEY environment variable.
func (o ConnectOptions) ResolveAPIKey(ctx context.Context) (string, error) {
	if strings.TrimSpace(o.APIKey) != "" {
		return o.APIKey, nil
	}
	if o.APIKeyProvider != nil {
		return o.APIKeyProvider(ctx)
	}
	return os.Getenv(apiKeyEnvVar), nil
}

// EndpointURL builds the websocket endpoint for these options. A call
// identifier selects the call_id query parameter and wins over Model;
// otherwise the model query parameter is set.
func (o ConnectOptions) EndpointURL() (string, error) {
	if strings.TrimSpace(o.URL) != "" {
		return strings.TrimSpace(o.URL), nil
	}
	callID := strings.TrimSpace(o.CallID)
	model := strings.TrimSpace(o.Model)

	query := url.Values{}
	if callID != "" {
		query.Set("call_id", callID)
	} else {
		if model == "" {
			model = defaultModelName
		}
		query.Set("model", model)
	}
	return defaultRealtimeBaseURL + "?" + query.Encode(), nil
}

// RunConfig carries run-level behavior shared by every agent in the session.
type RunConfig struct {
	// ModelSettings overrides agent-derived session settings field by
	// field wherever it is non-empty.
	ModelSettings wire.SessionSettings

	// OutputGuardrails run in addition to the active agent's guardrails.
	OutputGuardrails []OutputGuardrail

	// GuardrailDebounceTextLength is the transcript length step between
	// guardrail runs. Defaults to 100.
	GuardrailDebounceTextLength int

	// SynchronousToolCalls runs tools inline on the session loop instead
	// of dispatching workers.
	SynchronousToolCalls bool

	// SuppressToolResponse skips the automatic response request after a
	// tool output is reported.
	SuppressToolResponse bool

	// TracingDisabled is carried as opaque configuration for callers that
	// layer telemetry on top of session events.
	TracingDisabled bool
}

const defaultGuardrailDebounceTextLength = 100

func (c RunConfig) guardrailDebounceTextLength() int {
	if c.GuardrailDebounceTextLength > 0 {
		return c.GuardrailDebounceTextLength
	}
	return defaultGuardrailDebounceTextLength
}
