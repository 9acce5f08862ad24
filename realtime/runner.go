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

// Runner binds a starting agent to a transport and run configuration, and
// mints sessions from them.
type Runner struct {
	startingAgent *Agent
	transport     Transport
	runConfig     RunConfig
}

// NewRunner builds a runner. A nil transport defaults to a fresh
// WebSocketTransport per session.
func NewRunner(startingAgent *Agent, transport Transport, runConfig RunConfig) *Runner {
	return &Runner{
		startingAgent: startingAgent,
		transport:     transport,
		runConfig:     runConfig,
	}
}

// Run creates a session bound to the runner's agent and configuration.
//
// The returned session is not connected yet; call Start to open the
// transport connection.
func (r *Runner) Run(contextMap map[string]any, connect ConnectOptions) *Session {
	transport := r.transport
	if transport == nil {
		transport = NewWebSocketTransport()
	}
	return NewSession(transport, r.startingAgent, contextMap, connect, r.runConfig)
}
