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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxstream/voxstream/items"
	"github.com/voxstream/voxstream/wire"
)

type mockTransport struct {
	mu        sync.Mutex
	sent      []wire.Command
	listeners []ModelListener
	connected bool
	closed    bool
}

func (m *mockTransport) Connect(ctx context.Context, _ ConnectOptions) error {
	m.mu.Lock()
	m.connected = true
	listeners := make([]ModelListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, listener := range listeners {
		_ = listener.OnModelEvent(ctx, wire.ConnectionStatusEvent{Status: wire.ConnectionConnected})
	}
	return nil
}

func (m *mockTransport) AddListener(listener ModelListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func (m *mockTransport) RemoveListener(listener ModelListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.listeners[:0]
	for _, existing := range m.listeners {
		if existing != listener {
			out = append(out, existing)
		}
	}
	m.listeners = out
}

func (m *mockTransport) Send(_ context.Context, command wire.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, command)
	return nil
}

func (m *mockTransport) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) sentCommands() []wire.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wire.Command, len(m.sent))
	copy(out, m.sent)
	return out
}

func waitForCommand[T wire.Command](t *testing.T, transport *mockTransport, match func(T) bool) T {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, command := range transport.sentCommands() {
			if typed, ok := command.(T); ok && match(typed) {
				return typed
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	var zero T
	t.Fatalf("timed out waiting for command %T", zero)
	return zero
}

func waitForEvent[T SessionEvent](t *testing.T, sub *Subscription, match func(T) bool) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				t.Fatal("subscription closed while waiting for event")
			}
			if typed, ok := event.(T); ok && match(typed) {
				return typed
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for event %T", zero)
			return zero
		}
	}
}

func anyEvent[T SessionEvent](T) bool { return true }

func startTestSession(
	t *testing.T,
	agent *Agent,
	contextMap map[string]any,
	runConfig RunConfig,
) (*Session, *mockTransport, *Subscription) {
	t.Helper()
	transport := &mockTransport{}
	session := NewSession(transport, agent, contextMap, ConnectOptions{}, runConfig)
	t.Cleanup(func() { _ = session.Close(context.Background()) })

	sub, err := session.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))
	return session, transport, sub
}

func echoTool(t *testing.T) FunctionTool {
	t.Helper()
	tool, err := NewFunctionTool("echo", "Echoes the message back.",
		func(_ context.Context, args struct {
			Message string `json:"message"`
		}) (any, error) {
			return "echo: " + args.Message, nil
		})
	require.NoError(t, err)
	return tool
}

func TestStartPushesAgentDerivedSettings(t *testing.T) {
	agent := &Agent{
		Name: "Assistant",
		Instructions: func(contextMap map[string]any) (string, error) {
			return fmt.Sprintf("Hello %v", contextMap["name"]), nil
		},
		Tools: []Tool{echoTool(t)},
	}
	_, transport, sub := startTestSession(t, agent, map[string]any{"name": "Alice"}, RunConfig{})

	started := waitForEvent(t, sub, anyEvent[AgentStartEvent])
	assert.Equal(t, "Assistant", started.Agent.Name)
	assert.Equal(t, "Alice", started.Info.Context["name"])

	update := waitForCommand(t, transport, func(wire.SendSessionUpdate) bool { return true })
	assert.Equal(t, "Hello Alice", update.Settings.Instructions.Value)
	require.Len(t, update.Settings.Tools, 1)
	assert.Equal(t, "echo", update.Settings.Tools[0].Name)
}

func TestRunConfigSettingsOverrideAgent(t *testing.T) {
	agent := &Agent{Name: "Assistant", Instructions: "From the agent.", Model: "gpt-realtime"}
	runConfig := RunConfig{
		ModelSettings: wire.SessionSettings{Voice: param.NewOpt("marin")},
	}
	_, transport, _ := startTestSession(t, agent, nil, runConfig)

	update := waitForCommand(t, transport, func(wire.SendSessionUpdate) bool { return true })
	assert.Equal(t, "From the agent.", update.Settings.Instructions.Value)
	assert.Equal(t, "gpt-realtime", update.Settings.Model.Value)
	assert.Equal(t, "marin", update.Settings.Voice.Value)
}

func TestToolCallRoundTrip(t *testing.T) {
	agent := &Agent{Name: "Assistant", Instructions: "", Tools: []Tool{echoTool(t)}}
	session, transport, sub := startTestSession(t, agent, nil, RunConfig{})

	call := wire.ToolCallEvent{
		ItemID:    "item_1",
		CallID:    "call_1",
		Name:      "echo",
		Arguments: `{"message": "hi"}`,
	}
	require.NoError(t, session.OnModelEvent(context.Background(), call))

	start := waitForEvent(t, sub, anyEvent[ToolStartEvent])
	assert.Equal(t, "echo", start.Tool.Name())
	assert.Equal(t, `{"message": "hi"}`, start.Arguments)

	end := waitForEvent(t, sub, anyEvent[ToolEndEvent])
	assert.Equal(t, "echo: hi", end.Output)

	output := waitForCommand(t, transport, func(wire.SendToolOutput) bool { return true })
	assert.Equal(t, "call_1", output.CallID)
	assert.Equal(t, "echo: hi", output.Output)
	assert.True(t, output.TriggerResponse)

	history := session.History()
	require.Len(t, history, 1)
	record, ok := history[0].(items.ToolCallItem)
	require.True(t, ok)
	assert.Equal(t, "item_1", record.ItemID)
	assert.Equal(t, items.ToolCallCompleted, record.Status)
	require.NotNil(t, record.Output)
	assert.Equal(t, "echo: hi", *record.Output)
}

func TestSuppressToolResponse(t *testing.T) {
	agent := &Agent{Name: "Assistant", Tools: []Tool{echoTool(t)}}
	session, transport, sub := startTestSession(t, agent, nil, RunConfig{SuppressToolResponse: true})

	call := wire.ToolCallEvent{CallID: "call_1", Name: "echo", Arguments: `{"message": "x"}`}
	require.NoError(t, session.OnModelEvent(context.Background(), call))
	waitForEvent(t, sub, anyEvent[ToolEndEvent])

	output := waitForCommand(t, transport, func(wire.SendToolOutput) bool { return true })
	assert.False(t, output.TriggerResponse)
}

func TestUnknownToolReportsError(t *testing.T) {
	agent := &Agent{Name: "Assistant"}
	session, transport, sub := startTestSession(t, agent, nil, RunConfig{})

	call := wire.ToolCallEvent{CallID: "call_1", Name: "missing_tool"}
	require.NoError(t, session.OnModelEvent(context.Background(), call))

	errEvent := waitForEvent(t, sub, anyEvent[ErrorEvent])
	payload, ok := errEvent.Error.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, payload["message"], "missing_tool")

	output := waitForCommand(t, transport, func(wire.SendToolOutput) bool { return true })
	assert.Equal(t, "Error: Unknown tool missing_tool", output.Output)

	end := waitForEvent(t, sub, anyEvent[ToolEndEvent])
	assert.Equal(t, "missing_tool", end.Tool.Name())
	assert.Equal(t, "Error: Unknown tool missing_tool", end.Output)
}

func TestToolPanicIsContained(t *testing.T) {
	boom, err := NewFunctionTool("boom", "Always panics.",
		func(context.Context, struct{}) (any, error) {
			panic("kaboom")
		})
	require.NoError(t, err)

	agent := &Agent{Name: "Assistant", Tools: []Tool{boom}}
	session, transport, sub := startTestSession(t, agent, nil, RunConfig{})

	call := wire.ToolCallEvent{CallID: "call_1", Name: "boom", Arguments: "{}"}
	require.NoError(t, session.OnModelEvent(context.Background(), call))

	end := waitForEvent(t, sub, anyEvent[ToolEndEvent])
	assert.Equal(t, "Error: tool boom panicked: kaboom", end.Output)

	output := waitForCommand(t, transport, func(wire.SendToolOutput) bool { return true })
	assert.Equal(t, "Error: tool boom panicked: kaboom", output.Output)

	// The session survives the crash.
	require.NoError(t, session.SendMessage(context.Background(), "still here"))
}

func TestToolErrorBecomesErrorOutput(t *testing.T) {
	failing, err := NewFunctionTool("lookup", "Always fails.",
		func(context.Context, struct{}) (any, error) {
			return nil, fmt.Errorf("backend unavailable")
		})
	require.NoError(t, err)

	agent := &Agent{Name: "Assistant", Tools: []Tool{failing}}
	session, _, sub := startTestSession(t, agent, nil, RunConfig{})

	call := wire.ToolCallEvent{CallID: "call_1", Name: "lookup", Arguments: "{}"}
	require.NoError(t, session.OnModelEvent(context.Background(), call))

	end := waitForEvent(t, sub, anyEvent[ToolEndEvent])
	assert.Equal(t, "Error: running tool lookup failed: backend unavailable", end.Output)
}

func TestHandoffSwitchesAgent(t *testing.T) {
	sales := &Agent{Name: "Sales Rep", Instructions: "You handle sales."}
	triage := &Agent{
		Name:         "Triage",
		Instructions: "You route requests.",
		Handoffs:     []any{sales},
	}
	session, transport, sub := startTestSession(t, triage, nil, RunConfig{})

	call := wire.ToolCallEvent{CallID: "call_1", Name: "transfer_to_sales_rep", Arguments: "{}"}
	require.NoError(t, session.OnModelEvent(context.Background(), call))

	handoff := waitForEvent(t, sub, anyEvent[HandoffEvent])
	assert.Equal(t, "Triage", handoff.FromAgent.Name)
	assert.Equal(t, "Sales Rep", handoff.ToAgent.Name)

	output := waitForCommand(t, transport, func(wire.SendToolOutput) bool { return true })
	assert.Equal(t, `{"assistant": "Sales Rep"}`, output.Output)

	update := waitForCommand(t, transport, func(u wire.SendSessionUpdate) bool {
		return u.Settings.Instructions.Value == "You handle sales."
	})
	assert.Equal(t, "You handle sales.", update.Settings.Instructions.Value)

	assert.Equal(t, "Sales Rep", session.CurrentAgent().Name)
}

func TestHistoryUpsertInsertAndDelete(t *testing.T) {
	agent := &Agent{Name: "Assistant"}
	session, _, sub := startTestSession(t, agent, nil, RunConfig{})

	first := items.NewUserMessage("item_1", items.InputTextContent("hello"))
	require.NoError(t, session.OnModelEvent(context.Background(), wire.ItemUpdatedEvent{Item: first}))
	added := waitForEvent(t, sub, anyEvent[HistoryAddedEvent])
	assert.Equal(t, "item_1", added.Item.ID())

	third := items.NewAssistantMessage("item_3", items.TextContent("later"))
	require.NoError(t, session.OnModelEvent(context.Background(), wire.ItemUpdatedEvent{Item: third}))
	waitForEvent(t, sub, func(e HistoryAddedEvent) bool { return e.Item.ID() == "item_3" })

	// An item naming item_1 as its predecessor lands between the two.
	previous := "item_1"
	second := items.NewAssistantMessage("item_2", items.TextContent("between"))
	second.PreviousItemID = &previous
	require.NoError(t, session.OnModelEvent(context.Background(), wire.ItemUpdatedEvent{Item: second}))
	waitForEvent(t, sub, func(e HistoryAddedEvent) bool { return e.Item.ID() == "item_2" })

	history := session.History()
	require.Len(t, history, 3)
	assert.Equal(t, "item_1", history[0].ID())
	assert.Equal(t, "item_2", history[1].ID())
	assert.Equal(t, "item_3", history[2].ID())

	// Replacing an existing item reports the full history.
	updated := items.NewUserMessage("item_1", items.InputTextContent("hello again"))
	require.NoError(t, session.OnModelEvent(context.Background(), wire.ItemUpdatedEvent{Item: updated}))
	replaced := waitForEvent(t, sub, anyEvent[HistoryUpdatedEvent])
	require.Len(t, replaced.History, 3)

	require.NoError(t, session.OnModelEvent(context.Background(), wire.ItemDeletedEvent{ItemID: "item_2"}))
	afterDelete := waitForEvent(t, sub, func(e HistoryUpdatedEvent) bool { return len(e.History) == 2 })
	assert.Equal(t, "item_1", afterDelete.History[0].ID())
	assert.Equal(t, "item_3", afterDelete.History[1].ID())
}

func TestTranscriptDeltaBuildsAssistantItem(t *testing.T) {
	agent := &Agent{Name: "Assistant"}
	session, _, sub := startTestSession(t, agent, nil, RunConfig{})

	deltas := []string{"The answer ", "is 42."}
	for _, delta := range deltas {
		event := wire.TranscriptDeltaEvent{ResponseID: "resp_1", ItemID: "item_1", Delta: delta}
		require.NoError(t, session.OnModelEvent(context.Background(), event))
	}
	waitForEvent(t, sub, func(e RawModelEvent) bool {
		delta, ok := e.Data.(wire.TranscriptDeltaEvent)
		return ok && delta.Delta == "is 42."
	})

	history := session.History()
	require.Len(t, history, 1)
	message, ok := history[0].(items.MessageItem)
	require.True(t, ok)
	assert.Equal(t, items.RoleAssistant, message.Role)
	require.Len(t, message.Content, 1)
	require.NotNil(t, message.Content[0].Transcript)
	assert.Equal(t, "The answer is 42.", *message.Content[0].Transcript)
}

func TestGuardrailTripInterruptsAndReports(t *testing.T) {
	guardrail := OutputGuardrail{
		Name: "no_bad_words",
		Run: func(_ context.Context, _, output string) (GuardrailOutput, error) {
			return GuardrailOutput{TripwireTriggered: strings.Contains(output, "bad")}, nil
		},
	}
	agent := &Agent{Name: "Assistant", OutputGuardrails: []OutputGuardrail{guardrail}}
	session, transport, sub := startTestSession(t, agent, nil, RunConfig{GuardrailDebounceTextLength: 5})

	event := wire.TranscriptDeltaEvent{ResponseID: "resp_1", ItemID: "item_1", Delta: "something bad"}
	require.NoError(t, session.OnModelEvent(context.Background(), event))

	tripped := waitForEvent(t, sub, anyEvent[GuardrailTrippedEvent])
	require.Len(t, tripped.GuardrailResults, 1)
	assert.Equal(t, "no_bad_words", tripped.GuardrailResults[0].Guardrail.Name)
	assert.Equal(t, "something bad", tripped.Message)

	waitForCommand(t, transport, func(wire.SendInterrupt) bool { return true })
	report := waitForCommand(t, transport, func(wire.SendMessage) bool { return true })
	assert.Equal(t, "guardrail triggered: no_bad_words", report.Input)

	// Further deltas for the interrupted response never re-trip.
	more := wire.TranscriptDeltaEvent{ResponseID: "resp_1", ItemID: "item_1", Delta: " and even more bad text"}
	require.NoError(t, session.OnModelEvent(context.Background(), more))
	waitForEvent(t, sub, func(e RawModelEvent) bool {
		delta, ok := e.Data.(wire.TranscriptDeltaEvent)
		return ok && delta.Delta == " and even more bad text"
	})
	time.Sleep(50 * time.Millisecond)

	trippedCount := 0
	drain := true
	for drain {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				drain = false
				break
			}
			if _, isTrip := event.(GuardrailTrippedEvent); isTrip {
				trippedCount++
			}
		default:
			drain = false
		}
	}
	assert.Zero(t, trippedCount)
}

func TestGuardrailStateResetsOnTurnEnd(t *testing.T) {
	guardrail := OutputGuardrail{
		Name: "no_bad_words",
		Run: func(_ context.Context, _, output string) (GuardrailOutput, error) {
			return GuardrailOutput{TripwireTriggered: strings.Contains(output, "bad")}, nil
		},
	}
	agent := &Agent{Name: "Assistant", OutputGuardrails: []OutputGuardrail{guardrail}}
	session, _, sub := startTestSession(t, agent, nil, RunConfig{GuardrailDebounceTextLength: 5})

	first := wire.TranscriptDeltaEvent{ResponseID: "resp_1", ItemID: "item_1", Delta: "something bad"}
	require.NoError(t, session.OnModelEvent(context.Background(), first))
	waitForEvent(t, sub, anyEvent[GuardrailTrippedEvent])

	require.NoError(t, session.OnModelEvent(context.Background(), wire.TurnEndedEvent{}))
	waitForEvent(t, sub, anyEvent[AgentEndEvent])

	// A later turn reusing the response id starts with a clean slate.
	second := wire.TranscriptDeltaEvent{ResponseID: "resp_1", ItemID: "item_2", Delta: "still bad"}
	require.NoError(t, session.OnModelEvent(context.Background(), second))
	tripped := waitForEvent(t, sub, anyEvent[GuardrailTrippedEvent])
	assert.Equal(t, "still bad", tripped.Message)
}

func TestAudioEventsForwardAndResetPlayback(t *testing.T) {
	agent := &Agent{Name: "Assistant"}
	session, _, sub := startTestSession(t, agent, nil, RunConfig{})

	chunk := wire.AudioEvent{Data: []byte{1, 2}, ItemID: "item_1", ContentIndex: 0}
	require.NoError(t, session.OnModelEvent(context.Background(), chunk))
	audioEvent := waitForEvent(t, sub, anyEvent[AudioEvent])
	assert.Equal(t, "item_1", audioEvent.ItemID)
	assert.Equal(t, []byte{1, 2}, audioEvent.Audio.Data)

	session.PlaybackTracker().OnPlayMS("item_1", 0, 800)
	require.NoError(t, session.OnModelEvent(context.Background(), wire.AudioInterruptedEvent{ItemID: "item_1"}))
	interrupted := waitForEvent(t, sub, anyEvent[AudioInterruptedEvent])
	assert.Equal(t, "item_1", interrupted.ItemID)
	assert.Nil(t, session.PlaybackTracker().State().CurrentItemID)

	require.NoError(t, session.OnModelEvent(context.Background(), wire.AudioDoneEvent{ItemID: "item_1"}))
	waitForEvent(t, sub, anyEvent[AudioEndEvent])
}

func TestTurnLifecycleEvents(t *testing.T) {
	agent := &Agent{Name: "Assistant"}
	session, _, sub := startTestSession(t, agent, nil, RunConfig{})

	require.NoError(t, session.OnModelEvent(context.Background(), wire.TurnStartedEvent{}))
	waitForEvent(t, sub, func(e AgentStartEvent) bool { return e.Agent.Name == "Assistant" })

	require.NoError(t, session.OnModelEvent(context.Background(), wire.TurnEndedEvent{}))
	ended := waitForEvent(t, sub, anyEvent[AgentEndEvent])
	assert.Equal(t, "Assistant", ended.Agent.Name)
}

func TestInputTranscriptionFillsUserItem(t *testing.T) {
	agent := &Agent{Name: "Assistant"}
	session, _, sub := startTestSession(t, agent, nil, RunConfig{})

	pending := items.NewUserMessage("item_1", items.InputAudioContent("", nil))
	require.NoError(t, session.OnModelEvent(context.Background(), wire.ItemUpdatedEvent{Item: pending}))
	waitForEvent(t, sub, anyEvent[HistoryAddedEvent])

	completed := wire.InputAudioTranscriptionCompletedEvent{ItemID: "item_1", Transcript: "turn the lights on"}
	require.NoError(t, session.OnModelEvent(context.Background(), completed))
	waitForEvent(t, sub, func(e RawModelEvent) bool {
		_, ok := e.Data.(wire.InputAudioTranscriptionCompletedEvent)
		return ok
	})

	history := session.History()
	require.Len(t, history, 1)
	message, ok := history[0].(items.MessageItem)
	require.True(t, ok)
	require.NotNil(t, message.Status)
	assert.Equal(t, items.StatusCompleted, *message.Status)
	require.Len(t, message.Content, 1)
	require.NotNil(t, message.Content[0].Transcript)
	assert.Equal(t, "turn the lights on", *message.Content[0].Transcript)
}

func TestSendHelpersForwardCommands(t *testing.T) {
	agent := &Agent{Name: "Assistant"}
	session, transport, _ := startTestSession(t, agent, nil, RunConfig{})

	require.NoError(t, session.SendMessage(context.Background(), "hello"))
	require.NoError(t, session.SendAudio(context.Background(), []byte{1, 2, 3}, true))
	require.NoError(t, session.UpdateSessionSettings(context.Background(), wire.SessionSettings{}))
	require.NoError(t, session.SendRaw(context.Background(), "response.create", nil))
	require.NoError(t, session.Interrupt(context.Background()))

	message := waitForCommand(t, transport, func(wire.SendMessage) bool { return true })
	assert.Equal(t, "hello", message.Input)
	audioCmd := waitForCommand(t, transport, func(wire.SendAudio) bool { return true })
	assert.True(t, audioCmd.Commit)
	waitForCommand(t, transport, func(wire.SendRaw) bool { return true })
	waitForCommand(t, transport, func(wire.SendInterrupt) bool { return true })
}

func TestCloseShutsDownSubscribersAndRejectsSends(t *testing.T) {
	agent := &Agent{Name: "Assistant"}
	session, transport, sub := startTestSession(t, agent, nil, RunConfig{})

	require.NoError(t, session.Close(context.Background()))

	deadline := time.After(2 * time.Second)
	for {
		closed := false
		select {
		case _, ok := <-sub.Events():
			closed = !ok
		case <-deadline:
			t.Fatal("subscription channel never closed")
		}
		if closed {
			break
		}
	}

	assert.ErrorIs(t, session.SendMessage(context.Background(), "late"), ErrSessionClosed)
	assert.ErrorIs(t, session.OnModelEvent(context.Background(), wire.TurnEndedEvent{}), ErrSessionClosed)
	transport.mu.Lock()
	assert.True(t, transport.closed)
	transport.mu.Unlock()
}

func TestUnsubscribeClosesOnlyThatChannel(t *testing.T) {
	agent := &Agent{Name: "Assistant"}
	session, _, sub := startTestSession(t, agent, nil, RunConfig{})

	other, err := session.Subscribe(context.Background())
	require.NoError(t, err)
	session.Unsubscribe(other)

	_, ok := <-other.Events()
	assert.False(t, ok)

	require.NoError(t, session.OnModelEvent(context.Background(), wire.TurnStartedEvent{}))
	waitForEvent(t, sub, anyEvent[AgentStartEvent])
}
