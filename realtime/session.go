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
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/voxstream/voxstream/audio"
	"github.com/voxstream/voxstream/items"
	"github.com/voxstream/voxstream/wire"
)

// ErrSessionClosed is returned by session operations after Close.
var ErrSessionClosed = errors.New("session is closed")

const subscriberBuffer = 128

// Session orchestrates one realtime conversation: it owns the history, the
// active agent, tool dispatch and guardrails, and fans session events out to
// subscribers.
//
// All mutable state is owned by a single event loop. External goroutines
// interact with it only through channels, so no session state is ever
// touched concurrently.
type Session struct {
	transport Transport
	connect   ConnectOptions
	runConfig RunConfig
	info      EventInfo
	tracker   *audio.PlaybackTracker

	// Everything below is owned by the run loop.
	currentAgent  *Agent
	history       []items.Item
	transcripts   map[string]string
	guardrailRuns map[string]int
	interrupted   map[string]struct{}
	subscribers   map[string]*subscriber
	transportGone bool

	commands    chan func()
	modelEvents chan wire.ModelEvent
	toolResults chan toolResult

	workersCtx    context.Context
	workersCancel context.CancelFunc

	closed    chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}

	startMu sync.Mutex
	started bool
}

type toolResult struct {
	call   wire.ToolCallEvent
	tool   Tool
	output string
}

type subscriber struct {
	id     string
	ctx    context.Context
	events chan SessionEvent
}

// Subscription is one subscriber's live view of session events.
type Subscription struct {
	id     string
	events chan SessionEvent
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Events is closed when the session shuts down or the subscription is
// cancelled.
func (s *Subscription) Events() <-chan SessionEvent { return s.events }

// NewSession builds a session around a transport and a starting agent. The
// contextMap is attached to every session event and made available to tools
// and instruction functions. The event loop starts immediately; the
// transport connects on Start.
func NewSession(
	transport Transport,
	agent *Agent,
	contextMap map[string]any,
	connect ConnectOptions,
	runConfig RunConfig,
) *Session {
	if transport == nil {
		transport = NewWebSocketTransport()
	}
	tracker := connect.PlaybackTracker
	if tracker == nil {
		tracker = audio.NewPlaybackTracker()
		connect.PlaybackTracker = tracker
	}

	workersCtx, workersCancel := context.WithCancel(context.Background())
	s := &Session{
		transport:     transport,
		connect:       connect,
		runConfig:     runConfig,
		info:          EventInfo{Context: contextMap},
		tracker:       tracker,
		currentAgent:  agent.Clone(),
		transcripts:   make(map[string]string),
		guardrailRuns: make(map[string]int),
		interrupted:   make(map[string]struct{}),
		subscribers:   make(map[string]*subscriber),
		commands:      make(chan func(), 16),
		modelEvents:   make(chan wire.ModelEvent, 64),
		toolResults:   make(chan toolResult, 16),
		workersCtx:    workersCtx,
		workersCancel: workersCancel,
		closed:        make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	go s.run()
	return s
}

// PlaybackTracker returns the tracker the caller's audio player must feed
// for interruption handling to report accurate playback positions.
func (s *Session) PlaybackTracker() *audio.PlaybackTracker { return s.tracker }

// Start connects the transport and pushes the initial session settings
// derived from the starting agent.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return errors.New("session is already started")
	}
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	settings, err := s.settingsForAgent(s.currentAgent)
	if err != nil {
		return err
	}
	s.connect.InitialSettings = settings

	s.transport.AddListener(s)
	if err := s.transport.Connect(ctx, s.connect); err != nil {
		s.transport.RemoveListener(s)
		return err
	}
	s.started = true
	return nil
}

// Close shuts the session down: tool workers are cancelled, the transport is
// closed, and every subscriber channel is closed once the loop drains.
func (s *Session) Close(ctx context.Context) error {
	var transportErr error
	s.closeOnce.Do(func() {
		s.workersCancel()
		close(s.closed)
		s.transport.RemoveListener(s)
		transportErr = s.transport.Close(ctx)
		<-s.loopDone
	})
	return transportErr
}

// Subscribe registers a subscriber. Its channel is closed when ctx is
// observed cancelled or the session shuts down. A subscriber that stops
// draining loses newest events rather than stalling the session.
func (s *Session) Subscribe(ctx context.Context) (*Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sub := &subscriber{
		id:     uuid.NewString(),
		ctx:    ctx,
		events: make(chan SessionEvent, subscriberBuffer),
	}
	if err := s.do(func() { s.subscribers[sub.id] = sub }); err != nil {
		return nil, err
	}
	return &Subscription{id: sub.id, events: sub.events}, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Session) Unsubscribe(subscription *Subscription) {
	if subscription == nil {
		return
	}
	_ = s.do(func() {
		if sub, ok := s.subscribers[subscription.id]; ok {
			delete(s.subscribers, subscription.id)
			close(sub.events)
		}
	})
}

// History returns a snapshot of the conversation history.
func (s *Session) History() []items.Item {
	var snapshot []items.Item
	if err := s.do(func() { snapshot = slices.Clone(s.history) }); err != nil {
		return nil
	}
	return snapshot
}

// CurrentAgent returns the active agent.
func (s *Session) CurrentAgent() *Agent {
	var agent *Agent
	if err := s.do(func() { agent = s.currentAgent }); err != nil {
		return nil
	}
	return agent
}

// SendMessage sends a user message. Input accepts a string, an
// items.MessageItem, or a pre-structured map payload.
func (s *Session) SendMessage(ctx context.Context, input any) error {
	return s.send(ctx, wire.SendMessage{Input: input})
}

// SendAudio appends audio to the input buffer, optionally committing it.
func (s *Session) SendAudio(ctx context.Context, audioBytes []byte, commit bool) error {
	return s.send(ctx, wire.SendAudio{Audio: audioBytes, Commit: commit})
}

// Interrupt stops the current model response, reporting actual playback
// progress first, and hard-resets playback state.
func (s *Session) Interrupt(ctx context.Context) error {
	if err := s.send(ctx, wire.SendInterrupt{}); err != nil {
		return err
	}
	s.tracker.OnInterrupted()
	return nil
}

// UpdateSessionSettings pushes new session settings to the server.
func (s *Session) UpdateSessionSettings(ctx context.Context, settings wire.SessionSettings) error {
	return s.send(ctx, wire.SendSessionUpdate{Settings: settings})
}

// SendRaw passes one raw client event through, validated against the known
// client event set.
func (s *Session) SendRaw(ctx context.Context, eventType string, data map[string]any) error {
	return s.send(ctx, wire.SendRaw{EventType: eventType, Data: data})
}

func (s *Session) send(ctx context.Context, command wire.Command) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	return s.transport.Send(ctx, command)
}

// OnModelEvent implements ModelListener: the transport's event order is
// preserved by funneling everything into the loop's event channel.
func (s *Session) OnModelEvent(_ context.Context, event wire.ModelEvent) error {
	select {
	case s.modelEvents <- event:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case s.commands <- wrapped:
	case <-s.closed:
		return ErrSessionClosed
	}
	select {
	case <-done:
	case <-s.closed:
		return ErrSessionClosed
	}
	return nil
}

// post schedules fn on the loop without waiting.
func (s *Session) post(fn func()) {
	select {
	case s.commands <- fn:
	case <-s.closed:
	}
}

func (s *Session) run() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.closed:
			s.shutdownSubscribers()
			return
		case fn := <-s.commands:
			fn()
		case event := <-s.modelEvents:
			s.applyModelEvent(event)
		case result := <-s.toolResults:
			s.finishToolCall(result)
		}
	}
}

func (s *Session) shutdownSubscribers() {
	for id, sub := range s.subscribers {
		delete(s.subscribers, id)
		close(sub.events)
	}
}

// publish fans an event out to all live subscribers. A full subscriber
// channel drops the event for that subscriber only.
func (s *Session) publish(event SessionEvent) {
	for id, sub := range s.subscribers {
		if sub.ctx.Err() != nil {
			delete(s.subscribers, id)
			close(sub.events)
			continue
		}
		select {
		case sub.events <- event:
		default:
			Logger().Warn("dropping session event for slow subscriber",
				"subscriber_id", id, "event_type", event.Type())
		}
	}
}

func (s *Session) publishError(err any) {
	s.publish(ErrorEvent{Error: err, Info: s.info})
}

func (s *Session) applyModelEvent(event wire.ModelEvent) {
	s.publish(RawModelEvent{Data: event, Info: s.info})

	switch e := event.(type) {
	case wire.ConnectionStatusEvent:
		switch e.Status {
		case wire.ConnectionConnected:
			s.transportGone = false
			s.publish(AgentStartEvent{Agent: s.currentAgent, Info: s.info})
			s.pushAgentSettings(s.currentAgent)
		case wire.ConnectionDisconnected:
			s.transportGone = true
			s.publishError(map[string]any{"message": "transport disconnected"})
		}
	case wire.ErrorEvent:
		s.publishError(e.Error)
	case wire.ToolCallEvent:
		s.startToolCall(e)
	case wire.AudioEvent:
		s.publish(AudioEvent{Audio: e, ItemID: e.ItemID, ContentIndex: e.ContentIndex, Info: s.info})
	case wire.AudioDoneEvent:
		s.publish(AudioEndEvent{ItemID: e.ItemID, ContentIndex: e.ContentIndex, Info: s.info})
	case wire.AudioInterruptedEvent:
		s.tracker.OnInterrupted()
		s.publish(AudioInterruptedEvent{ItemID: e.ItemID, Info: s.info})
	case wire.TranscriptDeltaEvent:
		s.applyTranscriptDelta(e)
	case wire.ItemUpdatedEvent:
		s.upsertHistory(e.Item)
	case wire.ItemDeletedEvent:
		s.deleteHistory(e.ItemID)
	case wire.TurnStartedEvent:
		s.publish(AgentStartEvent{Agent: s.currentAgent, Info: s.info})
	case wire.TurnEndedEvent:
		s.transcripts = make(map[string]string)
		clear(s.guardrailRuns)
		clear(s.interrupted)
		s.publish(AgentEndEvent{Agent: s.currentAgent, Info: s.info})
	case wire.InputAudioTranscriptionCompletedEvent:
		s.applyInputTranscription(e)
	case wire.InputAudioTimeoutTriggeredEvent:
		s.publish(InputAudioTimeoutTriggeredEvent{Info: s.info})
	}
}

func (s *Session) pushAgentSettings(agent *Agent) {
	settings, err := s.settingsForAgent(agent)
	if err != nil {
		s.publishError(map[string]any{"message": fmt.Sprintf("failed deriving session settings: %v", err)})
		return
	}
	if err := s.transport.Send(context.Background(), wire.SendSessionUpdate{Settings: settings}); err != nil {
		s.publishError(map[string]any{"message": fmt.Sprintf("failed sending session update: %v", err)})
	}
}

// settingsForAgent merges the agent's resolved configuration with the
// run-level override, the override winning field by field.
func (s *Session) settingsForAgent(agent *Agent) (wire.SessionSettings, error) {
	instructions, err := agent.ResolveInstructions(s.info.Context)
	if err != nil {
		return wire.SessionSettings{}, err
	}
	tools, err := agent.AllTools()
	if err != nil {
		return wire.SessionSettings{}, err
	}

	settings := wire.SessionSettings{
		Instructions: param.NewOpt(instructions),
	}
	if strings.TrimSpace(agent.Model) != "" {
		settings.Model = param.NewOpt(agent.Model)
	}
	definitions := make([]wire.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, tool.Definition())
	}
	settings.Tools = definitions

	return settings.Merge(s.runConfig.ModelSettings), nil
}

func (s *Session) startToolCall(call wire.ToolCallEvent) {
	agent := s.currentAgent
	tools, err := agent.AllTools()
	if err != nil {
		s.publishError(map[string]any{"message": fmt.Sprintf("failed to load tools: %v", err)})
		return
	}

	var tool Tool
	for _, candidate := range tools {
		if candidate.Name() == call.Name {
			tool = candidate
			break
		}
	}

	switch v := tool.(type) {
	case nil:
		output := fmt.Sprintf("Error: Unknown tool %s", call.Name)
		s.publishError(map[string]any{"message": fmt.Sprintf("tool %s not found", call.Name)})
		s.sendToolOutput(call, output)
		s.publish(ToolEndEvent{
			Agent:     s.currentAgent,
			Tool:      FunctionTool{ToolName: call.Name},
			Arguments: call.Arguments,
			Output:    output,
			Info:      s.info,
		})
	case HandoffTool:
		s.performHandoff(call, v)
	default:
		s.dispatchTool(call, v)
	}
}

// dispatchTool runs one tool in a supervised worker. Exactly one completion
// reaches the loop per call; a crash inside the tool is converted into an
// error output string instead of taking the session down.
func (s *Session) dispatchTool(call wire.ToolCallEvent, tool Tool) {
	s.publish(ToolStartEvent{Agent: s.currentAgent, Tool: tool, Arguments: call.Arguments, Info: s.info})

	ctx := ContextWithSessionContext(s.workersCtx, s.info.Context)
	if s.runConfig.SynchronousToolCalls {
		s.finishToolCall(toolResult{
			call:   call,
			tool:   tool,
			output: invokeToolSafely(ctx, tool, call.Arguments),
		})
		return
	}

	go func() {
		result := toolResult{
			call:   call,
			tool:   tool,
			output: invokeToolSafely(ctx, tool, call.Arguments),
		}
		select {
		case s.toolResults <- result:
		case <-s.closed:
		}
	}()
}

func invokeToolSafely(ctx context.Context, tool Tool, arguments string) (output string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			output = fmt.Sprintf("Error: tool %s panicked: %v", tool.Name(), recovered)
		}
	}()
	result, err := tool.Invoke(ctx, arguments)
	if err != nil {
		return fmt.Sprintf("Error: running tool %s failed: %v", tool.Name(), err)
	}
	return fmt.Sprint(result)
}

func (s *Session) finishToolCall(result toolResult) {
	s.sendToolOutput(result.call, result.output)

	itemID := result.call.ItemID
	if strings.TrimSpace(itemID) == "" {
		itemID = uuid.NewString()
	}
	record := items.NewToolCall(itemID, result.call.CallID, result.call.Name, result.call.Arguments)
	record.PreviousItemID = result.call.PreviousItemID
	s.upsertHistory(items.CompleteToolCall(record, result.output))

	s.publish(ToolEndEvent{
		Agent:     s.currentAgent,
		Tool:      result.tool,
		Arguments: result.call.Arguments,
		Output:    result.output,
		Info:      s.info,
	})
}

func (s *Session) sendToolOutput(call wire.ToolCallEvent, output string) {
	if s.transportGone {
		s.publishError(map[string]any{
			"message": fmt.Sprintf("cannot report output of tool %s: transport disconnected", call.Name),
		})
		return
	}
	err := s.transport.Send(context.Background(), wire.SendToolOutput{
		CallID:          call.CallID,
		Output:          output,
		TriggerResponse: !s.runConfig.SuppressToolResponse,
	})
	if err != nil {
		s.publishError(map[string]any{"message": fmt.Sprintf("failed sending tool output: %v", err)})
	}
}

func (s *Session) performHandoff(call wire.ToolCallEvent, tool HandoffTool) {
	target, err := tool.record.resolveTarget(s.info.Context)
	if err != nil {
		s.publishError(map[string]any{"message": err.Error()})
		return
	}

	previous := s.currentAgent
	s.currentAgent = target.Clone()

	s.publish(HandoffEvent{FromAgent: previous, ToAgent: s.currentAgent, Info: s.info})
	s.pushAgentSettings(s.currentAgent)
	s.sendToolOutput(call, tool.TransferMessage(s.currentAgent))
}

func (s *Session) applyTranscriptDelta(event wire.TranscriptDeltaEvent) {
	updated := s.transcripts[event.ItemID] + event.Delta
	s.transcripts[event.ItemID] = updated
	s.upsertAssistantTranscript(event.ItemID, updated)

	threshold := (s.guardrailRuns[event.ItemID] + 1) * s.runConfig.guardrailDebounceTextLength()
	if len(updated) < threshold {
		return
	}
	s.guardrailRuns[event.ItemID]++

	guardrails := s.collectGuardrails()
	if len(guardrails) == 0 {
		return
	}
	if _, done := s.interrupted[event.ResponseID]; done && event.ResponseID != "" {
		return
	}
	go s.runGuardrails(guardrails, s.currentAgent.Name, updated, event.ResponseID)
}

func (s *Session) collectGuardrails() []OutputGuardrail {
	guardrails := make([]OutputGuardrail, 0)
	seen := make(map[string]struct{})
	appendIfNew := func(guardrail OutputGuardrail) {
		key := guardrailDedupKey(guardrail)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		guardrails = append(guardrails, guardrail)
	}
	for _, guardrail := range s.currentAgent.OutputGuardrails {
		appendIfNew(guardrail)
	}
	for _, guardrail := range s.runConfig.OutputGuardrails {
		appendIfNew(guardrail)
	}
	return guardrails
}

func (s *Session) runGuardrails(
	guardrails []OutputGuardrail,
	agentName string,
	message string,
	responseID string,
) {
	ctx := ContextWithSessionContext(s.workersCtx, s.info.Context)
	triggered := make([]GuardrailResult, 0)
	for _, guardrail := range guardrails {
		result, err := runGuardrailSafely(ctx, guardrail, agentName, message)
		if err != nil {
			Logger().Warn("output guardrail failed", "guardrail", guardrail.Name, "error", err.Error())
			continue
		}
		if result.Output.TripwireTriggered {
			triggered = append(triggered, result)
		}
	}
	if len(triggered) == 0 {
		return
	}
	s.post(func() { s.handleGuardrailTrip(triggered, message, responseID) })
}

func (s *Session) handleGuardrailTrip(triggered []GuardrailResult, message, responseID string) {
	if responseID != "" {
		if _, done := s.interrupted[responseID]; done {
			return
		}
		s.interrupted[responseID] = struct{}{}
	}

	s.publish(GuardrailTrippedEvent{GuardrailResults: triggered, Message: message, Info: s.info})

	if err := s.transport.Send(context.Background(), wire.SendInterrupt{}); err != nil {
		s.publishError(map[string]any{"message": fmt.Sprintf("failed interrupting response: %v", err)})
	}
	s.tracker.OnInterrupted()

	names := make([]string, 0, len(triggered))
	for _, result := range triggered {
		name := strings.TrimSpace(result.Guardrail.Name)
		if name == "" {
			name = "unnamed_guardrail"
		}
		names = append(names, name)
	}
	err := s.transport.Send(context.Background(), wire.SendMessage{
		Input: fmt.Sprintf("guardrail triggered: %s", strings.Join(names, ", ")),
	})
	if err != nil {
		s.publishError(map[string]any{"message": fmt.Sprintf("failed reporting guardrail trip: %v", err)})
	}
}

// upsertHistory replaces an existing item with the same identifier, inserts
// after the item named by previous_item_id, or appends.
func (s *Session) upsertHistory(item items.Item) {
	itemID := item.ID()
	if strings.TrimSpace(itemID) == "" {
		s.history = append(s.history, item)
		s.publish(HistoryAddedEvent{Item: item, Info: s.info})
		return
	}

	for i := range s.history {
		if s.history[i].ID() != itemID {
			continue
		}
		s.history[i] = s.mergeKnownTranscript(item)
		s.publish(HistoryUpdatedEvent{History: slices.Clone(s.history), Info: s.info})
		return
	}

	if previous := previousItemID(item); previous != nil {
		for i := range s.history {
			if s.history[i].ID() != *previous {
				continue
			}
			s.history = slices.Insert(s.history, i+1, item)
			s.publish(HistoryAddedEvent{Item: item, Info: s.info})
			return
		}
	}

	s.history = append(s.history, item)
	s.publish(HistoryAddedEvent{Item: item, Info: s.info})
}

func (s *Session) deleteHistory(itemID string) {
	filtered := make([]items.Item, 0, len(s.history))
	for _, item := range s.history {
		if item.ID() != itemID {
			filtered = append(filtered, item)
		}
	}
	s.history = filtered
	s.publish(HistoryUpdatedEvent{History: slices.Clone(s.history), Info: s.info})
}

// mergeKnownTranscript keeps a locally accumulated transcript when the server
// re-sends an assistant item whose audio parts lack one.
func (s *Session) mergeKnownTranscript(item items.Item) items.Item {
	message, ok := item.(items.MessageItem)
	if !ok || message.Role != items.RoleAssistant {
		return item
	}
	transcript := s.transcripts[message.ItemID]
	if transcript == "" {
		return item
	}
	content := slices.Clone(message.Content)
	for i := range content {
		if content[i].Type == items.ContentAudio && content[i].Transcript == nil {
			value := transcript
			content[i].Transcript = &value
		}
	}
	message.Content = content
	return message
}

// upsertAssistantTranscript mutates the assistant message in place as the
// transcript streams; no session event is emitted for deltas.
func (s *Session) upsertAssistantTranscript(itemID, transcript string) {
	for i := range s.history {
		message, ok := s.history[i].(items.MessageItem)
		if !ok || message.ItemID != itemID || message.Role != items.RoleAssistant {
			continue
		}
		content := slices.Clone(message.Content)
		hasAudioPart := false
		for j := range content {
			if content[j].Type == items.ContentAudio {
				value := transcript
				content[j].Transcript = &value
				hasAudioPart = true
			}
		}
		if !hasAudioPart {
			content = append(content, items.TranscriptOnlyAudioContent(transcript))
		}
		message.Content = content
		s.history[i] = message
		return
	}

	status := items.StatusInProgress
	message := items.NewAssistantMessage(itemID, items.TranscriptOnlyAudioContent(transcript))
	message.Status = &status
	s.history = append(s.history, message)
}

// applyInputTranscription fills the transcript of a completed user audio
// item in place. A missing item is recreated as a completed text message.
func (s *Session) applyInputTranscription(event wire.InputAudioTranscriptionCompletedEvent) {
	itemID := strings.TrimSpace(event.ItemID)
	if itemID == "" {
		return
	}

	for i := range s.history {
		message, ok := s.history[i].(items.MessageItem)
		if !ok || message.ItemID != itemID || message.Role != items.RoleUser {
			continue
		}
		status := items.StatusCompleted
		message.Status = &status
		content := slices.Clone(message.Content)
		for j := range content {
			if content[j].Type == items.ContentInputAudio {
				value := event.Transcript
				content[j].Transcript = &value
			}
		}
		message.Content = content
		s.history[i] = message
		return
	}

	status := items.StatusCompleted
	message := items.NewUserMessage(itemID, items.InputTextContent(event.Transcript))
	message.Status = &status
	s.history = append(s.history, message)
}

func previousItemID(item items.Item) *string {
	switch v := item.(type) {
	case items.MessageItem:
		return v.PreviousItemID
	case items.ToolCallItem:
		return v.PreviousItemID
	default:
		return nil
	}
}
