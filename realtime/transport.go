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
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxstream/voxstream/audio"
	"github.com/voxstream/voxstream/wire"
)

// ModelListener receives every model event produced by a transport.
type ModelListener interface {
	OnModelEvent(ctx context.Context, event wire.ModelEvent) error
}

// Transport moves commands and model events across one realtime connection.
type Transport interface {
	Connect(ctx context.Context, options ConnectOptions) error
	AddListener(listener ModelListener)
	RemoveListener(listener ModelListener)
	Send(ctx context.Context, command wire.Command) error
	Close(ctx context.Context) error
}

// WebSocketConn is the connection surface the transport needs. Satisfied by
// *websocket.Conn.
type WebSocketConn interface {
	ReadMessage() (messageType int, payload []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// WebSocketDialer opens a websocket connection. Injectable for tests.
type WebSocketDialer func(
	ctx context.Context,
	rawURL string,
	headers map[string]string,
	config *TransportConfig,
) (WebSocketConn, error)

const (
	betaProtocolHeader = "realtime=v1"
	clientUserAgent    = "voxstream-go/0.1.0"
)

// WebSocketTransport is the gorilla/websocket transport implementation.
type WebSocketTransport struct {
	mu        sync.Mutex
	dial      WebSocketDialer
	conn      WebSocketConn
	done      chan struct{}
	pingStop  chan struct{}
	connected bool
	closing   bool
	autoVAD   bool
	playback  *audio.PlaybackTracker

	// writeMu serializes websocket writes; a multi-message command must
	// reach the wire uninterleaved.
	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []ModelListener
}

// NewWebSocketTransport creates a disconnected transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

// SetDialer overrides the websocket dialer. Must be called before Connect.
func (t *WebSocketTransport) SetDialer(dial WebSocketDialer) {
	t.dial = dial
}

func (t *WebSocketTransport) Connect(ctx context.Context, options ConnectOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return errors.New("transport is already connected")
	}

	endpoint, err := options.EndpointURL()
	if err != nil {
		return err
	}

	headers := options.Headers
	if len(headers) == 0 {
		apiKey, err := options.ResolveAPIKey(ctx)
		if err != nil {
			return err
		}
		if strings.TrimSpace(apiKey) == "" {
			return errors.New("api key is required but was not provided")
		}
		headers = map[string]string{
			"Authorization": "Bearer " + apiKey,
			"OpenAI-Beta":   betaProtocolHeader,
			"User-Agent":    clientUserAgent,
		}
	}

	dial := t.dial
	if dial == nil {
		dial = defaultWebSocketDialer
	}
	conn, err := dial(ctx, endpoint, headers, options.Transport)
	if err != nil {
		return fmt.Errorf("failed to connect websocket transport: %w", err)
	}

	t.conn = conn
	t.done = make(chan struct{})
	t.closing = false
	t.autoVAD = false
	t.playback = options.PlaybackTracker
	t.applySettings(options.InitialSettings)
	t.configureKeepalive(conn, options.Transport)
	go t.readLoop(conn, t.done)

	t.connected = true
	t.emit(ctx, wire.ConnectionStatusEvent{Status: wire.ConnectionConnected})
	return nil
}

func (t *WebSocketTransport) AddListener(listener ModelListener) {
	if listener == nil {
		return
	}
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	for _, existing := range t.listeners {
		if existing == listener {
			return
		}
	}
	t.listeners = append(t.listeners, listener)
}

func (t *WebSocketTransport) RemoveListener(listener ModelListener) {
	if listener == nil {
		return
	}
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	out := make([]ModelListener, 0, len(t.listeners))
	for _, existing := range t.listeners {
		if existing != listener {
			out = append(out, existing)
		}
	}
	t.listeners = out
}

func (t *WebSocketTransport) Send(ctx context.Context, command wire.Command) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	autoVAD := t.autoVAD
	t.mu.Unlock()
	if !connected || conn == nil {
		return errors.New("transport is not connected")
	}

	payloads, err := wire.MarshalCommand(command)
	if err != nil {
		return err
	}
	_, isInterrupt := command.(wire.SendInterrupt)
	if isInterrupt && autoVAD {
		// Server-side VAD cancels the response on its own; only the
		// playback truncation still needs reporting.
		payloads = nil
	}

	interruptedItemID, err := t.writePayloads(conn, payloads, isInterrupt)
	if err != nil {
		return err
	}
	if interruptedItemID != "" {
		t.emit(ctx, wire.AudioInterruptedEvent{ItemID: interruptedItemID})
	}

	if update, ok := command.(wire.SendSessionUpdate); ok {
		t.mu.Lock()
		t.applySettings(update.Settings)
		t.mu.Unlock()
	}
	return nil
}

func (t *WebSocketTransport) writePayloads(
	conn WebSocketConn,
	payloads []map[string]any,
	isInterrupt bool,
) (interruptedItemID string, err error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if isInterrupt {
		interruptedItemID, err = t.truncatePlayedAudio(conn)
		if err != nil {
			return "", err
		}
	}
	for _, payload := range payloads {
		if err := conn.WriteJSON(payload); err != nil {
			return "", fmt.Errorf("failed writing %s: %w", payload["type"], err)
		}
	}
	return interruptedItemID, nil
}

func (t *WebSocketTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
	conn := t.conn
	done := t.done
	t.conn = nil
	t.done = nil
	t.connected = false
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.Close()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	t.emit(ctx, wire.ConnectionStatusEvent{Status: wire.ConnectionDisconnected})
	return nil
}

// applySettings records which audio format playback duration math uses and
// whether server-side VAD already cancels interrupted responses.
// Callers must hold t.mu.
func (t *WebSocketTransport) applySettings(settings wire.SessionSettings) {
	if settings.OutputAudioFormat.Valid() && t.playback != nil {
		t.playback.SetFormat(audio.ParseFormat(settings.OutputAudioFormat.Value))
	}
	if settings.TurnDetection != nil {
		t.autoVAD = settings.AutomaticResponseCancellation()
	}
}

// truncatePlayedAudio reports actual playback progress before an interrupt,
// so the server-side history does not keep audio the user never heard. It
// returns the truncated item id, or "" when nothing was playing. Callers
// must hold t.writeMu.
func (t *WebSocketTransport) truncatePlayedAudio(conn WebSocketConn) (string, error) {
	if t.playback == nil {
		return "", nil
	}
	state := t.playback.State()
	if state.CurrentItemID == nil || state.CurrentContentIndex == nil || state.ElapsedMS == nil {
		return "", nil
	}
	if *state.ElapsedMS <= 0 {
		return "", nil
	}
	payload := wire.TruncateMessage(*state.CurrentItemID, *state.CurrentContentIndex, int(*state.ElapsedMS))
	if err := conn.WriteJSON(payload); err != nil {
		return "", fmt.Errorf("failed writing conversation.item.truncate: %w", err)
	}
	t.playback.OnInterrupted()
	return *state.CurrentItemID, nil
}

func (t *WebSocketTransport) configureKeepalive(conn WebSocketConn, config *TransportConfig) {
	if config == nil || config.PingInterval == nil || *config.PingInterval <= 0 {
		return
	}
	ws, ok := conn.(*websocket.Conn)
	if !ok {
		return
	}

	interval := *config.PingInterval
	deadline := interval
	if config.PingTimeout != nil && *config.PingTimeout > 0 {
		deadline = *config.PingTimeout
		_ = ws.SetReadDeadline(time.Now().Add(deadline))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	if t.pingStop != nil {
		close(t.pingStop)
	}
	t.pingStop = make(chan struct{})
	stop := t.pingStop
	done := t.done

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(deadline))
			case <-done:
				return
			case <-stop:
				return
			}
		}
	}()
}

func (t *WebSocketTransport) readLoop(conn WebSocketConn, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if t.isClosing() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.markDisconnected()
				t.emit(ctx, wire.ConnectionStatusEvent{Status: wire.ConnectionDisconnected})
				return
			}
			t.emit(ctx, wire.ErrorEvent{Error: err})
			t.markDisconnected()
			t.emit(ctx, wire.ConnectionStatusEvent{Status: wire.ConnectionDisconnected})
			return
		}
		t.handleMessage(ctx, raw)
	}
}

// handleMessage decodes one inbound frame exactly once, forwarding both the
// raw payload and its typed event to every listener.
func (t *WebSocketTransport) handleMessage(ctx context.Context, raw []byte) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.emit(ctx, wire.RawServerEvent{Data: string(raw)})
		t.emit(ctx, wire.ErrorEvent{Error: fmt.Errorf("malformed server message: %w", err)})
		return
	}
	t.emit(ctx, wire.RawServerEvent{Data: payload})
	t.emit(ctx, wire.ParseServerEvent(payload))
}

func (t *WebSocketTransport) isClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

func (t *WebSocketTransport) markDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.conn = nil
}

func (t *WebSocketTransport) emit(ctx context.Context, event wire.ModelEvent) {
	t.listenersMu.RLock()
	listeners := slices.Clone(t.listeners)
	t.listenersMu.RUnlock()
	for _, listener := range listeners {
		if listener == nil {
			continue
		}
		if err := listener.OnModelEvent(ctx, event); err != nil {
			Logger().Warn("model event listener failed",
				"event_type", event.Type(), "error", err.Error())
		}
	}
}

func defaultWebSocketDialer(
	ctx context.Context,
	rawURL string,
	headers map[string]string,
	config *TransportConfig,
) (WebSocketConn, error) {
	dialer := websocket.Dialer{}
	if config != nil && config.HandshakeTimeout != nil {
		dialer.HandshakeTimeout = *config.HandshakeTimeout
	}
	httpHeaders := make(http.Header, len(headers))
	for key, value := range headers {
		httpHeaders.Set(key, value)
	}
	conn, _, err := dialer.DialContext(ctx, rawURL, httpHeaders)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
