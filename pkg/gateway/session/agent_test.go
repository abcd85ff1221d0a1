package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aRaikoFunakami/copilot-automotive/pkg/core/realtime"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/tools"
)

type fakeBackend struct {
	events chan realtime.ServerEvent
	sent   chan []byte

	mu     sync.Mutex
	closed bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		events: make(chan realtime.ServerEvent, 16),
		sent:   make(chan []byte, 64),
	}
}

func (b *fakeBackend) Send(_ context.Context, event any) error {
	var payload []byte
	switch v := event.(type) {
	case []byte:
		payload = v
	case json.RawMessage:
		payload = v
	default:
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		payload = data
	}
	b.sent <- payload
	return nil
}

func (b *fakeBackend) Events() <-chan realtime.ServerEvent { return b.events }

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	return nil
}

func nextSent(t *testing.T, b *fakeBackend) map[string]any {
	t.Helper()
	select {
	case payload := <-b.sent:
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("sent frame not JSON: %v (%s)", err, payload)
		}
		return decoded
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing sent to backend within deadline")
	}
	return nil
}

func nextEmitted(t *testing.T, emitted <-chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-emitted:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing emitted to client within deadline")
	}
	return nil
}

func startAgent(t *testing.T) (*fakeBackend, chan json.RawMessage, chan []byte, func()) {
	t.Helper()
	backend := newFakeBackend()
	input := make(chan json.RawMessage, 16)
	emitted := make(chan []byte, 16)

	agent := NewAgent(backend, AgentConfig{
		Voice: "sage",
		Tools: tools.NewRegistry(tools.AirControl{}, tools.AirControlDelta{}),
	}, func(_ context.Context, payload []byte) error {
		emitted <- payload
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := agent.Run(ctx, input); err != nil {
			t.Errorf("agent run: %v", err)
		}
	}()

	// Handshake is always the first frame.
	handshake := nextSent(t, backend)
	if handshake["type"] != realtime.EventSessionUpdate {
		t.Fatalf("first frame type=%v, want session.update", handshake["type"])
	}
	sessionCfg := handshake["session"].(map[string]any)
	if sessionCfg["voice"] != "sage" {
		t.Fatalf("handshake voice=%v", sessionCfg["voice"])
	}
	if defs, ok := sessionCfg["tools"].([]any); !ok || len(defs) != 2 {
		t.Fatalf("handshake tools=%v, want 2 definitions", sessionCfg["tools"])
	}

	stop := func() {
		cancel()
		backend.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("agent did not stop")
		}
	}
	return backend, input, emitted, stop
}

func TestAgent_TextualUserInputTriggersAudioResponse(t *testing.T) {
	backend, input, _, stop := startAgent(t)
	defer stop()

	item, _ := json.Marshal(realtime.NewTextItem("user", "set the temperature to 22"))
	input <- item

	forwarded := nextSent(t, backend)
	if forwarded["type"] != realtime.EventConversationItemCreate {
		t.Fatalf("forwarded type=%v", forwarded["type"])
	}
	trigger := nextSent(t, backend)
	if trigger["type"] != realtime.EventResponseCreate {
		t.Fatalf("trigger type=%v", trigger["type"])
	}
	modalities := trigger["response"].(map[string]any)["modalities"].([]any)
	if len(modalities) != 2 {
		t.Fatalf("modalities=%v, want text+audio", modalities)
	}
}

func TestAgent_SystemInputTriggersTextResponse(t *testing.T) {
	backend, input, _, stop := startAgent(t)
	defer stop()

	item, _ := json.Marshal(realtime.NewTextItem("system", "battery level is 15 percent"))
	input <- item

	nextSent(t, backend) // forwarded item
	trigger := nextSent(t, backend)
	modalities := trigger["response"].(map[string]any)["modalities"].([]any)
	if len(modalities) != 1 || modalities[0] != "text" {
		t.Fatalf("modalities=%v, want text only", modalities)
	}
}

func TestAgent_PassthroughInputGetsNoTrigger(t *testing.T) {
	backend, input, _, stop := startAgent(t)
	defer stop()

	input <- json.RawMessage(`{"type":"input_audio_buffer.append","audio":"AAAA"}`)
	forwarded := nextSent(t, backend)
	if forwarded["type"] != "input_audio_buffer.append" {
		t.Fatalf("forwarded type=%v", forwarded["type"])
	}

	select {
	case payload := <-backend.sent:
		t.Fatalf("unexpected extra frame after passthrough: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAgent_ToolCallRoundTrip(t *testing.T) {
	backend, _, emitted, stop := startAgent(t)
	defer stop()

	backend.events <- realtime.ServerEvent{
		Type:      realtime.EventFunctionCallArgumentsDone,
		CallID:    "call_1",
		Name:      "intent_aircontrol",
		Arguments: `{"temperature":22}`,
	}

	output := nextSent(t, backend)
	if output["type"] != realtime.EventConversationItemCreate {
		t.Fatalf("tool output frame type=%v", output["type"])
	}
	item := output["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" {
		t.Fatalf("tool output item=%v", item)
	}

	trigger := nextSent(t, backend)
	if trigger["type"] != realtime.EventResponseCreate {
		t.Fatalf("trigger type=%v", trigger["type"])
	}

	// The payload bypasses narration and goes straight to the client.
	direct := nextEmitted(t, emitted)
	if !strings.Contains(string(direct), `"tools.aircontrol"`) {
		t.Fatalf("direct payload=%s", direct)
	}
}

func TestAgent_AudioDeltaForwardedVerbatim(t *testing.T) {
	backend, _, emitted, stop := startAgent(t)
	defer stop()

	raw := []byte(`{"type":"response.audio.delta","delta":"AAAA"}`)
	ev, err := realtime.DecodeServerEvent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	backend.events <- ev

	if got := nextEmitted(t, emitted); string(got) != string(raw) {
		t.Fatalf("emitted %s, want raw frame", got)
	}
}

func TestAgent_TextDoneEmitsPlainText(t *testing.T) {
	backend, _, emitted, stop := startAgent(t)
	defer stop()

	backend.events <- realtime.ServerEvent{Type: realtime.EventResponseTextDone, Text: "done charging soon"}
	if got := nextEmitted(t, emitted); string(got) != "done charging soon" {
		t.Fatalf("emitted %q", got)
	}
}

func TestAgent_BookkeepingEventsDropped(t *testing.T) {
	backend, _, emitted, stop := startAgent(t)
	defer stop()

	backend.events <- realtime.ServerEvent{Type: "session.created"}
	backend.events <- realtime.ServerEvent{Type: "response.done"}

	select {
	case payload := <-emitted:
		t.Fatalf("bookkeeping event leaked to client: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAgent_StopsWhenBackendStreamEnds(t *testing.T) {
	backend := newFakeBackend()
	input := make(chan json.RawMessage)
	agent := NewAgent(backend, AgentConfig{
		Voice: "sage",
		Tools: tools.NewRegistry(),
	}, func(context.Context, []byte) error { return nil })

	done := make(chan error, 1)
	go func() { done <- agent.Run(context.Background(), input) }()

	<-backend.sent // handshake
	backend.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("agent did not stop after backend stream ended")
	}
}
