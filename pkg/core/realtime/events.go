package realtime

import (
	"encoding/json"
	"fmt"
)

// Server event types the session layer dispatches on.
const (
	EventError                            = "error"
	EventResponseAudioDelta               = "response.audio.delta"
	EventResponseTextDone                 = "response.text.done"
	EventResponseAudioTranscriptDone      = "response.audio_transcript.done"
	EventInputAudioTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventFunctionCallArgumentsDone        = "response.function_call_arguments.done"
	EventInputAudioSpeechStarted          = "input_audio_buffer.speech_started"
	EventResponseAudioSpeechStarted       = "response.audio_buffer.speech_started"
)

// Client event types sent to the backend.
const (
	EventSessionUpdate          = "session.update"
	EventConversationItemCreate = "conversation.item.create"
	EventResponseCreate         = "response.create"
)

// bookkeeping holds backend event types that carry no information the session
// layer acts on. They are dropped without logging noise.
var bookkeeping = map[string]struct{}{
	"response.function_call_arguments.delta": {},
	"rate_limits.updated":                    {},
	"response.audio_transcript.delta":        {},
	"response.created":                       {},
	"response.content_part.added":            {},
	"response.content_part.done":             {},
	"conversation.item.created":              {},
	"response.audio.done":                    {},
	"session.created":                        {},
	"session.updated":                        {},
	"response.done":                          {},
	"response.output_item.done":              {},
	"response.text.delta":                    {},
	"response.output_item.added":             {},
}

// Bookkeeping reports whether a server event type is a known no-op for the
// session layer.
func Bookkeeping(typ string) bool {
	_, ok := bookkeeping[typ]
	return ok
}

type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type TranscriptionConfig struct {
	Model string `json:"model"`
}

type SessionConfig struct {
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	Tools                   []ToolDefinition     `json:"tools,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
}

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ConversationItem struct {
	ID      string        `json:"id,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

type ResponseConfig struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions,omitempty"`
	Voice        string   `json:"voice,omitempty"`
}

type ResponseCreate struct {
	Type     string         `json:"type"`
	EventID  string         `json:"event_id,omitempty"`
	Response ResponseConfig `json:"response"`
}

// NewTextItem wraps plain text as a conversation item with the given role,
// the shape the backend expects for injected text input.
func NewTextItem(role, text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: EventConversationItemCreate,
		Item: ConversationItem{
			ID:   "text_input",
			Type: "message",
			Role: role,
			Content: []ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// NewToolOutputItem wraps a tool execution output so it re-enters the
// conversation under the originating call id.
func NewToolOutputItem(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: EventConversationItemCreate,
		Item: ConversationItem{
			ID:     callID,
			CallID: callID,
			Type:   "function_call_output",
			Output: output,
		},
	}
}

// NewTextResponse asks the backend to generate a text-only response.
func NewTextResponse() ResponseCreate {
	return ResponseCreate{
		Type:    EventResponseCreate,
		EventID: "text_event",
		Response: ResponseConfig{
			Modalities:   []string{"text"},
			Instructions: "Please respond by text.",
		},
	}
}

// NewAudioResponse asks the backend to generate a spoken response.
func NewAudioResponse(voice string) ResponseCreate {
	return ResponseCreate{
		Type:    EventResponseCreate,
		EventID: "audio_event",
		Response: ResponseConfig{
			Modalities:   []string{"text", "audio"},
			Instructions: "Please respond by audio.",
			Voice:        voice,
		},
	}
}

type ServerError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServerEvent is one decoded frame from the backend. Only the fields the
// session layer dispatches on are decoded; Raw keeps the original frame for
// verbatim forwarding.
type ServerEvent struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Text       string          `json:"text,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  string          `json:"arguments,omitempty"`
	Error      *ServerError    `json:"error,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("decode server event: %w", err)
	}
	if ev.Type == "" {
		return ServerEvent{}, fmt.Errorf("server event missing type")
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return ev, nil
}

// TextItemRole reports the role of a client frame that is a textual
// conversation-item-create (a message item carrying at least one input_text
// part). Raw audio frames and other passthrough events report ok=false.
func TextItemRole(data []byte) (role string, ok bool) {
	var msg ConversationItemCreate
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", false
	}
	if msg.Type != EventConversationItemCreate || msg.Item.Type != "message" {
		return "", false
	}
	switch msg.Item.Role {
	case "user", "assistant", "system":
	default:
		return "", false
	}
	for _, part := range msg.Item.Content {
		if part.Type == "input_text" {
			return msg.Item.Role, true
		}
	}
	return "", false
}
