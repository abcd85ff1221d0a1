package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

const suggestionPrompt = `You are a driver assist AI for an electric vehicle.
You receive one vehicle status report as JSON, including telemetry and an optional viewer profile.
Decide which proactive suggestions apply and answer with a single JSON object.

Allowed top-level keys:
- "proposal_ev_charge": suggest charging. Include when driving_status is "charging" or energy_status.battery_level is below 30.
  Value: {"type": "proposal_ev_charge", "return_direct": true, "reason": <short reason>, "charging_station": <optional name>}
- "proposal_video": suggest a video to watch, matched to user_data preferred_genres, when the occupant can safely watch (charging, autonomous driving, or viewer_role is "passenger").
  Value: {"type": "proposal_video", "return_direct": true, "title": <title>, "reason": <short reason>}

Omit every key that does not apply. If nothing applies, answer {}.
Answer with JSON only, no prose.

Vehicle status report:
`

// Generator produces a bundle of candidate proposals for one enriched
// vehicle status report. Keys are proposal type names.
type Generator interface {
	Generate(ctx context.Context, status json.RawMessage) (map[string]json.RawMessage, error)
}

// GeminiGenerator asks a Gemini model for suggestion bundles in JSON mode.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create suggestion client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model, logger: logger}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, status json.RawMessage) (map[string]json.RawMessage, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(suggestionPrompt+string(status)),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, fmt.Errorf("generate suggestions: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	g.logger.Debug("suggestion bundle received", "size", len(text))
	return ParseBundle([]byte(text))
}

// ParseBundle decodes a generator answer into named candidate proposals.
// Model answers occasionally arrive fenced; the fence is stripped first.
func ParseBundle(data []byte) (map[string]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return map[string]json.RawMessage{}, nil
	}
	var bundle map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &bundle); err != nil {
		return nil, fmt.Errorf("parse suggestion bundle: %w", err)
	}
	return bundle, nil
}
