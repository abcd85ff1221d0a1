package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// AuthToken is the shared secret gating every transport connection.
	// Startup fails when it is unset.
	AuthToken string

	// Realtime backend connection.
	BackendURL    string
	BackendModel  string
	BackendAPIKey string
	BackendVoice  string

	// Suggestion generator (Gemini).
	SuggestModel   string
	SuggestAPIKey  string
	SuggestTimeout time.Duration

	// Per-session queue capacities.
	InputQueueSize     int
	TelemetryQueueSize int

	// Demo scenario telemetry is injected this long after a demo action fires.
	DemoTelemetryDelay time.Duration

	// WebSocket limits.
	WSMaxMessageBytes int64
	WSWriteTimeout    time.Duration
	WSPingInterval    time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("COPILOT_ADDR", ":3000"),
		AuthToken:           strings.TrimSpace(os.Getenv("AUTH_TOKEN")),
		BackendURL:          envOr("COPILOT_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		BackendModel:        envOr("COPILOT_REALTIME_MODEL", "gpt-4o-mini-realtime-preview"),
		BackendAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BackendVoice:        envOr("COPILOT_REALTIME_VOICE", "sage"),
		SuggestModel:        envOr("COPILOT_SUGGEST_MODEL", "gemini-2.0-flash"),
		SuggestAPIKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		SuggestTimeout:      envDurationOr("COPILOT_SUGGEST_TIMEOUT", 20*time.Second),
		InputQueueSize:      envIntOr("COPILOT_INPUT_QUEUE_SIZE", 256),
		TelemetryQueueSize:  envIntOr("COPILOT_TELEMETRY_QUEUE_SIZE", 64),
		DemoTelemetryDelay:  envDurationOr("COPILOT_DEMO_TELEMETRY_DELAY", 5*time.Second),
		WSMaxMessageBytes:   envInt64Or("COPILOT_WS_MAX_MESSAGE_BYTES", 16<<20), // audio frames arrive as base64 JSON
		WSWriteTimeout:      envDurationOr("COPILOT_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:      envDurationOr("COPILOT_WS_PING_INTERVAL", 20*time.Second),
		ReadHeaderTimeout:   envDurationOr("COPILOT_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("COPILOT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.AuthToken == "" {
		return Config{}, fmt.Errorf("AUTH_TOKEN must be set before starting the server")
	}
	if cfg.BackendAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.BackendURL) == "" {
		return Config{}, fmt.Errorf("COPILOT_REALTIME_URL must not be empty")
	}
	if strings.TrimSpace(cfg.BackendModel) == "" {
		return Config{}, fmt.Errorf("COPILOT_REALTIME_MODEL must not be empty")
	}
	if cfg.SuggestTimeout <= 0 {
		return Config{}, fmt.Errorf("COPILOT_SUGGEST_TIMEOUT must be > 0")
	}
	if cfg.InputQueueSize <= 0 {
		return Config{}, fmt.Errorf("COPILOT_INPUT_QUEUE_SIZE must be > 0")
	}
	if cfg.TelemetryQueueSize <= 0 {
		return Config{}, fmt.Errorf("COPILOT_TELEMETRY_QUEUE_SIZE must be > 0")
	}
	if cfg.DemoTelemetryDelay < 0 {
		return Config{}, fmt.Errorf("COPILOT_DEMO_TELEMETRY_DELAY must be >= 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("COPILOT_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("COPILOT_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("COPILOT_WS_PING_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("COPILOT_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("COPILOT_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
