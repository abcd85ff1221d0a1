package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultEventBuffer = 32

type Config struct {
	// URL is the backend websocket endpoint; the model is appended as a
	// query parameter.
	URL    string
	Model  string
	APIKey string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Conn is one live connection to the generative backend. Sends are safe for
// concurrent use; Events is a single-consumer stream that closes when the
// connection drops.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	events chan ServerEvent
	done   chan struct{}
	once   sync.Once
}

// Dial connects to the backend and starts the read loop.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", cfg.Model)
	endpoint.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial backend: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial backend: %w", err)
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	c := &Conn{
		ws:           ws,
		logger:       logger,
		writeTimeout: writeTimeout,
		events:       make(chan ServerEvent, defaultEventBuffer),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("backend connection closed", "error", err)
			}
			return
		}
		ev, err := DecodeServerEvent(data)
		if err != nil {
			c.logger.Error("discarding undecodable backend frame", "error", err)
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// Events returns the decoded backend event stream. The channel closes when
// the connection ends.
func (c *Conn) Events() <-chan ServerEvent {
	return c.events
}

// Send marshals and writes one event. Raw JSON payloads ([]byte or
// json.RawMessage) are forwarded as-is.
func (c *Conn) Send(ctx context.Context, event any) error {
	var payload []byte
	switch v := event.(type) {
	case []byte:
		payload = v
	case json.RawMessage:
		payload = v
	default:
		b, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal backend event: %w", err)
		}
		payload = b
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.writeTimeout)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
