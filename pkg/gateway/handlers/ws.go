package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aRaikoFunakami/copilot-automotive/pkg/core/realtime"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/assist"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/config"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/lifecycle"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/protocol"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/session"
)

// wsTransport adapts one websocket connection to the session transport
// interface. Writes are serialized; gorilla connections allow only one
// concurrent writer.
type wsTransport struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func (t *wsTransport) Send(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// WSHandler handles /ws client connections. A disconnect ends only the read
// loop; the session and its background loops stay alive for reconnects.
type WSHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Registry  *session.Registry
}

func (h WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if h.Config.WSMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxMessageBytes)
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
		logger.Info("no client_id in query, generated one", "client_id", clientID)
	}
	logger = logger.With("client_id", clientID)

	transport := &wsTransport{conn: conn, timeout: h.Config.WSWriteTimeout}
	sess, created, err := h.Registry.GetOrCreate(r.Context(), clientID, transport)
	if err != nil {
		logger.Error("session not available", "error", err)
		h.sendErrorAck(r.Context(), transport, "Session unavailable")
		return
	}
	logger.Info("websocket connected", "new_session", created)

	ack, _ := json.Marshal(protocol.NewClientIDAck(clientID))
	if err := transport.Send(r.Context(), ack); err != nil {
		logger.Warn("client id ack not delivered", "error", err)
		return
	}

	stopPings := h.startPings(conn)
	defer stopPings()

	serverURL := requestBaseURL(r)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info("websocket disconnected", "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(r.Context(), logger, sess, transport, serverURL, data)
	}
}

func (h WSHandler) startPings(conn *websocket.Conn) func() {
	if h.Config.WSPingInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.Config.WSPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(h.Config.WSWriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (h WSHandler) dispatch(ctx context.Context, logger *slog.Logger, sess *session.Session, transport *wsTransport, serverURL string, data []byte) {
	if !json.Valid(data) {
		// Plain text from the client becomes a user message.
		item, err := json.Marshal(realtime.NewTextItem("user", string(data)))
		if err != nil {
			logger.Error("text input not serializable", "error", err)
			return
		}
		if err := sess.PushInput(ctx, item); err != nil {
			logger.Warn("text input not queued", "error", err)
		}
		return
	}

	decoded, err := protocol.DecodeClientMessage(data)
	if err != nil {
		logger.Warn("malformed client frame", "error", err)
		h.sendErrorAck(ctx, transport, "Malformed data")
		return
	}

	switch msg := decoded.(type) {
	case protocol.VehicleStatus:
		h.handleVehicleStatus(ctx, logger, sess, data)
	case protocol.Login:
		h.handleLogin(ctx, logger, transport, msg)
	case protocol.DemoAction:
		h.handleDemoAction(ctx, logger, transport, serverURL, msg)
	case protocol.StopConversation:
		h.handleStopConversation(ctx, logger, transport, data, msg)
	case protocol.Passthrough:
		if err := sess.PushInput(ctx, msg.Raw); err != nil {
			logger.Warn("input frame not queued", "error", err)
		}
	}
}

func (h WSHandler) handleVehicleStatus(ctx context.Context, logger *slog.Logger, sess *session.Session, raw []byte) {
	if err := sess.PushTelemetry(ctx, raw); err != nil {
		logger.Warn("vehicle status not queued for assist", "error", err)
	}
	// The conversation also learns the status, as injected system context.
	item, err := json.Marshal(realtime.NewTextItem("system", string(raw)))
	if err != nil {
		logger.Error("vehicle status not serializable", "error", err)
		return
	}
	if err := sess.PushInput(ctx, item); err != nil {
		logger.Warn("vehicle status not queued for conversation", "error", err)
	}
}

func (h WSHandler) handleLogin(ctx context.Context, logger *slog.Logger, transport *wsTransport, msg protocol.Login) {
	target, ok := h.Registry.Lookup(msg.TargetID)
	if !ok {
		logger.Warn("login relay target not found", "target_id", msg.TargetID)
		h.sendErrorAck(ctx, transport, "Target client not found")
		return
	}
	target.SetUser(msg.UserName, msg.Lang)

	notice, _ := json.Marshal(protocol.NewLoginNotice(msg.UserName, msg.Lang))
	if err := target.PushTelemetry(ctx, notice); err != nil {
		logger.Warn("login notice not queued", "target_id", msg.TargetID, "error", err)
	}

	if msg.Message != "" {
		item, err := json.Marshal(realtime.NewTextItem("user", msg.Message))
		if err != nil {
			logger.Error("login message not serializable", "error", err)
			return
		}
		if err := target.PushInput(ctx, item); err != nil {
			logger.Warn("login message not queued", "target_id", msg.TargetID, "error", err)
		}
	}
}

func (h WSHandler) handleDemoAction(ctx context.Context, logger *slog.Logger, transport *wsTransport, serverURL string, msg protocol.DemoAction) {
	target, ok := h.Registry.Lookup(msg.TargetID)
	if !ok {
		logger.Warn("demo action target not found", "target_id", msg.TargetID)
		h.sendErrorAck(ctx, transport, "Target client not found")
		return
	}
	vehicleData, ok := assist.ScenarioVehicleData(msg.Action)
	if !ok {
		logger.Error("demo scenario not found", "action", msg.Action)
		h.sendErrorAck(ctx, transport, "Unknown demo action")
		return
	}

	msg.VideoURL = serverURL + "/demo_action/" + msg.Action
	frame, err := json.Marshal(msg)
	if err != nil {
		logger.Error("demo action not serializable", "error", err)
		return
	}
	if err := target.Emit(ctx, frame); err != nil {
		logger.Warn("demo action not delivered", "target_id", msg.TargetID, "error", err)
	}

	notification := demoNotification(msg.Action, target.Lang())
	item, err := json.Marshal(realtime.NewTextItem("user", notification))
	if err != nil {
		logger.Error("demo notification not serializable", "error", err)
		return
	}
	if err := target.PushInput(ctx, item); err != nil {
		logger.Warn("demo notification not queued", "target_id", msg.TargetID, "error", err)
	}

	// The scenario telemetry follows after a short delay, as if the vehicle
	// reported it.
	go h.injectScenarioTelemetry(logger, target, msg.Action, vehicleData)
}

func (h WSHandler) injectScenarioTelemetry(logger *slog.Logger, target *session.Session, action string, vehicleData json.RawMessage) {
	delay := h.Config.DemoTelemetryDelay
	if delay > 0 {
		time.Sleep(delay)
	}
	// The session may have been torn down while waiting.
	if current, ok := h.Registry.Lookup(target.ID); !ok || current != target {
		logger.Info("scenario telemetry skipped, session gone", "action", action)
		return
	}
	status, err := json.Marshal(map[string]json.RawMessage{
		"type":         json.RawMessage(`"vehicle_status"`),
		"vehicle_data": vehicleData,
	})
	if err != nil {
		logger.Error("scenario telemetry not serializable", "action", action, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := target.PushTelemetry(ctx, status); err != nil {
		logger.Warn("scenario telemetry not queued", "action", action, "error", err)
		return
	}
	logger.Info("scenario telemetry injected", "action", action)
}

func (h WSHandler) handleStopConversation(ctx context.Context, logger *slog.Logger, transport *wsTransport, raw []byte, msg protocol.StopConversation) {
	target, ok := h.Registry.Lookup(msg.TargetID)
	if !ok {
		logger.Warn("stop_conversation target not found", "target_id", msg.TargetID)
		h.sendErrorAck(ctx, transport, "Target client not found")
		return
	}
	if err := target.Emit(ctx, raw); err != nil {
		logger.Warn("stop_conversation not delivered", "target_id", msg.TargetID, "error", err)
	}
}

func (h WSHandler) sendErrorAck(ctx context.Context, transport *wsTransport, message string) {
	ack, _ := json.Marshal(protocol.ErrorAck{Error: message})
	_ = transport.Send(ctx, ack)
}

func demoNotification(action, lang string) string {
	var mode string
	switch action {
	case protocol.ActionStartAutonomous:
		mode = "Autonomous"
	case protocol.ActionStartEVCharge:
		mode = "EV Charge"
	case protocol.ActionStartBatteryLevelLow:
		return fmt.Sprintf("Please notify the user: The car's battery level is low.\nPlease respond in the language specified by %s.", lang)
	}
	return fmt.Sprintf("Please notify the user: The car is now in %s mode.\nPlease respond in the language specified by %s.", mode, lang)
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
