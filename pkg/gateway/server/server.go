// Package server wires the gateway together: session registry, backend
// connections, suggestion pipeline, routes, and the middleware chain.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aRaikoFunakami/copilot-automotive/pkg/core/realtime"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/assist"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/config"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/handlers"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/lifecycle"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/mw"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/session"
	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/tools"
)

const backendHandshakeTimeout = 10 * time.Second

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	lifecycle *lifecycle.Lifecycle
	tools     *tools.Registry
	generator assist.Generator
	sessions  *session.Registry
}

func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	generator, err := assist.NewGeminiGenerator(context.Background(), cfg.SuggestAPIKey, cfg.SuggestModel, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		lifecycle: &lifecycle.Lifecycle{},
		tools: tools.NewRegistry(
			tools.AirControl{},
			tools.AirControlDelta{},
			tools.LaunchNavigation{},
			tools.SearchVideos{},
		),
		generator: generator,
	}
	s.sessions = session.NewRegistry(s.sessionFactory, session.RegistryConfig{
		InputQueueSize:     cfg.InputQueueSize,
		TelemetryQueueSize: cfg.TelemetryQueueSize,
		Logger:             logger,
	})

	s.routes()
	return s, nil
}

// sessionFactory provisions one session: the agent loop consuming the merged
// stream and the proposal pipeline on the telemetry queue. The backend dial
// happens inside the agent loop, not here, so a slow or failing backend never
// stalls session creation. Connection failures end only the agent loop; the
// arbiter and the session entry live on for reconnects.
func (s *Server) sessionFactory(_ context.Context, sess *session.Session) (session.Loops, error) {
	logger := s.logger.With("client_id", sess.ID)

	arbiter := assist.NewArbiter(assist.ArbiterConfig{
		Generator: s.generator,
		Timeout:   s.cfg.SuggestTimeout,
		Logger:    logger,
		Emit:      sess.Emit,
		PushInput: sess.PushInput,
	})

	return session.Loops{
		Agent: func(ctx context.Context) error {
			conn, err := realtime.Dial(ctx, realtime.Config{
				URL:              s.cfg.BackendURL,
				Model:            s.cfg.BackendModel,
				APIKey:           s.cfg.BackendAPIKey,
				HandshakeTimeout: backendHandshakeTimeout,
				WriteTimeout:     s.cfg.WSWriteTimeout,
			}, logger)
			if err != nil {
				logger.Error("backend connection failed", "error", err)
				return nil
			}
			defer conn.Close()

			agent := session.NewAgent(conn, session.AgentConfig{
				Voice:  s.cfg.BackendVoice,
				Tools:  s.tools,
				Logger: logger,
			}, sess.Emit)
			if err := agent.Run(ctx, sess.Input()); err != nil {
				logger.Error("agent loop ended", "error", err)
			}
			return nil
		},
		Assist: func(ctx context.Context) error {
			return arbiter.Run(ctx, sess.Telemetry())
		},
	}, nil
}

func (s *Server) routes() {
	s.mux.Handle("/health", handlers.HealthHandler{})
	s.mux.Handle("/", handlers.HealthHandler{})

	s.mux.Handle("/ws", handlers.WSHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
		Registry:  s.sessions,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes new websocket connections be refused while existing
// sessions wind down.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// ShutdownSessions tears down every live session, bounded by ctx.
func (s *Server) ShutdownSessions(ctx context.Context) error {
	return s.sessions.Shutdown(ctx)
}

// Sessions exposes the registry for introspection.
func (s *Server) Sessions() *session.Registry {
	return s.sessions
}
