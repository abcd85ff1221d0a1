package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownSession is returned for operations addressed to a client id the
// registry has no session for.
var ErrUnknownSession = errors.New("unknown session")

// ErrNoTransport is returned when an outbound payload has no connected
// transport to go to.
var ErrNoTransport = errors.New("no transport bound")

// Transport is the current client connection of a session. Transports are
// never shared across sessions and may be replaced on reconnect.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// Session is the durable server-side state for one logical client. It
// survives transport disconnects; only Teardown destroys it.
type Session struct {
	ID string

	input     chan json.RawMessage
	telemetry chan json.RawMessage

	mu        sync.Mutex
	transport Transport
	userName  string
	lang      string

	cancel  context.CancelFunc
	group   *errgroup.Group
	started chan struct{}
}

// SetUser records who is logged in on this session and their language.
func (s *Session) SetUser(userName, lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userName != "" {
		s.userName = userName
	}
	if lang != "" {
		s.lang = lang
	}
}

func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userName
}

func (s *Session) Lang() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// Bind points the session's outbound sink at a new transport, replacing any
// previous one.
func (s *Session) Bind(transport Transport) {
	s.mu.Lock()
	s.transport = transport
	s.mu.Unlock()
}

// Emit sends one payload to the currently bound transport.
func (s *Session) Emit(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return ErrNoTransport
	}
	return transport.Send(ctx, payload)
}

// PushInput queues one item for the agent loop.
func (s *Session) PushInput(ctx context.Context, raw json.RawMessage) error {
	select {
	case s.input <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushTelemetry queues one item for the proposal loop.
func (s *Session) PushTelemetry(ctx context.Context, raw json.RawMessage) error {
	select {
	case s.telemetry <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Input() <-chan json.RawMessage     { return s.input }
func (s *Session) Telemetry() <-chan json.RawMessage { return s.telemetry }

// Loops are the background tasks a session supervises.
type Loops struct {
	Agent  func(ctx context.Context) error
	Assist func(ctx context.Context) error
}

// Factory provisions per-session resources (backend connection, agent,
// proposal pipeline) and returns the loops to run. It is called with the
// session's own lifetime context.
type Factory func(ctx context.Context, sess *Session) (Loops, error)

type RegistryConfig struct {
	InputQueueSize     int
	TelemetryQueueSize int
	Logger             *slog.Logger
}

// Registry is the per-client session table. The lock covers only the table
// itself; provisioning runs outside it, so one session's slow factory never
// stalls lookups or creation for other clients. Concurrent reconnects for the
// same id still resolve to the same session because the entry is inserted
// before the factory runs.
type Registry struct {
	factory Factory
	cfg     RegistryConfig
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(factory Factory, cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 256
	}
	if cfg.TelemetryQueueSize <= 0 {
		cfg.TelemetryQueueSize = 64
	}
	return &Registry{
		factory:  factory,
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for clientID, creating it and starting its
// background loops on first contact. An existing session only has its
// transport rebound. The second return reports whether a session was created.
func (r *Registry) GetOrCreate(ctx context.Context, clientID string, transport Transport) (*Session, bool, error) {
	r.mu.Lock()
	if sess, ok := r.sessions[clientID]; ok {
		r.mu.Unlock()
		sess.Bind(transport)
		r.logger.Info("session transport rebound", "client_id", clientID)
		return sess, false, nil
	}

	sess := &Session{
		ID:        clientID,
		input:     make(chan json.RawMessage, r.cfg.InputQueueSize),
		telemetry: make(chan json.RawMessage, r.cfg.TelemetryQueueSize),
		transport: transport,
		userName:  "Takeshi",
		lang:      "ja",
		started:   make(chan struct{}),
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(sessCtx)
	sess.cancel = cancel
	sess.group = group
	r.sessions[clientID] = sess
	r.mu.Unlock()

	loops, err := r.factory(sessCtx, sess)
	if err != nil {
		close(sess.started)
		cancel()
		r.mu.Lock()
		if r.sessions[clientID] == sess {
			delete(r.sessions, clientID)
		}
		r.mu.Unlock()
		return nil, false, err
	}

	group.Go(func() error { return loops.Agent(groupCtx) })
	group.Go(func() error { return loops.Assist(groupCtx) })
	close(sess.started)

	r.logger.Info("session created", "client_id", clientID)
	return sess, true, nil
}

// Lookup returns the session for clientID without creating one.
func (r *Registry) Lookup(clientID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[clientID]
	return sess, ok
}

// Teardown cancels the session's background loops, waits for them to finish,
// and removes the session from the table.
func (r *Registry) Teardown(clientID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[clientID]
	delete(r.sessions, clientID)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	sess.cancel()
	// The loops may still be provisioning; wait until they have been handed
	// to the group before awaiting it.
	<-sess.started
	if err := sess.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("session loops ended with error", "client_id", clientID, "error", err)
	}
	r.logger.Info("session torn down", "client_id", clientID)
	return nil
}

// Shutdown tears down every session. It stops early if ctx expires, leaving
// remaining sessions to die with the process.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Teardown(id); err != nil && !errors.Is(err, ErrUnknownSession) {
			return err
		}
	}
	return nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
