package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (t *fakeTransport) Send(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), payload...))
	return nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func idleFactory(created *atomic.Int32) Factory {
	return func(ctx context.Context, sess *Session) (Loops, error) {
		if created != nil {
			created.Add(1)
		}
		wait := func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		return Loops{Agent: wait, Assist: wait}, nil
	}
}

func TestRegistry_ReuseRebindsTransportOnly(t *testing.T) {
	var created atomic.Int32
	registry := NewRegistry(idleFactory(&created), RegistryConfig{})
	defer registry.Shutdown(context.Background())

	first := &fakeTransport{}
	sess1, isNew, err := registry.GetOrCreate(context.Background(), "client_a", first)
	if err != nil || !isNew {
		t.Fatalf("first call: sess=%v new=%v err=%v", sess1, isNew, err)
	}

	second := &fakeTransport{}
	sess2, isNew, err := registry.GetOrCreate(context.Background(), "client_a", second)
	if err != nil || isNew {
		t.Fatalf("second call: new=%v err=%v", isNew, err)
	}
	if sess1 != sess2 {
		t.Fatalf("reconnect produced a different session")
	}
	if created.Load() != 1 {
		t.Fatalf("factory ran %d times, want 1", created.Load())
	}

	if err := sess2.Emit(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if first.count() != 0 || second.count() != 1 {
		t.Fatalf("emit went to old transport (first=%d second=%d)", first.count(), second.count())
	}
}

func TestRegistry_ConcurrentReconnectsShareOneSession(t *testing.T) {
	var created atomic.Int32
	registry := NewRegistry(idleFactory(&created), RegistryConfig{})
	defer registry.Shutdown(context.Background())

	const n = 16
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			sess, _, err := registry.GetOrCreate(context.Background(), "client_b", &fakeTransport{})
			if err != nil {
				t.Errorf("get_or_create: %v", err)
				return
			}
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("call %d got a different session", i)
		}
	}
	if created.Load() != 1 {
		t.Fatalf("factory ran %d times, want 1", created.Load())
	}
	if registry.Len() != 1 {
		t.Fatalf("registry holds %d sessions, want 1", registry.Len())
	}
}

func TestRegistry_TeardownCancelsLoops(t *testing.T) {
	loopsDone := make(chan struct{}, 2)
	factory := func(ctx context.Context, sess *Session) (Loops, error) {
		wait := func(ctx context.Context) error {
			<-ctx.Done()
			loopsDone <- struct{}{}
			return ctx.Err()
		}
		return Loops{Agent: wait, Assist: wait}, nil
	}
	registry := NewRegistry(factory, RegistryConfig{})

	if _, _, err := registry.GetOrCreate(context.Background(), "client_c", &fakeTransport{}); err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	if err := registry.Teardown("client_c"); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-loopsDone:
		case <-time.After(2 * time.Second):
			t.Fatalf("loop %d not cancelled", i)
		}
	}
	if _, ok := registry.Lookup("client_c"); ok {
		t.Fatalf("session still present after teardown")
	}
	if err := registry.Teardown("client_c"); err != ErrUnknownSession {
		t.Fatalf("second teardown err=%v, want ErrUnknownSession", err)
	}
}

func TestRegistry_ShutdownDrainsAllSessions(t *testing.T) {
	registry := NewRegistry(idleFactory(nil), RegistryConfig{})
	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := registry.GetOrCreate(context.Background(), id, &fakeTransport{}); err != nil {
			t.Fatalf("get_or_create %s: %v", id, err)
		}
	}
	if err := registry.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("registry holds %d sessions after shutdown", registry.Len())
	}
}

func TestRegistry_SlowFactoryDoesNotBlockOtherClients(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	factory := func(ctx context.Context, sess *Session) (Loops, error) {
		if sess.ID == "slow" {
			close(entered)
			<-release
		}
		wait := func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		return Loops{Agent: wait, Assist: wait}, nil
	}
	registry := NewRegistry(factory, RegistryConfig{})
	defer func() {
		close(release)
		registry.Shutdown(context.Background())
	}()

	go registry.GetOrCreate(context.Background(), "slow", &fakeTransport{})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("slow factory never entered")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		registry.Lookup("other")
		if _, _, err := registry.GetOrCreate(context.Background(), "fast", &fakeTransport{}); err != nil {
			t.Errorf("get_or_create fast: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("unrelated registry calls blocked behind a slow factory")
	}
}

func TestRegistry_FactoryErrorLeavesNoSession(t *testing.T) {
	factory := func(ctx context.Context, sess *Session) (Loops, error) {
		return Loops{}, context.DeadlineExceeded
	}
	registry := NewRegistry(factory, RegistryConfig{})

	if _, _, err := registry.GetOrCreate(context.Background(), "client_e", &fakeTransport{}); err == nil {
		t.Fatalf("expected factory error")
	}
	if registry.Len() != 0 {
		t.Fatalf("registry holds %d sessions after factory failure", registry.Len())
	}
	if err := registry.Teardown("client_e"); err != ErrUnknownSession {
		t.Fatalf("teardown err=%v, want ErrUnknownSession", err)
	}
}

func TestRegistry_AgentExitLeavesAssistRunning(t *testing.T) {
	assistAlive := make(chan struct{})
	factory := func(ctx context.Context, sess *Session) (Loops, error) {
		agent := func(ctx context.Context) error {
			// A failed backend connection ends the agent loop without error.
			return nil
		}
		assist := func(ctx context.Context) error {
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
				close(assistAlive)
			}
			<-ctx.Done()
			return ctx.Err()
		}
		return Loops{Agent: agent, Assist: assist}, nil
	}
	registry := NewRegistry(factory, RegistryConfig{})
	defer registry.Shutdown(context.Background())

	if _, _, err := registry.GetOrCreate(context.Background(), "client_f", &fakeTransport{}); err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	select {
	case <-assistAlive:
	case <-time.After(2 * time.Second):
		t.Fatalf("assist loop cancelled after agent loop exited")
	}
	if _, ok := registry.Lookup("client_f"); !ok {
		t.Fatalf("session gone after agent loop exited")
	}
}

func TestSession_EmitWithoutTransport(t *testing.T) {
	registry := NewRegistry(idleFactory(nil), RegistryConfig{})
	defer registry.Shutdown(context.Background())

	sess, _, err := registry.GetOrCreate(context.Background(), "client_d", &fakeTransport{})
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	sess.Bind(nil)
	if err := sess.Emit(context.Background(), []byte("x")); err != ErrNoTransport {
		t.Fatalf("emit err=%v, want ErrNoTransport", err)
	}
}
