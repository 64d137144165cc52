package runtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	configpkg "github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/funcflow/internal/runtime/handlers"
	"github.com/drblury/funcflow/internal/runtime/invocation"
)

func newTestLifecycle(t *testing.T, maxTimes int, fc RuntimeClient, factory handlerpkg.Factory) *Lifecycle {
	t.Helper()
	cfg := configpkg.Default()
	cfg.Lifecycle.MaxTimes = maxTimes
	l, err := NewLifecycle(cfg, newTestLogger(), factory, WithRuntimeClient(fc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return l
}

func waitDone(t *testing.T, l *Lifecycle) (int, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	count, err := l.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("lifecycle did not finish in time")
	}
	return count, err
}

func TestSetStateIsStrictlyMonotonic(t *testing.T) {
	states := []State{StateIdle, StateInitializing, StateActive, StateShuttingDown, StateShutdown}
	for _, from := range states {
		for _, to := range states {
			l := newTestLifecycle(t, 1, &fakeClient{}, handlerpkg.Static(&echoHandler{}))
			l.state = from

			panicked := func() (p bool) {
				defer func() {
					if rec := recover(); rec != nil {
						var stateErr *errspkg.StateError
						if err, ok := rec.(error); !ok || !errors.As(err, &stateErr) {
							t.Fatalf("expected StateError panic, got %v", rec)
						}
						p = true
					}
				}()
				l.setState(to)
				return false
			}()

			if want := to <= from; panicked != want {
				t.Fatalf("setState(%s -> %s): panicked=%v, want %v", from, to, panicked, want)
			}
			if !panicked && l.state != to {
				t.Fatalf("expected state %s, got %s", to, l.state)
			}
		}
	}
}

func TestLifecycleMaxTimes(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		fc := &fakeClient{}
		handler := &echoHandler{}
		l := newTestLifecycle(t, n, fc, handlerpkg.Static(handler))

		count, err := l.Run(context.Background())
		if err != nil {
			t.Fatalf("maxTimes=%d: unexpected error: %v", n, err)
		}
		if count != n {
			t.Fatalf("maxTimes=%d: expected %d cycles, got %d", n, n, count)
		}
		if got := len(fc.recordedReports()); got != n {
			t.Fatalf("maxTimes=%d: expected %d reports, got %d", n, n, got)
		}
		if handler.shutdownCount() != 1 {
			t.Fatalf("maxTimes=%d: expected a single handler shutdown, got %d", n, handler.shutdownCount())
		}
		if l.State() != StateShutdown {
			t.Fatalf("expected shutdown state, got %s", l.State())
		}
	}
}

func TestLifecycleUnboundedRunsUntilCancelled(t *testing.T) {
	const served = 7
	reachedIdle := make(chan struct{})
	var once sync.Once
	fc := &fakeClient{next: func(ctx context.Context, call int) (invocation.Invocation, []byte, error) {
		if call > served {
			once.Do(func() { close(reachedIdle) })
			return blockUntilCancelled(ctx)
		}
		return defaultInvocation(), []byte("hello"), nil
	}}
	handler := &echoHandler{}
	l := newTestLifecycle(t, 0, fc, handlerpkg.Static(handler))

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-reachedIdle:
	case <-time.After(5 * time.Second):
		t.Fatal("loop never reached an idle poll")
	}
	if _, err := l.Result(); !errors.Is(err, errspkg.ErrStillRunning) {
		t.Fatalf("expected ErrStillRunning before cancellation, got %v", err)
	}

	cancel()
	count, err := waitDone(t, l)
	if err != nil {
		t.Fatalf("cancellation during shutdown must resolve cleanly, got %v", err)
	}
	if count != served {
		t.Fatalf("expected %d cycles, got %d", served, count)
	}
	if handler.shutdownCount() != 1 {
		t.Fatalf("expected handler shutdown once, got %d", handler.shutdownCount())
	}
	if got, _ := l.Result(); got != served {
		t.Fatalf("Result() = %d, want %d", got, served)
	}
}

func TestLifecycleShutdownIsIdempotent(t *testing.T) {
	fc := &fakeClient{next: func(ctx context.Context, _ int) (invocation.Invocation, []byte, error) {
		return blockUntilCancelled(ctx)
	}, pollStarted: make(chan struct{}, 1)}
	l := newTestLifecycle(t, 0, fc, handlerpkg.Static(&echoHandler{}))

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-fc.pollStarted

	l.Shutdown()
	l.Shutdown()

	count, err := waitDone(t, l)
	if err != nil || count != 0 {
		t.Fatalf("expected success(0), got %d, %v", count, err)
	}
	l.Shutdown()
}

func TestLifecycleStartTwice(t *testing.T) {
	l := newTestLifecycle(t, 1, &fakeClient{}, handlerpkg.Static(&echoHandler{}))
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stateErr *errspkg.StateError
	if err := l.Start(context.Background()); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	_, _ = waitDone(t, l)
}

func TestLifecycleInitializationFailure(t *testing.T) {
	fc := &fakeClient{}
	handler := &echoHandler{}
	boom := errors.New("no credentials")
	l := newTestLifecycle(t, 3, fc, func(context.Context, *invocation.InitializationContext) (handlerpkg.Handler, error) {
		return handler, boom
	})

	count, err := l.Run(context.Background())
	var initErr *errspkg.InitializationError
	if !errors.As(err, &initErr) || !errors.Is(err, boom) {
		t.Fatalf("expected InitializationError wrapping cause, got %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no cycles, got %d", count)
	}
	if handler.shutdownCount() != 0 {
		t.Fatal("handler shutdown must not run when construction failed")
	}
	if len(fc.initErrors) != 1 {
		t.Fatalf("expected init error reported once, got %d", len(fc.initErrors))
	}
	if l.State() != StateShutdown {
		t.Fatalf("expected shutdown state, got %s", l.State())
	}
}

func TestLifecycleShutdownFailureIsCombined(t *testing.T) {
	closeErr := errors.New("flush failed")
	handler := &echoHandler{shutdownErr: closeErr}
	l := newTestLifecycle(t, 2, &fakeClient{}, handlerpkg.Static(handler))

	count, err := l.Run(context.Background())
	var shutdownErr *errspkg.ShutdownError
	if !errors.As(err, &shutdownErr) {
		t.Fatalf("expected ShutdownError, got %v", err)
	}
	if count != 2 || shutdownErr.Count != 2 || shutdownErr.RunErr != nil {
		t.Fatalf("unexpected shutdown error %+v", shutdownErr)
	}
	if !errors.Is(err, closeErr) {
		t.Fatal("expected shutdown cause to be reachable")
	}
}

func TestLifecycleRunErrorAndShutdownErrorAreBothKept(t *testing.T) {
	statusErr := &errspkg.BadStatusCodeError{StatusCode: 502}
	fc := &fakeClient{next: func(_ context.Context, call int) (invocation.Invocation, []byte, error) {
		if call > 2 {
			return invocation.Invocation{}, nil, statusErr
		}
		return defaultInvocation(), []byte("hello"), nil
	}}
	closeErr := errors.New("flush failed")
	l := newTestLifecycle(t, 0, fc, handlerpkg.Static(&echoHandler{shutdownErr: closeErr}))

	count, err := l.Run(context.Background())
	if count != 2 {
		t.Fatalf("expected 2 cycles before failure, got %d", count)
	}
	if !errors.Is(err, statusErr) || !errors.Is(err, closeErr) {
		t.Fatalf("expected both errors to be retained, got %v", err)
	}
}

func TestLifecycleShutdownBeforeStart(t *testing.T) {
	l := newTestLifecycle(t, 1, &fakeClient{}, handlerpkg.Static(&echoHandler{}))
	l.Shutdown()

	select {
	case <-l.Done():
	default:
		t.Fatal("expected lifecycle to be done")
	}
	if l.State() != StateShutdown {
		t.Fatalf("expected shutdown state, got %s", l.State())
	}
	var stateErr *errspkg.StateError
	if err := l.Start(context.Background()); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
}

// stubControlPlane answers every poll with the same invocation and records
// the bodies posted to /response.
type stubControlPlane struct {
	mu        sync.Mutex
	responses []string
	errors    []string
	initReady int
	delay     time.Duration
}

func (s *stubControlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	switch r.URL.Path {
	case "/runtime/invocation/next":
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-r.Context().Done():
				return
			}
		}
		invocation.Invocation{RequestID: "r", MemoryLimitMB: 128, TimeLimitMs: 3000}.Apply(w.Header())
		_, _ = io.WriteString(w, "hello")
	case "/runtime/invocation/response":
		s.mu.Lock()
		s.responses = append(s.responses, string(body))
		s.mu.Unlock()
	case "/runtime/invocation/error":
		s.mu.Lock()
		s.errors = append(s.errors, string(body))
		s.mu.Unlock()
	case "/runtime/init/ready":
		s.mu.Lock()
		s.initReady++
		s.mu.Unlock()
	case "/runtime/init/error":
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func configForServer(t *testing.T, srv *httptest.Server, overrides map[string]string) configpkg.Config {
	t.Helper()
	if overrides == nil {
		overrides = map[string]string{}
	}
	overrides["RUNTIME_API"] = strings.TrimPrefix(srv.URL, "http://")
	cfg, err := configpkg.ForTesting(overrides)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	return cfg
}

func TestLifecycleEndToEndEcho(t *testing.T) {
	stub := &stubControlPlane{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	cfg := configForServer(t, srv, map[string]string{"MAX_REQUESTS": "3"})
	echo := handlerpkg.HandlerFunc(func(_ context.Context, event []byte) ([]byte, error) {
		return event, nil
	})
	l, err := NewLifecycle(cfg, newTestLogger(), handlerpkg.Static(echo))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected success(3), got %d", count)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.responses) != 3 {
		t.Fatalf("expected 3 /response calls, got %d", len(stub.responses))
	}
	for i, body := range stub.responses {
		if body != "hello" {
			t.Fatalf("response %d: expected body hello, got %q", i, body)
		}
	}
	if stub.initReady != 1 || len(stub.errors) != 0 {
		t.Fatalf("unexpected control plane traffic: ready=%d errors=%v", stub.initReady, stub.errors)
	}
}

func TestLifecycleRequestTimeout(t *testing.T) {
	stub := &stubControlPlane{delay: 2 * time.Second}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	cfg := configForServer(t, srv, map[string]string{"REQUEST_TIMEOUT": "50"})
	l, err := NewLifecycle(cfg, newTestLogger(), handlerpkg.Static(&echoHandler{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = l.Run(context.Background())
	var upstream *errspkg.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Reason != errspkg.ReasonTimeout {
		t.Fatalf("expected timeout reason, got %q", upstream.Reason)
	}
}
