package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/funcflow/internal/runtime/handlers"
	"github.com/drblury/funcflow/internal/runtime/invocation"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

type report struct {
	requestID  string
	output     string
	handlerErr error
}

// fakeClient serves invocations from a function and records every report.
type fakeClient struct {
	mu          sync.Mutex
	next        func(ctx context.Context, call int) (invocation.Invocation, []byte, error)
	calls       int
	reports     []report
	initReady   int
	initErrors  []error
	reportErr   error
	initRptErr  error
	pollStarted chan struct{}
}

func (f *fakeClient) Next(ctx context.Context) (invocation.Invocation, []byte, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	started := f.pollStarted
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if f.next == nil {
		return defaultInvocation(), []byte("hello"), nil
	}
	return f.next(ctx, call)
}

func (f *fakeClient) ReportResult(_ context.Context, inv invocation.Invocation, output []byte, handlerErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report{requestID: inv.RequestID, output: string(output), handlerErr: handlerErr})
	return f.reportErr
}

func (f *fakeClient) ReportInitReady(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initReady++
	return f.initRptErr
}

func (f *fakeClient) ReportInitError(_ context.Context, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErrors = append(f.initErrors, err)
	return f.initRptErr
}

func (f *fakeClient) recordedReports() []report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]report(nil), f.reports...)
}

func defaultInvocation() invocation.Invocation {
	return invocation.Invocation{RequestID: "r", MemoryLimitMB: 128, TimeLimitMs: 3000}
}

// blockUntilCancelled is a Next implementation that parks the poll the way a
// control plane with no work does.
func blockUntilCancelled(ctx context.Context) (invocation.Invocation, []byte, error) {
	<-ctx.Done()
	return invocation.Invocation{}, nil, errspkg.ErrCancelled
}

// echoHandler returns its input and counts Shutdown calls.
type echoHandler struct {
	mu          sync.Mutex
	handled     int
	shutdowns   int
	shutdownErr error
}

func (e *echoHandler) Handle(_ context.Context, event []byte) ([]byte, error) {
	e.mu.Lock()
	e.handled++
	e.mu.Unlock()
	return event, nil
}

func (e *echoHandler) Shutdown(context.Context, *invocation.ShutdownContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdowns++
	return e.shutdownErr
}

func (e *echoHandler) shutdownCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdowns
}

var _ handlerpkg.Handler = (*echoHandler)(nil)
