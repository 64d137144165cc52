package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/funcflow/internal/runtime/handlers"
	"github.com/drblury/funcflow/internal/runtime/invocation"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
)

const tracerName = "github.com/drblury/funcflow"

// RuntimeClient is the control-plane surface the Runner depends on.
// *client.Client implements it.
type RuntimeClient interface {
	Next(ctx context.Context) (invocation.Invocation, []byte, error)
	ReportResult(ctx context.Context, inv invocation.Invocation, output []byte, handlerErr error) error
	ReportInitReady(ctx context.Context) error
	ReportInitError(ctx context.Context, initErr error) error
}

// Runner drives the cold start and single invoke cycles. It is used by one
// goroutine at a time; only CancelWaitingForNextInvocation may be called
// concurrently.
type Runner struct {
	client    RuntimeClient
	logger    loggingpkg.ServiceLogger
	resources invocation.Resources
	hooks     InvocationHooks
	tracer    trace.Tracer
	now       func() time.Time
	usage     *usageTracker

	mu         sync.Mutex
	cancelPoll context.CancelFunc
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithRunnerHooks installs invocation hooks.
func WithRunnerHooks(hooks InvocationHooks) RunnerOption {
	return func(r *Runner) {
		r.hooks = r.hooks.Merge(hooks)
	}
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithClock overrides time.Now for deterministic deadlines.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner builds a Runner around client.
func NewRunner(client RuntimeClient, logger loggingpkg.ServiceLogger, opts ...RunnerOption) (*Runner, error) {
	if client == nil {
		return nil, errspkg.ErrClientRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	r := &Runner{
		client: client,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		usage:  newUsageTracker(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.resources = invocation.Resources{Logger: logger, Tracer: r.tracer}
	return r, nil
}

// Resources returns the shared handles given to every phase context.
func (r *Runner) Resources() invocation.Resources {
	return r.resources
}

// Initialize builds the handler. Reporting init ready or init error is best
// effort; a factory failure is always returned as *errors.InitializationError.
func (r *Runner) Initialize(ctx context.Context, factory handlerpkg.Factory) (handlerpkg.Handler, error) {
	if factory == nil {
		return nil, &errspkg.InitializationError{Err: errspkg.ErrFactoryRequired}
	}

	ctx, span := r.tracer.Start(ctx, "funcflow.init")
	defer span.End()

	started := r.now()
	handler, err := buildHandler(ctx, factory, invocation.NewInitializationContext(r.resources))
	if err == nil && handler == nil {
		err = errspkg.ErrHandlerRequired
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Handler initialization failed", err, nil)
		if reportErr := r.client.ReportInitError(context.WithoutCancel(ctx), err); reportErr != nil {
			r.logger.Error("Failed to report initialization error", reportErr, nil)
		}
		return nil, &errspkg.InitializationError{Err: err}
	}

	if reportErr := r.client.ReportInitReady(context.WithoutCancel(ctx)); reportErr != nil {
		r.logger.Error("Failed to report initialization ready", reportErr, nil)
	}
	r.logger.Info("Handler initialized", loggingpkg.LogFields{
		"duration_ms": r.now().Sub(started).Milliseconds(),
	})
	return handler, nil
}

func buildHandler(ctx context.Context, factory handlerpkg.Factory, ic *invocation.InitializationContext) (h handlerpkg.Handler, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			h, err = nil, &errspkg.HandlerPanicError{Value: rec}
		}
	}()
	return factory(ctx, ic)
}

// Run executes one cycle: poll, handle, report. Handler failures are reported
// to the control plane and do not fail the cycle. Transport and protocol
// failures are returned; a poll cancelled through ctx or
// CancelWaitingForNextInvocation returns errors.ErrCancelled.
func (r *Runner) Run(ctx context.Context, handler handlerpkg.Handler) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	inv, event, err := r.poll(ctx)
	if err != nil {
		return err
	}

	ic := invocation.NewContext(inv, r.resources, r.now())
	handlerCtx := invocation.WithContext(context.WithoutCancel(ctx), ic)
	handlerCtx, span := r.tracer.Start(handlerCtx, "funcflow.invoke",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("faas.invocation_id", inv.RequestID),
			attribute.Int64("faas.max_memory", int64(inv.MemoryLimitMB)),
			attribute.Int64("funcflow.time_limit_ms", int64(inv.TimeLimitMs)),
		),
	)

	info := InvocationInfo{
		RequestID:     inv.RequestID,
		MemoryLimitMB: inv.MemoryLimitMB,
		TimeLimit:     ic.TimeLimit,
		Deadline:      ic.Deadline,
		EventSize:     len(event),
		Context:       handlerCtx,
		StartedAt:     r.now(),
	}
	r.hooks.start(info)

	output, handlerErr := callHandler(handlerCtx, handler, event)

	info.Duration = r.now().Sub(info.StartedAt)
	info.Usage = r.usage.Snapshot()
	if info.Usage.Exceeds(inv.MemoryLimitMB) {
		ic.Logger.Info("Heap above the announced memory limit", loggingpkg.LogFields{
			"memory_mb":       info.Usage.MemoryMB(),
			"memory_limit_mb": inv.MemoryLimitMB,
		})
	}
	r.hooks.finish(info, handlerErr)
	if handlerErr != nil {
		span.RecordError(handlerErr)
		span.SetStatus(codes.Error, handlerErr.Error())
		ic.Logger.Error("Handler returned an error", handlerErr, loggingpkg.LogFields{
			"error_type": errspkg.TypeName(handlerErr),
		})
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if err := r.client.ReportResult(context.WithoutCancel(ctx), inv, output, handlerErr); err != nil {
		return fmt.Errorf("report result for %s: %w", inv.RequestID, err)
	}
	return nil
}

func (r *Runner) poll(ctx context.Context) (invocation.Invocation, []byte, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return invocation.Invocation{}, nil, errspkg.ErrCancelled
	}
	r.cancelPoll = cancel
	r.mu.Unlock()

	inv, event, err := r.client.Next(pollCtx)

	r.mu.Lock()
	r.cancelPoll = nil
	r.mu.Unlock()

	if err != nil && pollCtx.Err() != nil {
		return invocation.Invocation{}, nil, errspkg.ErrCancelled
	}
	return inv, event, err
}

func callHandler(ctx context.Context, handler handlerpkg.Handler, event []byte) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, &errspkg.HandlerPanicError{Value: rec}
		}
	}()
	return handler.Handle(ctx, event)
}

// CancelWaitingForNextInvocation cancels the outstanding long poll. It reports
// whether a poll was outstanding.
func (r *Runner) CancelWaitingForNextInvocation() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelPoll == nil {
		return false
	}
	r.cancelPoll()
	r.cancelPoll = nil
	return true
}
