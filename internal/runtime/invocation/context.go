package invocation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/drblury/funcflow/internal/runtime/logging"
)

// Resources are the process-wide handles shared by every phase context.
type Resources struct {
	Logger logging.ServiceLogger
	Tracer trace.Tracer
}

func (r Resources) withDefaults() Resources {
	if r.Logger == nil {
		r.Logger = logging.Discard()
	}
	if r.Tracer == nil {
		r.Tracer = noop.NewTracerProvider().Tracer("funcflow")
	}
	return r
}

// Context describes the invocation currently being handled. It is built once
// per cycle and never mutated.
type Context struct {
	RequestID     string
	MemoryLimitMB uint64
	TimeLimit     time.Duration
	CreatedAt     time.Time
	Deadline      time.Time
	Logger        logging.ServiceLogger
	Tracer        trace.Tracer
}

// NewContext derives the per-invocation context. Deadline is now + TimeLimit.
func NewContext(inv Invocation, resources Resources, now time.Time) *Context {
	resources = resources.withDefaults()
	limit := time.Duration(inv.TimeLimitMs) * time.Millisecond
	return &Context{
		RequestID:     inv.RequestID,
		MemoryLimitMB: inv.MemoryLimitMB,
		TimeLimit:     limit,
		CreatedAt:     now,
		Deadline:      now.Add(limit),
		Logger:        resources.Logger.With(logging.LogFields{"request_id": inv.RequestID}),
		Tracer:        resources.Tracer,
	}
}

// RemainingTime is negative once the deadline has passed.
func (c *Context) RemainingTime() time.Duration {
	return c.RemainingTimeAt(time.Now())
}

func (c *Context) RemainingTimeAt(t time.Time) time.Duration {
	return c.Deadline.Sub(t)
}

// InitializationContext is handed to the handler factory during cold start.
type InitializationContext struct {
	Logger logging.ServiceLogger
	Tracer trace.Tracer
}

func NewInitializationContext(resources Resources) *InitializationContext {
	resources = resources.withDefaults()
	return &InitializationContext{Logger: resources.Logger, Tracer: resources.Tracer}
}

// ShutdownContext is handed to Handler.Shutdown once the invoke loop ends.
type ShutdownContext struct {
	Logger logging.ServiceLogger
	Tracer trace.Tracer
}

func NewShutdownContext(resources Resources) *ShutdownContext {
	resources = resources.withDefaults()
	return &ShutdownContext{Logger: resources.Logger, Tracer: resources.Tracer}
}

type contextKey struct{}

// WithContext stores the invocation context on ctx.
func WithContext(ctx context.Context, ic *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ic)
}

// FromContext returns the invocation context stored on ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	ic, ok := ctx.Value(contextKey{}).(*Context)
	return ic, ok && ic != nil
}
