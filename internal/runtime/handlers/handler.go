package handlers

import (
	"context"

	"github.com/drblury/funcflow/internal/runtime/invocation"
)

// Handler is the raw-bytes contract every other handler shape adapts to. The
// per-invocation context is available through invocation.FromContext(ctx). A
// nil output is reported to the control plane as an empty body.
type Handler interface {
	Handle(ctx context.Context, event []byte) ([]byte, error)
	Shutdown(ctx context.Context, sc *invocation.ShutdownContext) error
}

// Shutdowner is implemented by typed handlers that hold resources.
type Shutdowner interface {
	Shutdown(ctx context.Context, sc *invocation.ShutdownContext) error
}

// Factory builds the single handler instance used for the whole process.
type Factory func(ctx context.Context, ic *invocation.InitializationContext) (Handler, error)

// HandlerFunc turns a plain function into a Handler with a no-op Shutdown.
type HandlerFunc func(ctx context.Context, event []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, event []byte) ([]byte, error) {
	return f(ctx, event)
}

func (f HandlerFunc) Shutdown(context.Context, *invocation.ShutdownContext) error {
	return nil
}

// Static returns a Factory that always yields h.
func Static(h Handler) Factory {
	return func(context.Context, *invocation.InitializationContext) (Handler, error) {
		return h, nil
	}
}
