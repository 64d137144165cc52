package handlers

import (
	"context"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/invocation"
)

// SimpleHandler is the convenience shape: initialise once, then handle typed
// values with plain blocking code.
type SimpleHandler[In any, Out any] interface {
	Init(ctx context.Context, ic *invocation.InitializationContext) error
	Handle(ctx context.Context, in In) (Out, error)
}

// Simple returns a Factory that constructs the handler with newHandler, runs
// Init and serves every invocation on its own goroutine. The goroutine is not
// cancelled when the caller gives up; a hung handler only blocks its own
// invocation.
func Simple[In any, Out any](newHandler func() SimpleHandler[In, Out], in Codec[In], out Codec[Out]) Factory {
	return func(ctx context.Context, ic *invocation.InitializationContext) (Handler, error) {
		if newHandler == nil {
			return nil, errspkg.ErrFactoryRequired
		}
		h := newHandler()
		if h == nil {
			return nil, errspkg.ErrHandlerRequired
		}
		if err := h.Init(ctx, ic); err != nil {
			return nil, err
		}
		return Typed[In, Out](&simpleAdapter[In, Out]{inner: h, in: in, out: out}), nil
	}
}

type simpleAdapter[In any, Out any] struct {
	inner SimpleHandler[In, Out]
	in    Codec[In]
	out   Codec[Out]
}

type simpleResult[Out any] struct {
	out Out
	err error
}

func (a *simpleAdapter[In, Out]) Decode(data []byte) (In, error) { return a.in.Decode(data) }

func (a *simpleAdapter[In, Out]) Encode(out Out) ([]byte, error) { return a.out.Encode(out) }

func (a *simpleAdapter[In, Out]) HandleTyped(ctx context.Context, in In) (Out, error) {
	done := make(chan simpleResult[Out], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- simpleResult[Out]{err: &errspkg.HandlerPanicError{Value: r}}
			}
		}()
		out, err := a.inner.Handle(context.WithoutCancel(ctx), in)
		done <- simpleResult[Out]{out: out, err: err}
	}()
	res := <-done
	return res.out, res.err
}

func (a *simpleAdapter[In, Out]) Shutdown(ctx context.Context, sc *invocation.ShutdownContext) error {
	if s, ok := a.inner.(Shutdowner); ok {
		return s.Shutdown(ctx, sc)
	}
	return nil
}
