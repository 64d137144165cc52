package handlers

import (
	"context"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/invocation"
)

// TypedHandler works on decoded values. Typed adapts it to Handler.
type TypedHandler[In any, Out any] interface {
	Decode(data []byte) (In, error)
	Encode(out Out) ([]byte, error)
	HandleTyped(ctx context.Context, in In) (Out, error)
}

// Typed adapts a TypedHandler to the raw Handler contract. Decode and encode
// failures come back as *errors.DecodingError and *errors.EncodingError so they
// can be told apart from failures of the business logic.
func Typed[In any, Out any](h TypedHandler[In, Out]) Handler {
	return &typedAdapter[In, Out]{inner: h}
}

type typedAdapter[In any, Out any] struct {
	inner TypedHandler[In, Out]
}

func (a *typedAdapter[In, Out]) Handle(ctx context.Context, event []byte) ([]byte, error) {
	in, err := a.inner.Decode(event)
	if err != nil {
		return nil, &errspkg.DecodingError{Err: err}
	}

	out, err := a.inner.HandleTyped(ctx, in)
	if err != nil {
		return nil, err
	}

	payload, err := a.inner.Encode(out)
	if err != nil {
		return nil, &errspkg.EncodingError{Err: err}
	}
	return payload, nil
}

func (a *typedAdapter[In, Out]) Shutdown(ctx context.Context, sc *invocation.ShutdownContext) error {
	if s, ok := a.inner.(Shutdowner); ok {
		return s.Shutdown(ctx, sc)
	}
	return nil
}

// NewCodecHandler builds a TypedHandler from two codecs and a function.
func NewCodecHandler[In any, Out any](in Codec[In], out Codec[Out], fn func(ctx context.Context, in In) (Out, error)) TypedHandler[In, Out] {
	return &codecHandler[In, Out]{in: in, out: out, fn: fn}
}

type codecHandler[In any, Out any] struct {
	in  Codec[In]
	out Codec[Out]
	fn  func(ctx context.Context, in In) (Out, error)
}

func (h *codecHandler[In, Out]) Decode(data []byte) (In, error) { return h.in.Decode(data) }

func (h *codecHandler[In, Out]) Encode(out Out) ([]byte, error) { return h.out.Encode(out) }

func (h *codecHandler[In, Out]) HandleTyped(ctx context.Context, in In) (Out, error) {
	if h.fn == nil {
		var zero Out
		return zero, errspkg.ErrHandlerRequired
	}
	return h.fn(ctx, in)
}
