package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrHandlerRequired", ErrHandlerRequired, "funcflow: handler is required"},
		{"ErrFactoryRequired", ErrFactoryRequired, "funcflow: handler factory is required"},
		{"ErrConfigRequired", ErrConfigRequired, "funcflow: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "funcflow: logger is required"},
		{"ErrNoBody", ErrNoBody, "funcflow: control plane response has no body"},
		{"ErrCancelled", ErrCancelled, "funcflow: waiting for next invocation was cancelled"},
		{"ErrServerShutdown", ErrServerShutdown, "funcflow: local server is shutting down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"decoding", &DecodingError{Err: errors.New("bad")}, "DecodingFailure"},
		{"encoding", &EncodingError{Err: errors.New("bad")}, "EncodingFailure"},
		{"wrapped typed", fmt.Errorf("outer: %w", &MissingHeaderError{Header: "request_id"}), "InvocationMissingHeader"},
		{"plain", errors.New("boom"), "errorString"},
		{"custom", customErr{}, "customErr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeName(tt.err); got != tt.want {
				t.Errorf("TypeName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShutdownErrorRetainsBoth(t *testing.T) {
	runErr := errors.New("run failed")
	shutdownErr := errors.New("close failed")
	err := &ShutdownError{Count: 2, RunErr: runErr, ShutdownErr: shutdownErr}

	if !errors.Is(err, runErr) {
		t.Fatal("expected run error to be reachable")
	}
	if !errors.Is(err, shutdownErr) {
		t.Fatal("expected shutdown error to be reachable")
	}

	onlyShutdown := &ShutdownError{Count: 3, ShutdownErr: shutdownErr}
	if !errors.Is(onlyShutdown, shutdownErr) {
		t.Fatal("expected shutdown error to be reachable")
	}
	if got := onlyShutdown.Error(); got != "funcflow: shutdown failed: close failed (after 3 invocations)" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestUpstreamErrorUnwraps(t *testing.T) {
	inner := errors.New("i/o timeout")
	err := fmt.Errorf("poll: %w", &UpstreamError{Reason: ReasonTimeout, Err: inner})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	if upstream.Reason != "timeout" {
		t.Fatalf("unexpected reason %q", upstream.Reason)
	}
	if !errors.Is(err, inner) {
		t.Fatal("expected inner error to be reachable")
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error correctly", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
		if got := err.Error(); got != "funcflow: invalid configuration: bad config" {
			t.Errorf("Error() = %q", got)
		}
	})
}

type customErr struct{}

func (customErr) Error() string { return "custom" }
