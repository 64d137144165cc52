package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrHandlerRequired = sterrors.New("funcflow: handler is required")
	ErrFactoryRequired = sterrors.New("funcflow: handler factory is required")
	ErrConfigRequired  = sterrors.New("funcflow: configuration is required")
	ErrLoggerRequired  = sterrors.New("funcflow: logger is required")
	ErrClientRequired  = sterrors.New("funcflow: runtime client is required")

	ErrPrototypeRequired      = sterrors.New("funcflow: codec prototype is required")
	ErrPrototypePointerNeeded = sterrors.New("funcflow: codec prototype must be a pointer type")
	ErrNilMessage             = sterrors.New("funcflow: cannot encode a nil message")

	// ErrNoBody is returned when the control plane answers a poll without a body.
	ErrNoBody = sterrors.New("funcflow: control plane response has no body")

	// ErrCancelled is returned when an outstanding long poll was cancelled on purpose.
	ErrCancelled = sterrors.New("funcflow: waiting for next invocation was cancelled")

	// ErrStillRunning is returned by Lifecycle.Result before the lifecycle finished.
	ErrStillRunning = sterrors.New("funcflow: lifecycle has not finished yet")

	// ErrServerShutdown fails every invocation still pending when the local server stops.
	ErrServerShutdown = sterrors.New("funcflow: local server is shutting down")
)

// Typed lets an error choose the errorType reported to the control plane.
type Typed interface {
	ErrorType() string
}

// UpstreamError normalises transport failures talking to the control plane.
// Reason is stable ("timeout", "connectionResetByPeer") so callers never match
// transport-specific error values.
type UpstreamError struct {
	Reason string
	Err    error
}

const (
	ReasonTimeout          = "timeout"
	ReasonConnectionReset  = "connectionResetByPeer"
	ReasonConnectionFailed = "connectionFailed"
)

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return "funcflow: upstream error: " + e.Reason
	}
	return fmt.Sprintf("funcflow: upstream error: %s: %v", e.Reason, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) ErrorType() string { return "UpstreamError" }

// BadStatusCodeError reports an unexpected HTTP status from the control plane.
type BadStatusCodeError struct {
	StatusCode int
}

func (e *BadStatusCodeError) Error() string {
	return fmt.Sprintf("funcflow: unexpected status code %d from control plane", e.StatusCode)
}

func (e *BadStatusCodeError) ErrorType() string { return "BadStatusCode" }

// MissingHeaderError names the invocation header that was absent or unparseable.
type MissingHeaderError struct {
	Header string
}

func (e *MissingHeaderError) Error() string {
	return fmt.Sprintf("funcflow: invocation header %q is missing or invalid", e.Header)
}

func (e *MissingHeaderError) ErrorType() string { return "InvocationMissingHeader" }

// DecodingError wraps failures turning the raw event into the handler input.
type DecodingError struct {
	Err error
}

func (e *DecodingError) Error() string { return "funcflow: decoding event failed: " + e.Err.Error() }

func (e *DecodingError) Unwrap() error { return e.Err }

func (e *DecodingError) ErrorType() string { return "DecodingFailure" }

// EncodingError wraps failures turning the handler output into bytes.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string { return "funcflow: encoding output failed: " + e.Err.Error() }

func (e *EncodingError) Unwrap() error { return e.Err }

func (e *EncodingError) ErrorType() string { return "EncodingFailure" }

// HandlerPanicError is produced when a handler goroutine panics.
type HandlerPanicError struct {
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("funcflow: handler panicked: %v", e.Value)
}

func (e *HandlerPanicError) ErrorType() string { return "HandlerPanic" }

// InitializationError wraps a failed handler factory. It is always fatal.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return "funcflow: initialization failed: " + e.Err.Error()
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ShutdownError combines a failed handler shutdown with the outcome of the
// invoke loop that preceded it.
type ShutdownError struct {
	Count       int
	RunErr      error
	ShutdownErr error
}

func (e *ShutdownError) Error() string {
	var b strings.Builder
	b.WriteString("funcflow: shutdown failed: ")
	b.WriteString(e.ShutdownErr.Error())
	if e.RunErr != nil {
		b.WriteString(" (run error: ")
		b.WriteString(e.RunErr.Error())
		b.WriteString(")")
	} else {
		fmt.Fprintf(&b, " (after %d invocations)", e.Count)
	}
	return b.String()
}

func (e *ShutdownError) Unwrap() []error {
	if e.RunErr == nil {
		return []error{e.ShutdownErr}
	}
	return []error{e.RunErr, e.ShutdownErr}
}

// StateError reports an invalid state transition, either a protocol violation
// against the local server or a programming fault in the lifecycle.
type StateError struct {
	From string
	To   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("funcflow: invalid state transition from %s to %s", e.From, e.To)
}

// ConfigValidationError wraps configuration problems found by Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "funcflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// TypeName returns the errorType reported for err.
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	var typed Typed
	if sterrors.As(err, &typed) {
		return typed.ErrorType()
	}
	name := fmt.Sprintf("%T", err)
	name = strings.TrimLeft(name, "*")
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
