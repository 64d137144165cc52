package client

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
)

// normalizeTransportError maps net/http failures onto the stable upstream
// reasons so callers never match transport-specific values.
func normalizeTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return errspkg.ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &errspkg.UpstreamError{Reason: errspkg.ReasonTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &errspkg.UpstreamError{Reason: errspkg.ReasonTimeout, Err: err}
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &errspkg.UpstreamError{Reason: errspkg.ReasonConnectionReset, Err: err}
	}
	return &errspkg.UpstreamError{Reason: errspkg.ReasonConnectionFailed, Err: err}
}
