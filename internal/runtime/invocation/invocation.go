package invocation

import (
	"net/http"
	"strconv"
	"strings"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
)

// Header names set by the control plane on every /runtime/invocation/next reply.
const (
	HeaderRequestID     = "request_id"
	HeaderMemoryLimitMB = "memory_limit_in_mb"
	HeaderTimeLimitMs   = "time_limit_in_ms"
)

// Invocation is one unit of work announced by the control plane.
type Invocation struct {
	RequestID     string
	MemoryLimitMB uint64
	TimeLimitMs   uint64
}

// FromHeaders parses the invocation triple. The first missing or unparseable
// header is reported as a *errors.MissingHeaderError.
func FromHeaders(h http.Header) (Invocation, error) {
	requestID := RequestIDFrom(h)
	if requestID == "" {
		return Invocation{}, &errspkg.MissingHeaderError{Header: HeaderRequestID}
	}
	memory, ok := parseUint(headerValue(h, HeaderMemoryLimitMB))
	if !ok {
		return Invocation{}, &errspkg.MissingHeaderError{Header: HeaderMemoryLimitMB}
	}
	timeLimit, ok := parseUint(headerValue(h, HeaderTimeLimitMs))
	if !ok {
		return Invocation{}, &errspkg.MissingHeaderError{Header: HeaderTimeLimitMs}
	}
	return Invocation{
		RequestID:     requestID,
		MemoryLimitMB: memory,
		TimeLimitMs:   timeLimit,
	}, nil
}

// Apply writes the invocation triple onto h using the lowercase wire names.
func (i Invocation) Apply(h http.Header) {
	setHeader(h, HeaderRequestID, i.RequestID)
	setHeader(h, HeaderMemoryLimitMB, strconv.FormatUint(i.MemoryLimitMB, 10))
	setHeader(h, HeaderTimeLimitMs, strconv.FormatUint(i.TimeLimitMs, 10))
}

// Headers built by hand may keep the raw lowercase key, so both the canonical
// and the raw spelling are checked.
func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	if vs := h[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func setHeader(h http.Header, name, value string) {
	h[name] = []string{value}
}

func parseUint(raw string) (uint64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RequestIDFrom returns the trimmed request_id header, or "" when absent.
func RequestIDFrom(h http.Header) string {
	return strings.TrimSpace(headerValue(h, HeaderRequestID))
}
