package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
	metricspkg "github.com/drblury/funcflow/internal/runtime/metrics"
)

// InvocationInfo describes one invocation to hooks.
type InvocationInfo struct {
	RequestID     string
	MemoryLimitMB uint64
	TimeLimit     time.Duration
	Deadline      time.Time
	// EventSize is the size of the raw event in bytes.
	EventSize int
	// Context is the context the handler runs with.
	Context   context.Context
	StartedAt time.Time
	// Duration and Usage are only set in OnInvokeDone and OnInvokeError.
	Duration time.Duration
	Usage    ResourceUsage
}

// InvocationHooks defines callbacks around each handler call. All hooks are
// optional.
type InvocationHooks struct {
	OnInvokeStart func(info InvocationInfo)
	OnInvokeDone  func(info InvocationInfo)
	OnInvokeError func(info InvocationInfo, err error)
}

// Merge combines two InvocationHooks. The hooks from other run after the hooks
// from h.
func (h InvocationHooks) Merge(other InvocationHooks) InvocationHooks {
	return InvocationHooks{
		OnInvokeStart: chainInfoHooks(h.OnInvokeStart, other.OnInvokeStart),
		OnInvokeDone:  chainInfoHooks(h.OnInvokeDone, other.OnInvokeDone),
		OnInvokeError: chainErrorHooks(h.OnInvokeError, other.OnInvokeError),
	}
}

func (h InvocationHooks) start(info InvocationInfo) {
	if h.OnInvokeStart != nil {
		h.OnInvokeStart(info)
	}
}

func (h InvocationHooks) finish(info InvocationInfo, err error) {
	if err != nil {
		if h.OnInvokeError != nil {
			h.OnInvokeError(info, err)
		}
		return
	}
	if h.OnInvokeDone != nil {
		h.OnInvokeDone(info)
	}
}

func chainInfoHooks(a, b func(InvocationInfo)) func(InvocationInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info InvocationInfo) {
		a(info)
		b(info)
	}
}

func chainErrorHooks(a, b func(InvocationInfo, error)) func(InvocationInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info InvocationInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

// LoggingHooks returns hooks that log every invocation.
func LoggingHooks(logger loggingpkg.ServiceLogger) InvocationHooks {
	return InvocationHooks{
		OnInvokeStart: func(info InvocationInfo) {
			logger.Debug("Invocation started", loggingpkg.LogFields{
				"request_id":  info.RequestID,
				"event_bytes": info.EventSize,
				"deadline":    info.Deadline,
			})
		},
		OnInvokeDone: func(info InvocationInfo) {
			logger.Info("Invocation completed", loggingpkg.LogFields{
				"request_id":  info.RequestID,
				"duration_ms": info.Duration.Milliseconds(),
				"memory_mb":   info.Usage.MemoryMB(),
			})
		},
		OnInvokeError: func(info InvocationInfo, err error) {
			logger.Error("Invocation failed", err, loggingpkg.LogFields{
				"request_id":  info.RequestID,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that record invocation outcomes and durations.
func MetricsHooks(m *metricspkg.Metrics) InvocationHooks {
	return InvocationHooks{
		OnInvokeDone: func(info InvocationInfo) {
			m.ObserveInvocation(metricspkg.OutcomeSuccess, info.Duration)
		},
		OnInvokeError: func(info InvocationInfo, _ error) {
			m.ObserveInvocation(metricspkg.OutcomeHandlerError, info.Duration)
		},
	}
}
