/*
Package runtime drives a funcflow worker against the control plane.

# Components

## Runner (runner.go)

Runner owns one RuntimeClient and executes single cycles:
  - Initialize builds the handler through the Factory and reports init ready
    or init error.
  - Run polls for the next invocation, calls the handler with a per-invocation
    context and reports the output or the error payload.
  - CancelWaitingForNextInvocation aborts an outstanding long poll. Handlers
    themselves are never cancelled.

## Lifecycle (lifecycle.go, state.go)

Lifecycle moves through Idle, Initializing, Active, ShuttingDown and Shutdown.
States only move forward; an attempt to go back panics with a StateError. The
invoke loop stops after MaxTimes cycles, on Shutdown or when the start context
is cancelled, and the handler's Shutdown runs exactly once afterwards.

## Hooks (hooks.go, usage.go)

InvocationHooks observe every handler call. LoggingHooks and MetricsHooks are
the built-in sets. Done and error hooks receive the duration and a coarse
ResourceUsage sample taken right after the handler returned.

# Example

	l, err := runtime.NewLifecycle(cfg, logger, factory,
		runtime.WithHooks(runtime.LoggingHooks(logger)),
	)
	if err != nil {
		return err
	}
	count, err := l.Run(ctx)
*/
package runtime
