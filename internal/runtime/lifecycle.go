package runtime

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"

	clientpkg "github.com/drblury/funcflow/internal/runtime/client"
	configpkg "github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/funcflow/internal/runtime/handlers"
	"github.com/drblury/funcflow/internal/runtime/invocation"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
	metricspkg "github.com/drblury/funcflow/internal/runtime/metrics"
)

// LifecycleOption customises a Lifecycle.
type LifecycleOption func(*lifecycleOptions)

type lifecycleOptions struct {
	client     RuntimeClient
	httpClient *http.Client
	hooks      InvocationHooks
	tracer     trace.Tracer
	metrics    *metricspkg.Metrics
	runnerOpts []RunnerOption
}

// WithRuntimeClient replaces the HTTP client built from the configuration.
func WithRuntimeClient(c RuntimeClient) LifecycleOption {
	return func(o *lifecycleOptions) { o.client = c }
}

// WithHTTPClient sets the http.Client used to reach the control plane.
func WithHTTPClient(c *http.Client) LifecycleOption {
	return func(o *lifecycleOptions) { o.httpClient = c }
}

// WithHooks installs invocation hooks.
func WithHooks(hooks InvocationHooks) LifecycleOption {
	return func(o *lifecycleOptions) { o.hooks = o.hooks.Merge(hooks) }
}

// WithLifecycleTracer overrides the tracer used for init and invoke spans.
func WithLifecycleTracer(tracer trace.Tracer) LifecycleOption {
	return func(o *lifecycleOptions) { o.tracer = tracer }
}

// WithMetrics records invocation outcomes on m.
func WithMetrics(m *metricspkg.Metrics) LifecycleOption {
	return func(o *lifecycleOptions) { o.metrics = m }
}

// WithRunnerOptions passes options through to the Runner.
func WithRunnerOptions(opts ...RunnerOption) LifecycleOption {
	return func(o *lifecycleOptions) { o.runnerOpts = append(o.runnerOpts, opts...) }
}

type lifecycleResult struct {
	count int
	err   error
}

// Lifecycle orchestrates the Runner across cold start, the invoke loop and
// shutdown. State only ever moves forward.
type Lifecycle struct {
	cfg     configpkg.Lifecycle
	logger  loggingpkg.ServiceLogger
	factory handlerpkg.Factory
	runner  *Runner

	mu      sync.Mutex
	state   State
	handler handlerpkg.Handler
	count   int
	stop    context.CancelFunc

	done   chan struct{}
	once   sync.Once
	result lifecycleResult
}

// NewLifecycle wires a Runner against the control plane in cfg.RuntimeEngine.
func NewLifecycle(cfg configpkg.Config, logger loggingpkg.ServiceLogger, factory handlerpkg.Factory, opts ...LifecycleOption) (*Lifecycle, error) {
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if factory == nil {
		return nil, errspkg.ErrFactoryRequired
	}

	var o lifecycleOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	logger = logger.With(loggingpkg.LogFields{"lifecycle_id": cfg.Lifecycle.ID})

	rtClient := o.client
	if rtClient == nil {
		clientOpts := clientpkg.OptionsFromConfig(cfg.RuntimeEngine, logger)
		clientOpts.HTTPClient = o.httpClient
		rtClient = clientpkg.New(clientOpts)
	}

	runnerOpts := append([]RunnerOption{}, o.runnerOpts...)
	hooks := o.hooks
	if o.metrics != nil {
		hooks = MetricsHooks(o.metrics).Merge(hooks)
	}
	runnerOpts = append(runnerOpts, WithRunnerHooks(hooks), WithTracer(o.tracer))

	runner, err := NewRunner(rtClient, logger, runnerOpts...)
	if err != nil {
		return nil, err
	}

	return &Lifecycle{
		cfg:     cfg.Lifecycle,
		logger:  logger,
		factory: factory,
		runner:  runner,
		done:    make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Runner exposes the underlying Runner.
func (l *Lifecycle) Runner() *Runner {
	return l.runner
}

// setState moves to next. Moving backwards or sideways is a programming fault
// and panics with a *errors.StateError. Callers hold l.mu.
func (l *Lifecycle) setState(next State) {
	if next <= l.state {
		panic(&errspkg.StateError{From: l.state.String(), To: next.String()})
	}
	l.logger.Debug("Lifecycle state changed", loggingpkg.LogFields{
		"from": l.state.String(),
		"to":   next.String(),
	})
	l.state = next
}

// advance moves to next unless the lifecycle is already there or beyond.
func (l *Lifecycle) advance(next State) {
	if l.state < next {
		l.setState(next)
	}
}

// Start begins cold start and the invoke loop in the background. Cancelling
// ctx triggers Shutdown.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateIdle {
		err := &errspkg.StateError{From: l.state.String(), To: StateInitializing.String()}
		l.mu.Unlock()
		return err
	}
	l.setState(StateInitializing)
	loopCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	l.stop = stop
	l.mu.Unlock()

	l.logger.Info("Lifecycle starting", loggingpkg.LogFields{"max_times": l.cfg.MaxTimes})

	go func() {
		select {
		case <-ctx.Done():
			l.Shutdown()
		case <-l.done:
		}
	}()
	go l.run(loopCtx)
	return nil
}

// Run starts the lifecycle and blocks until it finished.
func (l *Lifecycle) Run(ctx context.Context) (int, error) {
	if err := l.Start(ctx); err != nil {
		return 0, err
	}
	<-l.done
	return l.result.count, l.result.err
}

// Done is closed once the lifecycle reached StateShutdown.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Result returns the completed invocation count and the final error. It
// returns errors.ErrStillRunning until Done is closed.
func (l *Lifecycle) Result() (int, error) {
	select {
	case <-l.done:
		return l.result.count, l.result.err
	default:
		return 0, errspkg.ErrStillRunning
	}
}

// Wait blocks until the lifecycle finished or ctx is done.
func (l *Lifecycle) Wait(ctx context.Context) (int, error) {
	select {
	case <-l.done:
		return l.result.count, l.result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown moves the lifecycle to StateShuttingDown and cancels an outstanding
// long poll. An invocation already being handled runs to completion. Calling it
// more than once is a no-op.
func (l *Lifecycle) Shutdown() {
	l.mu.Lock()
	if l.state >= StateShuttingDown {
		l.mu.Unlock()
		return
	}
	if l.state == StateIdle {
		l.setState(StateShuttingDown)
		l.setState(StateShutdown)
		l.mu.Unlock()
		l.finish(0, nil)
		return
	}
	l.setState(StateShuttingDown)
	stop := l.stop
	l.mu.Unlock()

	if stop != nil {
		stop()
	}
	cancelled := l.runner.CancelWaitingForNextInvocation()
	l.logger.Info("Lifecycle shutdown requested", loggingpkg.LogFields{"poll_cancelled": cancelled})
}

func (l *Lifecycle) run(ctx context.Context) {
	handler, err := l.runner.Initialize(ctx, l.factory)
	if err != nil {
		l.mu.Lock()
		l.advance(StateShuttingDown)
		l.setState(StateShutdown)
		l.mu.Unlock()
		l.finish(0, err)
		return
	}

	l.mu.Lock()
	if l.state == StateInitializing {
		l.setState(StateActive)
		l.handler = handler
	}
	l.mu.Unlock()

	count, runErr := l.loop(ctx, handler)

	l.mu.Lock()
	l.advance(StateShuttingDown)
	l.mu.Unlock()

	shutdownErr := handler.Shutdown(context.WithoutCancel(ctx), invocation.NewShutdownContext(l.runner.Resources()))

	l.mu.Lock()
	l.setState(StateShutdown)
	l.handler = nil
	l.mu.Unlock()

	result := runErr
	if shutdownErr != nil {
		result = &errspkg.ShutdownError{Count: count, RunErr: runErr, ShutdownErr: shutdownErr}
	}
	l.finish(count, result)
}

func (l *Lifecycle) loop(ctx context.Context, handler handlerpkg.Handler) (int, error) {
	count := 0
	for {
		l.mu.Lock()
		active := l.state == StateActive
		l.mu.Unlock()
		if !active || (l.cfg.MaxTimes > 0 && count >= l.cfg.MaxTimes) {
			return count, nil
		}

		if err := l.runner.Run(ctx, handler); err != nil {
			if errors.Is(err, errspkg.ErrCancelled) && l.State() >= StateShuttingDown {
				return count, nil
			}
			l.logger.Error("Invoke loop stopped", err, loggingpkg.LogFields{"completed": count})
			return count, err
		}

		count++
		l.mu.Lock()
		l.count = count
		l.mu.Unlock()
	}
}

// Count returns the number of completed cycles so far.
func (l *Lifecycle) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *Lifecycle) finish(count int, err error) {
	l.once.Do(func() {
		l.result = lifecycleResult{count: count, err: err}
		if err != nil {
			l.logger.Error("Lifecycle finished with error", err, loggingpkg.LogFields{"completed": count})
		} else {
			l.logger.Info("Lifecycle finished", loggingpkg.LogFields{"completed": count})
		}
		close(l.done)
	})
}
