package funcflow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	runtimepkg "github.com/drblury/funcflow/internal/runtime"
	configpkg "github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/localserver"
	metricspkg "github.com/drblury/funcflow/internal/runtime/metrics"
	transportpkg "github.com/drblury/funcflow/transport"

	// Register every bridge transport so BRIDGE_TRANSPORT can name any of them.
	_ "github.com/drblury/funcflow/transport/transports"
)

const localShutdownTimeout = 5 * time.Second

// Option customises Run.
type Option func(*runOptions)

type runOptions struct {
	cfg        *configpkg.Config
	logger     loggingpkg.ServiceLogger
	hooks      runtimepkg.InvocationHooks
	registerer prometheus.Registerer
	httpClient *http.Client
	onLocal    func(url string)
}

// WithConfig skips reading the environment and uses cfg as is.
func WithConfig(cfg Config) Option {
	return func(o *runOptions) { o.cfg = &cfg }
}

// WithLogger replaces the logger built from General.LogLevel.
func WithLogger(logger ServiceLogger) Option {
	return func(o *runOptions) { o.logger = logger }
}

// WithHooks installs invocation hooks in addition to the logging hooks.
func WithHooks(hooks InvocationHooks) Option {
	return func(o *runOptions) { o.hooks = o.hooks.Merge(hooks) }
}

// WithRegisterer registers the metrics on r instead of the default registerer.
// When r is also a prometheus.Gatherer it backs the local /metrics endpoint.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *runOptions) { o.registerer = r }
}

// WithHTTPClient sets the http.Client used to reach the control plane.
func WithHTTPClient(c *http.Client) Option {
	return func(o *runOptions) { o.httpClient = c }
}

// WithLocalServerStarted is called with the base URL of the local server once
// it is listening. It is not called when the local server is disabled.
func WithLocalServerStarted(fn func(url string)) Option {
	return func(o *runOptions) { o.onLocal = fn }
}

// Run is the process entry point. It loads the configuration, optionally
// starts the local server and its bridge, and drives the lifecycle until
// MaxTimes invocations completed, the stop signal arrived or ctx was
// cancelled. It returns the number of completed invocations.
func Run(ctx context.Context, factory Factory, opts ...Option) (int, error) {
	if factory == nil {
		return 0, errspkg.ErrFactoryRequired
	}

	var o runOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	cfg, err := resolveConfig(o.cfg)
	if err != nil {
		return 0, err
	}

	logger := o.logger
	if logger == nil {
		logger, err = loggingpkg.NewLeveledLogger(cfg.General.LogLevel, os.Stderr)
		if err != nil {
			return 0, err
		}
	}
	logger.Debug("Configuration loaded", loggingpkg.LogFields{"config": cfg.String()})

	ctx, stop := signal.NotifyContext(ctx, cfg.Lifecycle.StopSignal, os.Interrupt)
	defer stop()

	metrics := metricspkg.New(o.registerer)
	if err := metrics.Register(); err != nil {
		return 0, fmt.Errorf("funcflow: register metrics: %w", err)
	}

	var local *localEnvironment
	if cfg.Local.Enabled {
		local, err = startLocal(ctx, &cfg, logger, metrics, o.registerer)
		if err != nil {
			return 0, err
		}
		if o.onLocal != nil {
			o.onLocal(local.server.URL())
		}
	}

	lifecycle, err := runtimepkg.NewLifecycle(cfg, logger, factory,
		runtimepkg.WithHooks(runtimepkg.LoggingHooks(logger).Merge(o.hooks)),
		runtimepkg.WithMetrics(metrics),
		runtimepkg.WithHTTPClient(o.httpClient),
	)
	if err != nil {
		if local != nil {
			local.stop(logger)
		}
		return 0, err
	}

	count, runErr := lifecycle.Run(ctx)

	if local != nil {
		local.stop(logger)
	}
	return count, runErr
}

func resolveConfig(cfg *configpkg.Config) (configpkg.Config, error) {
	if cfg == nil {
		return configpkg.Load()
	}
	resolved := *cfg
	if err := resolved.Validate(); err != nil {
		return resolved, errspkg.NewConfigValidationError(err)
	}
	return resolved, nil
}

type localEnvironment struct {
	server     *localserver.Server
	stopBridge context.CancelFunc
	bridgeDone chan error
}

// startLocal starts the local server, points the runtime engine at it and
// starts the bridge when one is configured.
func startLocal(ctx context.Context, cfg *configpkg.Config, logger loggingpkg.ServiceLogger, metrics *metricspkg.Metrics, registerer prometheus.Registerer) (*localEnvironment, error) {
	gatherer, _ := registerer.(prometheus.Gatherer)
	server, err := localserver.New(localserver.Options{
		Config:   cfg.Local,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: gatherer,
	})
	if err != nil {
		return nil, err
	}
	if err := server.Start(); err != nil {
		return nil, err
	}

	env := &localEnvironment{server: server}
	if err := pointAt(&cfg.RuntimeEngine, server.Addr()); err != nil {
		env.stop(logger)
		return nil, err
	}

	if cfg.Bridge.Transport == "" {
		return env, nil
	}

	tr, err := transportpkg.Build(ctx, cfg.Bridge, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		env.stop(logger)
		return nil, fmt.Errorf("funcflow: build bridge transport %q: %w", cfg.Bridge.Transport, err)
	}
	bridge, err := localserver.NewBridge(server, tr, cfg.Bridge.Topic, cfg.Bridge.ReplyTopic, logger)
	if err != nil {
		_ = tr.Close()
		env.stop(logger)
		return nil, err
	}

	bridgeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	env.stopBridge = cancel
	env.bridgeDone = make(chan error, 1)
	go func() { env.bridgeDone <- bridge.Run(bridgeCtx) }()
	return env, nil
}

// stop cancels the bridge before failing pending invocations, so a
// submission the bridge is still waiting on is nacked for redelivery.
func (e *localEnvironment) stop(logger loggingpkg.ServiceLogger) {
	if e.stopBridge != nil {
		e.stopBridge()
	}

	ctx, cancel := context.WithTimeout(context.Background(), localShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Local server shutdown failed", err, nil)
	}

	if e.bridgeDone != nil {
		if err := <-e.bridgeDone; err != nil {
			logger.Error("Bridge stopped with error", err, nil)
		}
	}
}

func pointAt(engine *configpkg.RuntimeEngine, addr string) error {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("funcflow: local server address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return fmt.Errorf("funcflow: local server port %q: %w", rawPort, err)
	}
	engine.Host = host
	engine.Port = port
	return nil
}
