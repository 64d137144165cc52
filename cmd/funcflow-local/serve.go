package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drblury/funcflow"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control plane",
		Long: `Run the local control plane until interrupted.

Workers poll it like the real control plane; events are submitted with POST
<endpoint> and answered with the handler output. With --bridge-transport the
server is also fed from a message broker configured through the BRIDGE_*
environment variables.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, v)
		},
	}

	defaults := funcflow.DefaultConfig().Local
	f := cmd.Flags()
	f.String("host", defaults.Host, "listen host")
	f.Int("port", defaults.Port, "listen port, 0 picks a free one")
	f.String("endpoint", defaults.InvocationEndpoint, "path that accepts events")
	f.Uint64("memory-limit-mb", defaults.MemoryLimitMB, "memory limit announced to the runtime")
	f.Uint64("time-limit-ms", defaults.TimeLimitMs, "time limit announced to the runtime")
	f.Bool("metrics", false, "serve Prometheus metrics on /metrics")
	f.String("bridge-transport", "", "broker to consume events from (channel, kafka, nats, rabbitmq, aws, http)")
	f.String("bridge-topic", "", "topic the bridge consumes")
	f.String("bridge-reply-topic", "", "topic the bridge publishes outcomes to")
	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	// Broker credentials and addresses still come from the BRIDGE_* variables.
	cfg, err := funcflow.LoadConfig()
	if err != nil {
		return err
	}
	cfg.General.LogLevel = v.GetString("log-level")
	cfg.Local = funcflow.LocalConfig{
		Enabled:            true,
		Host:               v.GetString("host"),
		Port:               v.GetInt("port"),
		InvocationEndpoint: v.GetString("endpoint"),
		MemoryLimitMB:      v.GetUint64("memory-limit-mb"),
		TimeLimitMs:        v.GetUint64("time-limit-ms"),
		MetricsEnabled:     v.GetBool("metrics"),
	}
	if t := v.GetString("bridge-transport"); t != "" {
		cfg.Bridge.Transport = t
		cfg.Bridge.Topic = v.GetString("bridge-topic")
		cfg.Bridge.ReplyTopic = v.GetString("bridge-reply-topic")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := funcflow.NewLeveledLogger(cfg.General.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := funcflow.NewMetrics(reg)
	if err := metrics.Register(); err != nil {
		return err
	}

	server, err := funcflow.NewLocalServer(funcflow.LocalServerOptions{
		Config:   cfg.Local,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: reg,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", server.URL())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridgeErr := make(chan error, 1)
	bridgeCtx, stopBridge := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBridge()
	if cfg.Bridge.Transport != "" {
		tr, err := funcflow.BuildTransport(ctx, cfg.Bridge, funcflow.NewWatermillAdapter(logger))
		if err != nil {
			return errors.Join(err, shutdown(server))
		}
		bridge, err := funcflow.NewBridge(server, tr, cfg.Bridge.Topic, cfg.Bridge.ReplyTopic, logger)
		if err != nil {
			_ = tr.Close()
			return errors.Join(err, shutdown(server))
		}
		go func() { bridgeErr <- bridge.Run(bridgeCtx) }()
	} else {
		close(bridgeErr)
	}

	<-ctx.Done()
	stopBridge()
	err = shutdown(server)
	return errors.Join(err, <-bridgeErr)
}

func shutdown(server *funcflow.LocalServer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
