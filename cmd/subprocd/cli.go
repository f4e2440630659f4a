package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/nixpig/subprocd/internal/eventloop"
	"github.com/nixpig/subprocd/internal/subprocess"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func rootCmd() *cobra.Command {
	flagCfg := defaultConfig()

	var configPath string

	c := &cobra.Command{
		Use:           "subprocd",
		Short:         "gRPC server for running processes and collecting their exit status",
		Example:       "  subprocd --config /etc/subprocd.yaml --debug",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, nil, cmd.Flags(), flagCfg)
			if err != nil {
				return err
			}

			if err := cfg.validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			return runServer(cmd.Context(), cfg)
		},
	}

	c.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")

	c.Flags().StringVar(&flagCfg.Host, "host", flagCfg.Host, "gRPC server host to bind")
	c.Flags().StringVar(&flagCfg.Port, "port", flagCfg.Port, "gRPC server port")
	c.Flags().BoolVar(&flagCfg.Debug, "debug", flagCfg.Debug, "Enable debug logs")

	c.Flags().StringVar(
		&flagCfg.CertPath,
		"cert-path",
		flagCfg.CertPath,
		"Path to server TLS certificate",
	)

	c.Flags().StringVar(
		&flagCfg.KeyPath,
		"key-path",
		flagCfg.KeyPath,
		"Path to server TLS private key",
	)

	c.Flags().StringVar(
		&flagCfg.CACertPath,
		"ca-cert-path",
		flagCfg.CACertPath,
		"Path to CA certificate for mTLS",
	)

	c.Flags().StringVar(
		&flagCfg.Output,
		"output",
		flagCfg.Output,
		"File to append child output to (default stdout)",
	)

	c.Flags().DurationVar(
		&flagCfg.DrainTimeout,
		"drain-timeout",
		flagCfg.DrainTimeout,
		"Time allowed on shutdown for in-flight requests and completions",
	)

	c.Flags().Float64Var(
		&flagCfg.ExecRate,
		"exec-rate",
		flagCfg.ExecRate,
		"Spawn requests allowed per second (0 is unlimited)",
	)

	c.Flags().IntVar(
		&flagCfg.ExecBurst,
		"exec-burst",
		flagCfg.ExecBurst,
		"Spawn requests allowed in a burst when exec-rate is set",
	)

	c.CompletionOptions.HiddenDefaultCmd = true

	return c
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// runServer serves until ctx is done. On shutdown the gRPC server stops first,
// then pending completions are given until the drain timeout to dispatch
// before the event loop stops.
func runServer(ctx context.Context, cfg *config) error {
	logger := newLogger(cfg.Debug)

	output, closeOutput, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeOutput(); err != nil {
			logger.Warn("close output", "err", err)
		}
	}()

	loop := eventloop.New(eventloop.WithLogger(logger))

	manager := subprocess.Init(
		loop,
		subprocess.WithLogger(logger),
		subprocess.WithOutput(output),
	)

	srv, err := newServer(manager, logger, cfg)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(loopCtx)
	})

	g.Go(func() error {
		logger.Info("server listening", "addr", listener.Addr().String())
		return srv.serve(listener)
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down", "drain_timeout", cfg.DrainTimeout)

		srv.shutdown(cfg.DrainTimeout)

		drainCtx, cancel := context.WithTimeout(
			context.Background(),
			cfg.DrainTimeout,
		)
		defer cancel()

		if err := manager.Drain(drainCtx); err != nil {
			logger.Warn("abandon pending completions", "err", err)
		}

		stopLoop()

		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("server stopped")

	return nil
}
