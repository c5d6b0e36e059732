package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/internal/scheduler"
	"github.com/HerbHall/wofinder/internal/server"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run discovery in the background and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sched := scheduler.New(a.service, a.cfg.GetDuration("discovery.interval"), a.logger.Named("scheduler"))
	addr := net.JoinHostPort(a.cfg.GetString("server.host"), a.cfg.GetString("server.port"))
	srv := server.New(server.Config{
		Addr:          addr,
		DiscoveryRate: a.cfg.GetDuration("server.discovery_rate"),
	}, a.service, sched, a.registry, a.logger.Named("http"))

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start() }()
	go func() { errCh <- sched.Run(ctx) }()

	a.logger.Info("wofinder ready", zap.String("addr", addr))

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case runErr = <-errCh:
	}

	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.logger.Info("wofinder stopped")
	return runErr
}
