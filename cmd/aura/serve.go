package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/nadzzz/aura/docs"
	"github.com/nadzzz/aura/internal/health"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interpretation daemon",
	Long: `Start every enabled transport (gRPC, HTTP/WebSocket, MQTT) and the
health server, and interpret transcripts until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	slog.Info("aura starting", "version", version)

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if len(a.transports) == 0 {
		return errors.New("no transports enabled, enable at least one in config")
	}

	healthServer := health.New(cfg.Server.HealthPort, a.registry)
	if a.redis != nil {
		healthServer.AddCheck("redis", a.redis.Ping)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	for _, t := range a.transports {
		g.Go(func() error {
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx, a.pipeline.Handle); err != nil {
				return fmt.Errorf("transport %s: %w", t.Name(), err)
			}
			return nil
		})
	}

	healthServer.SetReady(true)
	slog.Info("aura ready",
		"transports", len(a.transports),
		"fallback", a.fallback.Name(),
		"health_port", cfg.Server.HealthPort)

	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)

	err = g.Wait()
	slog.Info("aura stopped")
	return err
}
