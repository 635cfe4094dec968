package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ducktracker/ducktracker/internal/auth"
	"github.com/ducktracker/ducktracker/internal/config"
	"github.com/ducktracker/ducktracker/internal/engine"
	"github.com/ducktracker/ducktracker/internal/metrics"
	"github.com/ducktracker/ducktracker/internal/server"
	"github.com/ducktracker/ducktracker/internal/ws"
)

func main() {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "ducktracker",
		Short: "Hauk-compatible location sharing server with tagged multiplexed streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.String("bind", "0.0.0.0:8080", "listen address")
	flags.String("passwd", "ducktracker.passwd", "path to the user:secret password file")
	flags.String("public-url", "", "base URL used in share links returned to publishers")
	flags.Duration("default-ttl", time.Hour, "share lifetime without fresh points")
	flags.Int("max-points", 100, "default per-fetch point history bound")
	flags.Duration("max-point-age", 0, "drop points older than this (0 disables)")
	flags.Duration("tick-interval", 10*time.Second, "expiry sweep period")
	flags.Duration("keepalive", 25*time.Second, "stream heartbeat period")
	flags.Duration("idle-timeout", 5*time.Minute, "drop subscribers idle this long")
	flags.Duration("token-ttl", 5*time.Minute, "stream token lifetime")
	flags.Int("queue-size", 256, "per-subscriber change queue bound")
	flags.String("box-coords", "", "lat_min,lon_min,lat_max,lon_max privacy wrap box")
	flags.String("metrics-user", "", "basic auth user for /metrics")
	flags.String("metrics-pass", "", "basic auth password for /metrics")
	flags.Bool("dev", false, "development logging")

	// Config keys use underscores; flag names use dashes.
	for _, key := range []string{
		"bind", "passwd", "public_url", "default_ttl", "max_points",
		"max_point_age", "tick_interval", "keepalive", "idle_timeout",
		"token_ttl", "queue_size", "box_coords", "metrics_user",
		"metrics_pass", "dev",
	} {
		flag := strings.ReplaceAll(key, "_", "-")
		cobra.CheckErr(v.BindPFlag(key, flags.Lookup(flag)))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := setupLogger(cfg.Dev)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("bind", cfg.Bind),
		zap.String("passwd", cfg.Passwd),
		zap.Duration("default_ttl", cfg.DefaultTTL),
		zap.Int("max_points", cfg.MaxPoints),
		zap.Duration("keepalive", cfg.Keepalive),
		zap.Bool("box_wrap", cfg.Box != nil),
	)

	gate, err := auth.NewGate(cfg.Passwd, cfg.TokenTTL, logger)
	if err != nil {
		logger.Error("failed to load password file", zap.Error(err))
		return err
	}

	hub := engine.NewHub(engine.Config{
		DefaultTTL:    cfg.DefaultTTL,
		MaxPoints:     cfg.MaxPoints,
		HardMaxPoints: config.HardMaxPoints,
		MaxPointAge:   cfg.MaxPointAge,
		QueueSize:     cfg.QueueSize,
		IdleTimeout:   cfg.IdleTimeout,
	}, engine.SystemClock{}, logger)

	scheduler := engine.NewScheduler(hub, cfg.TickInterval, logger)
	go scheduler.Run(ctx)

	collector := metrics.NewCollector(hub, time.Now())
	srv := server.NewServer(cfg, hub, gate, collector, logger)
	wsHandler := ws.NewHandler(hub, gate, collector, cfg.Keepalive, logger)

	httpServer := &http.Server{
		Addr:        cfg.Bind,
		Handler:     srv.Router(wsHandler.Mount),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: SSE and websocket streams outlive any sane value.
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.DisableStacktrace = true
	return zapConfig.Build()
}
