package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/msgrouter/internal/config"
	"github.com/rickgao/msgrouter/internal/database"
	"github.com/rickgao/msgrouter/internal/journal"
	"github.com/rickgao/msgrouter/internal/router"
	"github.com/rickgao/msgrouter/internal/server"
	"github.com/rickgao/msgrouter/internal/transport"
	"github.com/rickgao/msgrouter/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (built-in defaults when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting msgrouter",
		append(version.Attrs(), "config", *configPath, "instance_id", cfg.Instance.ID)...,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("msgrouter failed", "error", err)
		os.Exit(1)
	}
	logger.Info("msgrouter stopped")
}

func loadConfig(path string) (*config.RouterConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.RouterConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		routerOpts []router.Option
		serverOpts []server.Option
		writer     *journal.Writer
	)

	if cfg.Journal.Enabled {
		db := cfg.Journal.Database
		logger.Info("connecting to journal database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)

		pool, err := database.Connect(ctx, db, cfg.Instance.ID)
		if err != nil {
			return err
		}
		defer pool.Close()

		writer = journal.NewWriter(journal.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := writer.EnsureSchema(ctx); err != nil {
			return err
		}
		// Stopped explicitly after the server, not by the signal context.
		if err := writer.Start(context.Background()); err != nil {
			return err
		}

		routerOpts = append(routerOpts, router.WithObserver(writer))
		serverOpts = append(serverOpts,
			server.WithHealthCheck("journal_db", pool),
			server.WithStats("journal", func() any { return writer.Stats() }),
		)
	}

	r := router.New(router.Config{
		DeliverToPublisher: cfg.Router.DeliverToPublisher,
	}, logger, routerOpts...)

	srv := server.New(serverConfig(cfg), r, logger, serverOpts...)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Stop(shutdownCtx)
	})

	logger.Info("msgrouter running",
		"addr", srv.Addr(),
		"ws_path", cfg.Server.WSPath,
		"journal", cfg.Journal.Enabled,
	)

	err := g.Wait()

	// The journal stops after the server so the final disconnects are kept.
	if writer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		err = errors.Join(err, writer.Stop(shutdownCtx))
	}
	return err
}

func serverConfig(cfg *config.RouterConfig) server.Config {
	return server.Config{
		InstanceID:      cfg.Instance.ID,
		ListenAddr:      cfg.Server.ListenAddr,
		WSPath:          cfg.Server.WSPath,
		HealthPath:      cfg.Server.HealthPath,
		StatsPath:       cfg.Server.StatsPath,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Transport: transport.Config{
			QueueCapacity:     cfg.Transport.QueueCapacity,
			MaxRetainedBuffer: cfg.Transport.MaxRetainedBuffer,
		},
		WebSocket: transport.WebSocketConfig{
			ReadLimit:    cfg.Transport.ReadLimit,
			WriteTimeout: cfg.Transport.WriteTimeout,
			PongWait:     cfg.Transport.PongWait,
			PingPeriod:   cfg.Transport.PingPeriod,
		},
	}
}
