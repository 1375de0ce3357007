package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vitaliisemenov/applimit/internal/api"
	"github.com/vitaliisemenov/applimit/internal/audit"
	"github.com/vitaliisemenov/applimit/internal/clock"
	"github.com/vitaliisemenov/applimit/internal/config"
	"github.com/vitaliisemenov/applimit/internal/core"
	"github.com/vitaliisemenov/applimit/internal/engine"
	"github.com/vitaliisemenov/applimit/internal/metrics"
	"github.com/vitaliisemenov/applimit/internal/notify"
)

func newServeCommand(configPath *string) *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/websocket API over the usage-limit engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, logFile)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotating file (gopkg.in/natefinch/lumberjack.v2)")
	return cmd
}

func newLogger(cfg *config.Config, logFile string) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if logFile == "" {
		logFile = cfg.Log.File
	}
	var handler slog.Handler
	if logFile != "" {
		rotator := &lumberjack.Logger{Filename: logFile, MaxSize: 100, MaxBackups: 5, MaxAge: 28, Compress: true}
		handler = slog.NewJSONHandler(io.MultiWriter(os.Stdout, rotator), opts)
	} else if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// runServe wires Clock -> Controller -> Notifier chain -> API router and
// serves it with graceful shutdown on SIGINT/SIGTERM (grounded on the
// teacher's cmd/server/main.go signal-handling shape).
func runServe(ctx context.Context, configPath, logFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, logFile)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	engineMetrics := metrics.New(registry)

	channelNotifier := notify.NewChannelNotifier(core.UID(cfg.Engine.PrimaryUID), 256, logger)
	sinks := []engine.Notifier{channelNotifier}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		sinks = append(sinks, notify.NewRedisNotifier(core.UID(cfg.Engine.PrimaryUID), rdb, cfg.Redis.Channel, logger))
	}

	var auditStore *audit.Store
	var notifier engine.Notifier = notify.NewMulti(sinks...)
	if cfg.Audit.Enabled {
		auditStore, err = audit.Open(ctx, cfg.Audit.DBPath, logger)
		if err != nil {
			return err
		}
		defer auditStore.Close()
		notifier = audit.Wrap(notifier, auditStore, core.UID(cfg.Engine.PrimaryUID), logger)
	}

	controller := engine.NewController(engine.ControllerConfig{
		Config:           cfg.ToCoreConfig(),
		Clock:            clock.NewReal(),
		Notifier:         notifier,
		Logger:           logger,
		Metrics:          engineMetrics,
		StateEvictionCap: cfg.Engine.StateEvictionCap,
	})
	defer controller.Close()

	handler := api.NewHandler(controller, auditStore, logger)
	router := api.NewRouter(api.RouterConfig{
		Handler:  handler,
		Notifier: channelNotifier,
		Registry: registry,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("applimitd listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}
	logger.Info("server exited")
	return nil
}
