package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/trade-docs-backend/internal/adapters/http"
	"github.com/kirillkom/trade-docs-backend/internal/bootstrap"
	"github.com/kirillkom/trade-docs-backend/internal/config"
	"github.com/kirillkom/trade-docs-backend/internal/observability/logging"
	"github.com/kirillkom/trade-docs-backend/internal/observability/metrics"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("api", cfg.LogLevel, "env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		slog.Warn("jwt_secret_missing", "effect", "all /api requests will be rejected")
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	services := httpadapter.Services{
		Orders:    app.OrdersUC,
		Stages:    app.StagesUC,
		Lifecycle: app.LifecycleUC,
		Documents: app.IngestUC,
	}
	router := httpadapter.NewRouter(cfg, services, app.Users, metrics.NewHTTPServerMetrics("api")).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
	slog.Info("api_stopped")
}
