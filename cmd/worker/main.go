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
	"github.com/kirillkom/trade-docs-backend/internal/core/usecase"
	"github.com/kirillkom/trade-docs-backend/internal/observability/logging"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel, "env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// The quota manager lives in this process, so its admin routes do too.
	admin := httpadapter.NewRouter(cfg, httpadapter.Services{Quota: app.QuotaUC}, app.Users, nil).Handler()
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.WorkerMetrics.Handler())
	mux.Handle("/", admin)
	server := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_admin_listening", "port", cfg.WorkerMetricsPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_admin_server_failed", "error", err)
		}
	}()

	handler := usecase.NewJobHandler(app.ProcessUC, app.WorkerMetrics)
	slog.Info("worker_subscribed", "subject", cfg.NATSProcessSubject)
	if err := app.Queue.SubscribeJobs(ctx, handler.Handle); err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker_admin_shutdown_failed", "error", err)
	}
	slog.Info("worker_stopped")
}
