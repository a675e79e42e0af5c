package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kmorozov/ragengine/internal/bootstrap"
	"github.com/kmorozov/ragengine/internal/config"
	"github.com/kmorozov/ragengine/internal/observability/logging"
	"github.com/kmorozov/ragengine/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close(context.Background())

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeDocumentMutated(ctx, func(handlerCtx context.Context, documentID, action string) error {
		invalidateCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		start := time.Now()
		workerMetrics.StartInvalidation()
		invErr := app.InvalidationUC.InvalidateDocument(invalidateCtx, documentID)
		workerMetrics.FinishInvalidation("worker", action, time.Since(start), invErr)
		if invErr != nil {
			slog.Error("invalidation failed", "document_id", documentID, "action", action, "error", invErr)
		} else {
			slog.Info("invalidated document caches", "document_id", documentID, "action", action)
		}
		return invErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
