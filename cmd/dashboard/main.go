// Package main is the entrypoint for the Aisthesis dashboard server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/analysis"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/handler"
	mw "github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/api/middleware"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/config"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/history"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/metrics"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/session"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/store"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/tracker"
)

const (
	shutdownTimeout = 30 * time.Second
	sseHeartbeat    = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel,
	}))
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"history_backend", cfg.History.Backend,
		"backend_url", cfg.Backend.BaseURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open durable storage for the job index
	storage, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()
	slog.Info("storage ready", "backend", cfg.History.Backend)

	// 3. Remote client, tracker and routes
	client := newClient(cfg)
	trk := tracker.New(tracker.Deps{
		Client:               client,
		Index:                history.New(storage, history.WithKey(cfg.History.Key), history.WithLogger(logger)),
		Logger:               logger,
		PollInterval:         cfg.Poll.Interval,
		MaxAttempts:          cfg.Poll.MaxAttempts,
		ReconcileInterval:    cfg.Poll.ReconcileInterval,
		ReconcileConcurrency: cfg.Poll.ReconcileConcurrency,
		UploadRules: analysis.UploadRules{
			MaxBytes:          cfg.Upload.MaxBytes,
			AllowedExtensions: cfg.Upload.AllowedExtensions,
		},
	})
	if err := trk.Init(ctx); err != nil {
		return fmt.Errorf("init tracker: %w", err)
	}
	defer trk.Dispose()

	metrics.MustRegister()
	router := newRouter(cfg, storage, client, trk)

	// 4. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Zero: event streams and ?wait=true uploads hold responses open.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Stop tracking first so open event streams see their tasks end.
	trk.Dispose()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newClient builds the backend client. A request's own token wins over the
// configured service token, which only background reconciliation relies on.
func newClient(cfg *config.Config) *analysis.HTTPClient {
	tokens := session.Chain(session.Context(), session.Static(cfg.Backend.Token))
	return analysis.NewHTTPClient(cfg.Backend.BaseURL, tokens, cfg.Backend.Timeout,
		analysis.WithRateLimit(cfg.Backend.RPS, cfg.Backend.Burst))
}

func newRouter(cfg *config.Config, storage store.Storage, client analysis.Client, trk *tracker.Tracker) http.Handler {
	counter, ok := storage.(store.Counter)
	if !ok {
		counter = store.NewMemoryStorage()
	}

	return api.NewRouter(api.Dependencies{
		RateLimit:      mw.NewRateLimit(counter, cfg.Upload.RatePerMinute),
		AllowedOrigins: cfg.Server.AllowedOrigins,

		HealthHandler:  handler.NewHealthHandler(storage),
		MetricsHandler: promhttp.Handler(),

		CreateAnalysis: handler.NewCreateAnalysisHandler(trk, cfg.Upload.MaxBytes),
		ListAnalyses:   handler.NewListAnalysesHandler(trk),
		GetAnalysis:    handler.NewGetAnalysisHandler(trk),
		AnalysisEvents: handler.NewAnalysisEventsHandler(trk, sseHeartbeat),
		DeleteAnalysis: handler.NewDeleteAnalysisHandler(trk),
		ExportAnalysis: handler.NewExportAnalysisHandler(trk),
		ProfileHandler: handler.NewProfileHandler(client),
	})
}
