package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/estate-geolayers/internal/core/health"
	middleware "github.com/mohammed-shakir/estate-geolayers/internal/core/middleware"
)

type Options struct {
	// Metrics serves /metrics; nil uses the default Prometheus registry.
	Metrics http.Handler
	// Ready backs /readyz; nil reports ready.
	Ready health.ReadinessReporter
	// Mount registers the application routes.
	Mount func(chi.Router)
}

// NewRouter builds the chi router with the shared middlewares and the
// operational endpoints.
func NewRouter(logger *slog.Logger, opts Options) http.Handler {
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	if opts.Ready == nil {
		opts.Ready = health.ReadinessFunc(func() (bool, []int32) { return true, nil })
	}

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Ready))
	r.Method(http.MethodGet, "/metrics", opts.Metrics)
	if opts.Mount != nil {
		opts.Mount(r)
	}
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, logger *slog.Logger, opts Options) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(logger, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
