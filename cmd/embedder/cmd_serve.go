package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"pixel-embedder/internal/api"
	"pixel-embedder/internal/platform/logger"
	"pixel-embedder/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the "embedder serve" subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the embedder and serve the action API",
		Long:  "Start the engine with its browser and socket paths and serve POST /v1/actions and GET /metrics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := loadSettings()
			log := logger.New(s.LogLevel, s.LogFormat)
			met := metrics.New()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, s, log, met)
			if err != nil {
				return err
			}
			defer st.close()

			h := api.NewHandler(st.engine, st.history, log, met).WithTimeout(s.ActionTimeout)
			srv := &http.Server{
				Addr:              ":" + s.Port,
				Handler:           newRouter(h, log, met, st.updateGauges),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			log.Info("server starting",
				slog.String("port", s.Port),
				slog.String("page_url", s.PageURL),
				slog.String("log_level", s.LogLevel))

			select {
			case err := <-errCh:
				if err != nil {
					log.Error("server error", slog.String("error", err.Error()))
					return err
				}
			case <-ctx.Done():
				log.Info("shutdown signal received, draining connections")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("shutdown error", slog.String("error", err.Error()))
				return err
			}

			log.Info("server stopped")
			return nil
		},
	}
}

// newRouter mounts the action API and the metrics endpoint.
func newRouter(h *api.Handler, log *slog.Logger, met *metrics.Metrics, updateGauges func(context.Context)) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(updateGauges).ServeHTTP(w, r)
	})
	h.Routes(r)
	return r
}
