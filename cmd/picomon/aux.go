package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ============================================================================
// Aux Server
// ============================================================================
// Optional HTTP server next to the status page, for tooling only:
//   /ws       live readings (state_init + sensor_changed)
//   /metrics  Prometheus exposition
//   /healthz  liveness
// The status page itself never goes through net/http.
// ============================================================================

// newAuxRouter builds the aux routes.
func newAuxRouter(ws http.Handler, metrics *Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if ws != nil {
		r.Method(http.MethodGet, "/ws", ws)
	}
	return r
}

// runAuxServer serves handler on addr and shuts it down gracefully when ctx
// is canceled.
func runAuxServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("aux server listen on %s: %w", addr, err)
	}
	return serveAux(ctx, ln, handler, logger)
}

func serveAux(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	logger.Info("aux server listening", "addr", ln.Addr().String())

	srv := &http.Server{Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		// Serve returns http.ErrServerClosed on Shutdown.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("aux server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("aux server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
