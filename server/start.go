// Package server exposes the HTTP control surface of the forwarder.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/comerc/tgrelay/app"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// NewMux returns the handler with all routes. /ping and /metrics skip basic auth.
func NewMux(a *app.App) http.Handler {
	h := &handlers{app: a}

	guarded := http.NewServeMux()
	guarded.HandleFunc("/list_chats", h.listChats)
	guarded.HandleFunc("/start_forward_messages", h.startForwardMessages)
	guarded.HandleFunc("/stop_forward_messages", h.stopForwardMessages)
	guarded.HandleFunc("/status", h.status)
	guarded.HandleFunc("/stats", h.stats)
	guarded.HandleFunc("/copied_messages", h.copiedMessages)

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", ping)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", withBasicAuth(guarded))

	return withCorrelation(mux)
}

// withCorrelation reuses X-Correlation-ID or generates one, and puts a
// logger carrying it into the request context.
func withCorrelation(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", corr)
		logger := log.With().Str("corr", corr).Logger()
		logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("Request")
		handler.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

// Start serves on 0.0.0.0:<port> until ctx is done, then shuts down gracefully.
func Start(ctx context.Context, a *app.App) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("0.0.0.0", string(a.Config().Port)),
		Handler:           NewMux(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Web-server is running")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("Web-server stopped")
	return nil
}
