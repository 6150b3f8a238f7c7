package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/decom/telemetry"
)

const shutdownTimeout = 5 * time.Second

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// serverActor adapts srv to a run.Group actor. A server that fails to
// listen is logged and waits for the interrupt, so it never ends the batch.
func serverActor(srv *http.Server, logger *telemetry.Logger) (func() error, func(error)) {
	done := make(chan struct{})

	execute := func() error {
		logger.Info().Str("addr", srv.Addr).Msg("starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Str("addr", srv.Addr).Msg("metrics server error")
			<-done
		}
		return nil
	}

	interrupt := func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
		close(done)
	}

	return execute, interrupt
}
