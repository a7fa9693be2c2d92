package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// DisabledBindAddress turns a server off when used as its bind address.
const DisabledBindAddress = "0"

const shutdownTimeout = 5 * time.Second

// MetricsHandler serves the controller-runtime metrics registry at /metrics.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})).Methods(http.MethodGet)
	return r
}

// ProbeHandler serves /healthz (liveness) and /readyz (readiness). Each check
// is also reachable at its own sub-path, e.g. /readyz/reconcile.
func ProbeHandler(ready healthz.Checker) http.Handler {
	r := mux.NewRouter()
	mount := func(path string, checks map[string]healthz.Checker) {
		h := http.StripPrefix(path, &healthz.Handler{Checks: checks})
		r.PathPrefix(path).Handler(h).Methods(http.MethodGet, http.MethodHead)
	}
	mount("/healthz", map[string]healthz.Checker{"ping": healthz.Ping})
	mount("/readyz", map[string]healthz.Checker{"reconcile": ready})
	return r
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
// It returns immediately when addr is DisabledBindAddress or empty.
func Serve(ctx context.Context, log logr.Logger, addr string, handler http.Handler) error {
	if addr == "" || addr == DisabledBindAddress {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	log.Info("serving", "address", ln.Addr().String())
	go func() { errCh <- srv.Serve(ln) }()

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
		return fmt.Errorf("shutting down %s: %w", addr, err)
	}
	return nil
}
