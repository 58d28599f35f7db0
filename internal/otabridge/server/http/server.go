package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/otabridge/internal/fleet"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/pkg/log"
	"github.com/autopeer-io/otabridge/pkg/options"
)

type Server struct {
	server  *http.Server
	options *options.HttpOptions
}

// NewServer serves probes, metrics and the device API. ready reports whether
// the broker connection is up.
func NewServer(opts *options.HttpOptions, f *fleet.Fleet, orch *ota.Orchestrator, ready func() bool) *Server {
	return &Server{
		server: &http.Server{
			Addr:        opts.Addr,
			Handler:     NewRouter(f, orch, ready),
			ReadTimeout: opts.Timeout,
		},
		options: opts,
	}
}

// NewRouter builds the handler tree.
func NewRouter(f *fleet.Fleet, orch *ota.Orchestrator, ready func() bool) *mux.Router {
	h := &handlers{fleet: f, orch: orch}

	r := mux.NewRouter()

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "mqtt not connected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(requestLogger)
	api.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", h.getDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}/ota/{action}", h.runAction).Methods(http.MethodPost)

	return r
}

func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.Timeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// requestLogger scopes the logger of each API request to its method and path.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := log.WithValues("method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(log.NewContext(r.Context(), l)))
	})
}
