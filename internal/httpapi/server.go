// Package httpapi serves the read-only admin API: registered services,
// health records, the dependency graph, the event log, prometheus
// metrics, and a websocket event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlasframe/registry/internal/events"
	"github.com/atlasframe/registry/internal/logging"
	"github.com/atlasframe/registry/internal/metrics"
	"github.com/atlasframe/registry/internal/middleware"
	"github.com/atlasframe/registry/internal/registry"
	"github.com/atlasframe/registry/internal/scope"
)

const defaultEventLimit = 100

// Config holds the server settings.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// AuthSecret enables JWT bearer auth when non-empty.
	AuthSecret []byte
	// RatePerMinute caps requests per client; 0 disables limiting.
	RatePerMinute int
	RateBurst     int

	AllowedOrigins []string
}

// Server is the admin API server.
type Server struct {
	cfg       Config
	reg       *registry.Registry
	collector *metrics.Collector
	log       *logging.Logger
	handler   http.Handler
	http      *http.Server
}

// NewServer builds the admin API around a registry. The collector may
// be nil, in which case no /metrics endpoint is exposed.
func NewServer(cfg Config, reg *registry.Registry, collector *metrics.Collector, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	s := &Server{
		cfg:       cfg,
		reg:       reg,
		collector: collector,
		log:       log,
	}
	s.handler = s.buildHandler()
	return s
}

func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	if s.collector != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.collector.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	}

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/services", s.handleServices).Methods("GET")
	v1.HandleFunc("/services/{type}", s.handleServicesByType).Methods("GET")
	v1.HandleFunc("/health", s.handleHealth).Methods("GET")
	v1.HandleFunc("/health/{type}", s.handleHealthByType).Methods("GET")
	v1.HandleFunc("/dependencies", s.handleDependencies).Methods("GET")
	v1.HandleFunc("/events", s.handleEvents).Methods("GET")
	v1.HandleFunc("/events/ws", s.handleEventsWS).Methods("GET")

	var handler http.Handler = router
	if s.cfg.RatePerMinute > 0 {
		handler = middleware.NewRateLimiter(s.cfg.RatePerMinute, s.cfg.RateBurst, s.log).Handler(handler)
	}
	if len(s.cfg.AuthSecret) > 0 {
		auth := middleware.NewAuthMiddleware(s.cfg.AuthSecret, s.log, []string{"/healthz", "/metrics"})
		handler = auth.Handler(handler)
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		handler = middleware.CORS(s.cfg.AllowedOrigins)(handler)
	}
	return middleware.NewTracingMiddleware(s.log).Handler(handler)
}

// Handler exposes the composed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start runs the HTTP server until ctx is cancelled or it fails.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("listen", s.cfg.Listen).Info("admin API listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("response encoding failed")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"services": s.reg.Locator().Snapshot(),
	})
}

func (s *Server) handleServicesByType(w http.ResponseWriter, r *http.Request) {
	t := scope.ServiceType(mux.Vars(r)["type"])
	var matched []any
	for _, e := range s.reg.Locator().Snapshot() {
		if e.Key.Type == t {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no registrations for type"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"services": matched})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"records": s.reg.Monitor().Snapshot(),
	})
}

func (s *Server) handleHealthByType(w http.ResponseWriter, r *http.Request) {
	t := scope.ServiceType(mux.Vars(r)["type"])
	var matched []any
	for _, rec := range s.reg.Monitor().Snapshot() {
		if rec.Key.Type == t {
			matched = append(matched, rec)
		}
	}
	if len(matched) == 0 {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "type not monitored"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"records": matched})
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	g := s.reg.Graph()
	resp := map[string]any{
		"edges": g.Edges(),
	}
	if order, err := g.InitializationOrder(g.Types()); err == nil {
		resp["initialization_order"] = order
	} else {
		resp["error"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	log := s.reg.Events()
	var recent []events.Event
	switch {
	case r.URL.Query().Get("service") != "":
		recent = log.RecentByService(scope.ServiceType(r.URL.Query().Get("service")), limit)
	case r.URL.Query().Get("type") != "":
		recent = log.RecentByType(events.Type(r.URL.Query().Get("type")), limit)
	default:
		recent = log.Recent(limit)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": recent})
}
