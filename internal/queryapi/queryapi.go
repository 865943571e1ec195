// Package queryapi serves the Query Engine's HTTP/JSON surface (spec §6)
// over gorilla/mux, generalizing the teacher's single-ServeMux query server
// (exporter/sqliteexporter/handlers.go) to the fixed endpoint set this
// system's spec names, with path-parameter routing for /api/traces/{trace_id}.
package queryapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ollyscale/core/internal/querysvc"
)

// Pinger is implemented by storage backends that can report liveness for
// /health/db (spec §6). Declared narrowly here rather than widening
// store.Store, since only the HTTP edge cares about it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the HTTP server hosting the query API.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `mapstructure:"addr"`
}

const defaultAddr = ":8080"

// Validate fills Config defaults.
func (cfg *Config) Validate() error {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	return nil
}

// API wires the query service onto HTTP handlers.
type API struct {
	svc    *querysvc.Service
	db     Pinger
	logger *zap.Logger
}

// New builds an API. db may be nil, in which case /health/db always
// reports healthy (no backend to probe — e.g. in tests against a fake
// store that has no liveness concept).
func New(svc *querysvc.Service, db Pinger, logger *zap.Logger) *API {
	return &API{svc: svc, db: db, logger: logger}
}

// Router builds the full mux.Router: every spec §6 query endpoint, plus the
// supplemented /api/status surface (SPEC_FULL.md), wrapped in the same
// CORS + logging middleware shape as the teacher's query server.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/traces/search", a.handleSearchTraces).Methods(http.MethodGet)
	r.HandleFunc("/api/traces/{trace_id}", a.handleGetTraceDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/spans/search", a.handleSearchSpans).Methods(http.MethodPost)
	r.HandleFunc("/api/logs/search", a.handleSearchLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/search", a.handleSearchMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/services", a.handleListServices).Methods(http.MethodGet)
	r.HandleFunc("/api/service-map", a.handleServiceMap).Methods(http.MethodPost)
	r.HandleFunc("/api/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/db", a.handleHealthDB).Methods(http.MethodGet)

	r.Use(a.loggingMiddleware)
	r.Use(a.corsMiddleware)
	return r
}
