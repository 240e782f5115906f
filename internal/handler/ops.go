// Package handler provides the operational HTTP endpoints of Alexander Uploads.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// DefaultCheckTimeout bounds one readiness probe.
const DefaultCheckTimeout = 3 * time.Second

// CheckFunc probes one dependency. A nil error means ready.
type CheckFunc func(ctx context.Context) error

// Router serves health, readiness and metrics.
type Router struct {
	checks       map[string]CheckFunc
	gatherer     prometheus.Gatherer
	metricsPath  string
	checkTimeout time.Duration
	logger       zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	// Checks are the readiness probes, keyed by dependency name.
	Checks map[string]CheckFunc

	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// MetricsPath defaults to /metrics.
	MetricsPath string

	CheckTimeout time.Duration
	Logger       zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	path := config.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	timeout := config.CheckTimeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}

	return &Router{
		checks:       config.Checks,
		gatherer:     config.Gatherer,
		metricsPath:  path,
		checkTimeout: timeout,
		logger:       config.Logger.With().Str("component", "ops_router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.handleHealth)
	r.Get("/readyz", rt.handleReady)

	if rt.gatherer != nil {
		r.Method(http.MethodGet, rt.metricsPath, promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// handleHealth reports the process is alive.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readyResponse is the body of /readyz.
type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleReady runs every probe. Any failing probe makes the response 503.
func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(rt.checks))
	for name := range rt.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := readyResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	code := http.StatusOK

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), rt.checkTimeout)
		err := rt.checks[name](ctx)
		cancel()

		if err != nil {
			rt.logger.Warn().Err(err).Str("check", name).Msg("readiness check failed")
			resp.Checks[name] = err.Error()
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
