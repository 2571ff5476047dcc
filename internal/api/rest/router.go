package rest

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/cache"
	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/config"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
)

// RouterDeps carries the cross-cutting collaborators the middleware stack
// needs
type RouterDeps struct {
	Security config.SecurityConfig
	Limiter  *cache.RateLimiter
	Registry *metrics.Registry
	Gatherer prometheus.Gatherer
}

// NewRouter assembles the route table and middleware stack. Health and
// metrics endpoints bypass authentication and rate limiting.
func NewRouter(h *Handler, deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer,
		promhttp.HandlerOpts{}))

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/audit/batch", h.SubmitBatch)
	api.HandleFunc("POST /api/v1/audit/offline", h.SubmitOfflineBatch)
	api.HandleFunc("GET /api/v1/audit/events/{id}", h.GetEvent)
	api.HandleFunc("GET /api/v1/audit/chains/{chainID}/status", h.GetChainStatus)
	api.HandleFunc("GET /api/v1/audit/incidents", h.ListIncidents)
	api.HandleFunc("POST /api/v1/audit/verify", h.TriggerVerification)
	api.HandleFunc("POST /api/v1/audit/archives/seal", h.TriggerSeal)
	api.HandleFunc("GET /api/v1/audit/archives", h.ListArchives)
	api.HandleFunc("GET /api/v1/audit/merges", h.ListMerges)
	api.HandleFunc("GET /api/v1/audit/stream", h.stream.Serve)

	mux.Handle("/api/v1/", Chain(api,
		Authenticate(deps.Security.JWTSecret),
		RateLimit(deps.Limiter,
			deps.Security.RateLimit.RequestsPerSecond,
			deps.Security.RateLimit.BurstSize),
	))

	return Chain(mux,
		RequestID(),
		Recover(h.logger),
		AccessLog(h.logger),
		Instrument(deps.Registry),
	)
}
