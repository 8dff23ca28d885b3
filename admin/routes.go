package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the HTTP handler for the admin port. metrics, when not
// nil, is served unauthenticated at /metrics. A nil h leaves /admin unmounted.
func NewRouter(h *Handlers, secret string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	if h == nil {
		return r
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(secret))

		r.Get("/", h.handleNode)

		r.Route("/cluster", func(r chi.Router) {
			r.Get("/members", h.handleClusterMembers)
			r.Get("/leaders/{identity}", h.handleClusterLeader)
		})

		r.Route("/ring", func(r chi.Router) {
			r.Get("/", h.handleRing)
			r.Get("/owner", h.handleRingOwner)
		})

		r.Get("/store/stats", h.handleStoreStats)
		r.Get("/replication", h.handleReplication)
		r.Get("/feed", h.handleFeed)
	})

	log.Info().Bool("auth", secret != "").Msg("Admin endpoints enabled at /admin/*")
	return r
}

// handleNode handles GET /admin/
func (h *Handlers) handleNode(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"identity": h.Self,
		"address":  h.Address,
	})
}
