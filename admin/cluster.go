package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/ringkv/cluster"
)

// handleClusterMembers handles GET /admin/cluster/members
func (h *Handlers) handleClusterMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Cluster.Members()
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSONResponse(w, members)
}

// handleClusterLeader handles GET /admin/cluster/leaders/{identity}
func (h *Handlers) handleClusterLeader(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	leader, err := h.Cluster.CurrentLeader(identity)
	if errors.Is(err, cluster.ErrNoLeader) {
		writeErrorResponse(w, http.StatusNotFound, "no leader for "+identity)
		return
	}
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"identity": identity,
		"leader":   leader,
		"is_self":  leader == h.Address,
	})
}
