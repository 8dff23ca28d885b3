package admin

import (
	"net/http"
)

// handleRing handles GET /admin/ring
func (h *Handlers) handleRing(w http.ResponseWriter, r *http.Request) {
	snap := h.Ring.Snapshot()
	writeJSONResponse(w, map[string]interface{}{
		"leaders":      snap.Leaders(),
		"positions":    snap.Len(),
		"distribution": snap.DistributionStats(),
		"shards":       snap.ShardIDs(),
	})
}

// handleRingOwner handles GET /admin/ring/owner?key=
func (h *Handlers) handleRingOwner(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeErrorResponse(w, http.StatusBadRequest, "key is required")
		return
	}

	owner, ok := h.Ring.Snapshot().OwnerOf(key)
	if !ok {
		writeErrorResponse(w, http.StatusServiceUnavailable, "ring is empty")
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"key":   key,
		"owner": owner,
		"local": owner == h.Self,
	})
}
