package admin

import "net/http"

// handleReplication handles GET /admin/replication
func (h *Handlers) handleReplication(w http.ResponseWriter, r *http.Request) {
	if h.Replication == nil {
		writeErrorResponse(w, http.StatusNotFound, "replication is not running")
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"pending":     h.Replication.Pending(),
		"per_replica": h.Replication.PendingByReplica(),
	})
}
