package admin

import "net/http"

// handleStoreStats handles GET /admin/store/stats
func (h *Handlers) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"identity": h.Self,
		"keys":     h.Store.Len(),
	}
	if h.Replication != nil {
		stats["replication_pending"] = h.Replication.Pending()
	}
	if h.Feed != nil {
		stats["feed_last_seq"] = h.Feed.LastSeq()
	}
	writeJSONResponse(w, stats)
}
