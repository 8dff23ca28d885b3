package admin

import "net/http"

// handleFeed handles GET /admin/feed
func (h *Handlers) handleFeed(w http.ResponseWriter, r *http.Request) {
	if h.Feed == nil {
		writeErrorResponse(w, http.StatusNotFound, "change feed is disabled")
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"last_seq": h.Feed.LastSeq(),
		"cursors":  h.Feed.Cursors(),
	})
}
