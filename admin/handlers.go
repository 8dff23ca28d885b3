// Package admin serves the read-only admin HTTP API on the admin port.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/maxpert/ringkv/cluster"
	"github.com/maxpert/ringkv/ring"
	"github.com/rs/zerolog/log"
)

// ClusterView reads membership and leadership from the coordination service
type ClusterView interface {
	Members() ([]cluster.Member, error)
	CurrentLeader(identity string) (string, error)
}

// RingView exposes the current hash ring
type RingView interface {
	Snapshot() *ring.Snapshot
}

// StoreView reports on the local store
type StoreView interface {
	Len() int
}

// ReplicationView reports replication backlog
type ReplicationView interface {
	Pending() int
	PendingByReplica() map[string]int
}

// FeedView reports change feed progress
type FeedView interface {
	LastSeq() uint64
	Cursors() map[string]uint64
}

// Handlers serves admin endpoints. Replication and Feed are optional.
type Handlers struct {
	Self        string // Block identity of this process
	Address     string
	Cluster     ClusterView
	Ring        RingView
	Store       StoreView
	Replication ReplicationView
	Feed        FeedView
}

// writeJSONResponse writes {"data": data}
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes {"error": message} with status
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
