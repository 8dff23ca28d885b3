package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maxpert/ringkv/cluster"
	"github.com/maxpert/ringkv/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	members []cluster.Member
	leaders map[string]string
	err     error
}

func (f *fakeCluster) Members() ([]cluster.Member, error) {
	return f.members, f.err
}

func (f *fakeCluster) CurrentLeader(identity string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	leader, ok := f.leaders[identity]
	if !ok {
		return "", cluster.ErrNoLeader
	}
	return leader, nil
}

type fakeRing struct{ snap *ring.Snapshot }

func (f fakeRing) Snapshot() *ring.Snapshot { return f.snap }

type fakeStore int

func (f fakeStore) Len() int { return int(f) }

type fakeReplication map[string]int

func (f fakeReplication) Pending() int {
	total := 0
	for _, n := range f {
		total += n
	}
	return total
}

func (f fakeReplication) PendingByReplica() map[string]int { return f }

type fakeFeed struct{}

func (fakeFeed) LastSeq() uint64 { return 7 }
func (fakeFeed) Cursors() map[string]uint64 { return map[string]uint64{"kafka": 5} }

func newTestHandlers() *Handlers {
	return &Handlers{
		Self:    "A",
		Address: "a:9001",
		Cluster: &fakeCluster{
			members: []cluster.Member{{Identity: "A", Leader: "a:9001", Replicas: []string{"a2:9001"}, Registered: true}},
			leaders: map[string]string{"A": "a:9001", "B": "b:9001"},
		},
		Ring:  fakeRing{snap: ring.NewSnapshot([]string{"A", "B"})},
		Store: fakeStore(3),
	}
}

type response struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func do(t *testing.T, handler http.Handler, path string, header http.Header) (int, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestClusterMembers(t *testing.T) {
	code, resp := do(t, NewRouter(newTestHandlers(), "", nil), "/admin/cluster/members", nil)
	require.Equal(t, http.StatusOK, code)

	var members []cluster.Member
	require.NoError(t, json.Unmarshal(resp.Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, "a:9001", members[0].Leader)
	assert.Equal(t, []string{"a2:9001"}, members[0].Replicas)
}

func TestClusterMembersCoordinationError(t *testing.T) {
	h := newTestHandlers()
	h.Cluster = &fakeCluster{err: errors.New("session expired")}

	code, resp := do(t, NewRouter(h, "", nil), "/admin/cluster/members", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Error, "session expired")
}

func TestClusterLeader(t *testing.T) {
	router := NewRouter(newTestHandlers(), "", nil)

	code, resp := do(t, router, "/admin/cluster/leaders/B", nil)
	require.Equal(t, http.StatusOK, code)
	var leader map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &leader))
	assert.Equal(t, "b:9001", leader["leader"])
	assert.Equal(t, false, leader["is_self"])

	code, _ = do(t, router, "/admin/cluster/leaders/C", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRingEndpoints(t *testing.T) {
	router := NewRouter(newTestHandlers(), "", nil)

	code, resp := do(t, router, "/admin/ring", nil)
	require.Equal(t, http.StatusOK, code)
	var view struct {
		Leaders      []string       `json:"leaders"`
		Positions    int            `json:"positions"`
		Distribution map[string]int `json:"distribution"`
		Shards       []int          `json:"shards"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.Equal(t, []string{"A", "B"}, view.Leaders)
	assert.Equal(t, 2*ring.VirtualNodes, view.Positions)
	assert.Equal(t, ring.NewSnapshot([]string{"A", "B"}).ShardIDs(), view.Shards)
	assert.NotEmpty(t, view.Shards)

	code, resp = do(t, router, "/admin/ring/owner?key=k2", nil)
	require.Equal(t, http.StatusOK, code)
	var owner map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &owner))
	assert.Equal(t, "B", owner["owner"])
	assert.Equal(t, false, owner["local"])

	code, _ = do(t, router, "/admin/ring/owner", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRingOwnerEmptyRing(t *testing.T) {
	h := newTestHandlers()
	h.Ring = fakeRing{snap: ring.NewSnapshot(nil)}

	code, _ := do(t, NewRouter(h, "", nil), "/admin/ring/owner?key=k1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestStoreStatsAndOptionalViews(t *testing.T) {
	h := newTestHandlers()
	router := NewRouter(h, "", nil)

	code, resp := do(t, router, "/admin/store/stats", nil)
	require.Equal(t, http.StatusOK, code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, float64(3), stats["keys"])
	assert.NotContains(t, stats, "replication_pending")

	code, _ = do(t, router, "/admin/replication", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, router, "/admin/feed", nil)
	assert.Equal(t, http.StatusNotFound, code)

	h.Replication = fakeReplication{"r1:9001": 2, "r2:9001": 1}
	h.Feed = fakeFeed{}
	router = NewRouter(h, "", nil)

	code, resp = do(t, router, "/admin/store/stats", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, float64(3), stats["replication_pending"])
	assert.Equal(t, float64(7), stats["feed_last_seq"])

	code, resp = do(t, router, "/admin/feed", nil)
	require.Equal(t, http.StatusOK, code)
	var feed struct {
		Cursors map[string]uint64 `json:"cursors"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &feed))
	assert.Equal(t, uint64(5), feed.Cursors["kafka"])
}

func TestAuthMiddleware(t *testing.T) {
	router := NewRouter(newTestHandlers(), "s3cret", nil)

	code, resp := do(t, router, "/admin/ring", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "missing authentication header", resp.Error)

	code, _ = do(t, router, "/admin/ring", http.Header{SecretHeader: {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp = do(t, router, "/admin/ring", http.Header{"Authorization": {"Basic abc"}})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid authorization header format", resp.Error)

	code, _ = do(t, router, "/admin/ring", http.Header{SecretHeader: {"s3cret"}})
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, router, "/admin/ring", http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsBypassesAuth(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":"metrics"}`))
	})
	router := NewRouter(newTestHandlers(), "s3cret", metrics)

	code, resp := do(t, router, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, `"metrics"`, string(resp.Data))
}

func TestAdminDisabled(t *testing.T) {
	router := NewRouter(nil, "", http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/admin/ring", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
