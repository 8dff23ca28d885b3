package admin

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startAdminServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(NewRouter(newTestHandlers(), "", nil), "10.0.0.1:9001")
	require.NoError(t, s.Serve(l))
	t.Cleanup(s.Stop)
	return l.Addr().String()
}

func TestServerServesHTTP(t *testing.T) {
	addr := startAdminServer(t)

	resp, err := http.Get("http://" + addr + "/admin/ring/owner?key=k2")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"owner":"B"`)
}

func TestServerAnswersLineClientsWithCommandAddress(t *testing.T) {
	addr := startAdminServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = conn.Write([]byte("PUT k v\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ERROR: Admin port, send commands to 10.0.0.1:9001\n", line)
}

func TestServerStopIsIdempotent(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer(http.NotFoundHandler(), "x:1")
	require.NoError(t, s.Serve(l))

	s.Stop()
	s.Stop()

	_, err = net.DialTimeout("tcp", l.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}
