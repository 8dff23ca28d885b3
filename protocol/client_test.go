package protocol

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers each request line with reply(line) until the
// connection closes. A reply of "" sends nothing.
func scriptedServer(t *testing.T, reply func(line string) string) (string, <-chan string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	received := make(chan string, 16)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			received <- line
			if r := reply(line); r != "" {
				if _, err := conn.Write([]byte(r + "\r\n")); err != nil {
					return
				}
			}
		}
	}()
	return l.Addr().String(), received
}

func TestClient_ErrorReplyWrapsErrReply(t *testing.T) {
	addr, received := scriptedServer(t, func(string) string {
		return "ERROR: Node a:1 (A) is not the leader for key k"
	})
	c := dialTest(t, addr)

	err := c.Put("k", "two words")
	require.ErrorIs(t, err, ErrReply)
	assert.Contains(t, err.Error(), "Node a:1 (A) is not the leader for key k")
	assert.NotContains(t, err.Error(), ErrorPrefix)
	assert.Equal(t, "PUT k two words", <-received)
}

func TestClient_GetNullAndValue(t *testing.T) {
	addr, _ := scriptedServer(t, func(line string) string {
		if line == "GET missing" {
			return ReplyNull
		}
		return "a value"
	})
	c := dialTest(t, addr)

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := c.Get("present")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a value", v)
}

func TestClient_DeleteAndReplicatedCommands(t *testing.T) {
	addr, received := scriptedServer(t, func(line string) string {
		if line == "DELETE k" {
			return ReplyOK
		}
		return ReplyReplicated
	})
	c := dialTest(t, addr)

	require.NoError(t, c.Delete("k"))
	assert.Equal(t, "DELETE k", <-received)

	reply, err := c.Send(ReplicatePutCommand("k", "v"))
	require.NoError(t, err)
	assert.Equal(t, ReplyReplicated, reply)
	assert.Equal(t, "REPLICATE_PUT k v", <-received)
}

func TestClient_TimeoutOnSilentServer(t *testing.T) {
	addr, _ := scriptedServer(t, func(string) string { return "" })
	c := dialTest(t, addr)
	c.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := c.Do("GET k")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_DialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = Dial(context.Background(), addr, 200*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
