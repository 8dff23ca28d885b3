package coord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "watch channel closed without an event")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch event")
		return Event{}
	}
}

func TestSegments(t *testing.T) {
	require.Equal(t, []string{"/a", "/a/b"}, segments("/a/b"))
	require.Equal(t, []string{"/leaders"}, segments("/leaders/"))
	require.Empty(t, segments("/"))
}

func TestMemory_EnsurePathIsIdempotent(t *testing.T) {
	c := NewMemoryService().Connect()
	require.NoError(t, c.EnsurePath("/a/b/c"))
	require.NoError(t, c.EnsurePath("/a/b/c"))

	ok, err := c.Exists("/a/b")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemory_CreateEphemeralIsAtomic(t *testing.T) {
	svc := NewMemoryService()
	a, b := svc.Connect(), svc.Connect()
	require.NoError(t, a.EnsurePath("/leaders"))

	require.NoError(t, a.CreateEphemeral("/leaders/block-1", []byte("a:1")))
	require.ErrorIs(t, b.CreateEphemeral("/leaders/block-1", []byte("b:1")), ErrNodeExists)

	data, err := b.Get("/leaders/block-1")
	require.NoError(t, err)
	require.Equal(t, "a:1", string(data))
}

func TestMemory_CreateRequiresParent(t *testing.T) {
	c := NewMemoryService().Connect()
	require.ErrorIs(t, c.CreateEphemeral("/missing/x", nil), ErrNoNode)
}

func TestMemory_CloseRemovesEphemerals(t *testing.T) {
	svc := NewMemoryService()
	a, b := svc.Connect(), svc.Connect()
	require.NoError(t, a.EnsurePath("/nodes"))
	require.NoError(t, a.CreateEphemeral("/nodes/block-1", []byte("x")))
	require.NoError(t, b.CreateEphemeral("/nodes/block-2", []byte("y")))

	svc.Expire(a)

	children, err := b.Children("/nodes")
	require.NoError(t, err)
	require.Equal(t, []string{"block-2"}, children)

	// Persistent path survives its creator
	ok, err := b.Exists("/nodes")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = a.Get("/nodes/block-2")
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemory_ChildrenSorted(t *testing.T) {
	c := NewMemoryService().Connect()
	require.NoError(t, c.EnsurePath("/leaders"))
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, c.CreateEphemeral(Join("/leaders", id), nil))
	}

	children, err := c.Children("/leaders")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, children)
}

func TestMemory_ExistsWatchFiresOnDelete(t *testing.T) {
	svc := NewMemoryService()
	leader, follower := svc.Connect(), svc.Connect()
	require.NoError(t, leader.EnsurePath("/leaders"))
	require.NoError(t, leader.CreateEphemeral("/leaders/block-1", []byte("a:1")))

	ok, ch, err := follower.ExistsW("/leaders/block-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, leader.Close())

	ev := recv(t, ch)
	require.Equal(t, EventNodeDeleted, ev.Type)
	require.Equal(t, "/leaders/block-1", ev.Path)

	// One-shot: the channel is closed after the event
	_, open := <-ch
	require.False(t, open)
}

func TestMemory_ExistsWatchFiresOnCreateAndSet(t *testing.T) {
	svc := NewMemoryService()
	c := svc.Connect()
	require.NoError(t, c.EnsurePath("/leaders"))

	ok, ch, err := c.ExistsW("/leaders/block-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.CreateEphemeral("/leaders/block-1", []byte("a")))
	require.Equal(t, EventNodeCreated, recv(t, ch).Type)

	_, ch, err = c.ExistsW("/leaders/block-1")
	require.NoError(t, err)
	require.NoError(t, c.Set("/leaders/block-1", []byte("b")))
	require.Equal(t, EventNodeDataChanged, recv(t, ch).Type)
}

func TestMemory_ChildrenWatchFires(t *testing.T) {
	svc := NewMemoryService()
	a, b := svc.Connect(), svc.Connect()
	require.NoError(t, a.EnsurePath("/leaders"))

	children, ch, err := a.ChildrenW("/leaders")
	require.NoError(t, err)
	require.Empty(t, children)

	require.NoError(t, b.CreateEphemeral("/leaders/block-2", nil))
	ev := recv(t, ch)
	require.Equal(t, EventNodeChildrenChanged, ev.Type)
	require.Equal(t, "/leaders", ev.Path)

	_, ch, err = a.ChildrenW("/leaders")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.Equal(t, EventNodeChildrenChanged, recv(t, ch).Type)
}

func TestMemory_CloseReleasesOwnWatches(t *testing.T) {
	svc := NewMemoryService()
	c := svc.Connect()
	require.NoError(t, c.EnsurePath("/leaders"))

	_, ch, err := c.ExistsW("/leaders/block-1")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	ev := recv(t, ch)
	require.Equal(t, EventNotWatching, ev.Type)
	require.ErrorIs(t, ev.Err, ErrClosed)
}

func TestMemory_DeleteNonEmpty(t *testing.T) {
	c := NewMemoryService().Connect()
	require.NoError(t, c.EnsurePath("/a/b"))
	require.Error(t, c.Delete("/a"))
	require.NoError(t, c.Delete("/a/b"))
	require.NoError(t, c.Delete("/a"))
	require.ErrorIs(t, c.Delete("/a"), ErrNoNode)
}
