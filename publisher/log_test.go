package publisher

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryLog(t *testing.T) *PublishLog {
	t.Helper()
	pl, err := NewPublishLog("")
	require.NoError(t, err)
	t.Cleanup(func() { pl.Close() })
	return pl
}

func putEvent(key, value string) ChangeEvent {
	return ChangeEvent{Identity: "block-1", Origin: OriginClient, Operation: OpPut, Key: key, Value: value, CommitTS: 1000}
}

func TestPublishLogAppendAndRead(t *testing.T) {
	pl := newMemoryLog(t)

	events := []ChangeEvent{
		putEvent("user:1", "alice"),
		{Identity: "block-1", Origin: OriginReplicated, Operation: OpDelete, Key: "user:2", CommitTS: 2000},
	}
	require.NoError(t, pl.Append(events))

	assert.Equal(t, uint64(1), events[0].SeqNum)
	assert.Equal(t, uint64(2), events[1].SeqNum)
	assert.Equal(t, uint64(2), pl.LastSeq())

	read, err := pl.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Equal(t, events, read)
}

func TestPublishLogReadWithLimitAndCursor(t *testing.T) {
	pl := newMemoryLog(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, pl.Append([]ChangeEvent{putEvent(fmt.Sprintf("k%d", i), "v")}))
	}

	read, err := pl.ReadFrom(0, 3)
	require.NoError(t, err)
	require.Len(t, read, 3)
	assert.Equal(t, uint64(1), read[0].SeqNum)

	read, err = pl.ReadFrom(8, 0)
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, "k8", read[0].Key)
	assert.Equal(t, "k9", read[1].Key)

	read, err = pl.ReadFrom(10, 5)
	require.NoError(t, err)
	assert.Empty(t, read)
}

func TestPublishLogEmptyAppend(t *testing.T) {
	pl := newMemoryLog(t)
	require.NoError(t, pl.Append(nil))
	assert.Equal(t, uint64(0), pl.LastSeq())
}

func TestPublishLogCursors(t *testing.T) {
	pl := newMemoryLog(t)

	c, err := pl.GetCursor("kafka")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c)

	require.NoError(t, pl.AdvanceCursor("kafka", 5))
	require.NoError(t, pl.AdvanceCursor("nats", 2))

	c, _ = pl.GetCursor("kafka")
	assert.Equal(t, uint64(5), c)
	c, _ = pl.GetCursor("nats")
	assert.Equal(t, uint64(2), c)
}

func TestPublishLogPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	pl, err := NewPublishLog(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "publish_log"), pl.path)
	require.NoError(t, pl.Append([]ChangeEvent{putEvent("a", "1"), putEvent("b", "2")}))
	require.NoError(t, pl.AdvanceCursor("kafka", 1))
	require.NoError(t, pl.Close())

	pl, err = NewPublishLog(dir)
	require.NoError(t, err)
	defer pl.Close()

	assert.Equal(t, uint64(2), pl.LastSeq())
	c, err := pl.GetCursor("kafka")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c)

	events := []ChangeEvent{putEvent("c", "3")}
	require.NoError(t, pl.Append(events))
	assert.Equal(t, uint64(3), events[0].SeqNum)
}

func TestPublishLogCleanupRemovesConsumed(t *testing.T) {
	pl := newMemoryLog(t)
	for i := 0; i < 20; i++ {
		require.NoError(t, pl.Append([]ChangeEvent{putEvent(fmt.Sprintf("k%d", i), "v")}))
	}

	require.NoError(t, pl.AdvanceCursor("fast", 15))
	require.NoError(t, pl.AdvanceCursor("slow", 10))
	pl.cleanup()

	read, err := pl.ReadFrom(0, 100)
	require.NoError(t, err)
	require.Len(t, read, 10)
	assert.Equal(t, uint64(11), read[0].SeqNum)
}

func TestPublishLogConcurrentAppend(t *testing.T) {
	pl := newMemoryLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if err := pl.Append([]ChangeEvent{putEvent(fmt.Sprintf("k%d-%d", i, j), "v")}); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	read, err := pl.ReadFrom(0, 1000)
	require.NoError(t, err)
	require.Len(t, read, 200)
	for i, e := range read {
		require.Equal(t, uint64(i+1), e.SeqNum)
	}
}

func TestPublishLogClosed(t *testing.T) {
	pl, err := NewPublishLog("")
	require.NoError(t, err)
	require.NoError(t, pl.Close())

	require.ErrorIs(t, pl.Close(), ErrLogClosed)
	require.ErrorIs(t, pl.Append([]ChangeEvent{putEvent("k", "v")}), ErrLogClosed)
	_, err = pl.ReadFrom(0, 1)
	require.ErrorIs(t, err, ErrLogClosed)
	require.ErrorIs(t, pl.AdvanceCursor("s", 1), ErrLogClosed)
}

func TestFormatPubLogKey(t *testing.T) {
	assert.Equal(t, "/publog/0000000000000001", formatPubLogKey(1))
	assert.Equal(t, "/publog/00000000000000ff", formatPubLogKey(255))
	assert.Less(t, formatPubLogKey(9), formatPubLogKey(10))
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/publog0"), prefixUpperBound([]byte("/publog/")))
	assert.Equal(t, []byte{0x02, 0x00}, prefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
