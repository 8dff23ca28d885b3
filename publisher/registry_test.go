package publisher

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/ringkv/cfg"
	"github.com/maxpert/ringkv/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSinksMu sync.Mutex
	testSinks   = make(map[string]*recordingSink)
)

func init() {
	RegisterSink("test-recording", func(c cfg.SinkConfiguration) (Sink, error) {
		testSinksMu.Lock()
		defer testSinksMu.Unlock()
		s := &recordingSink{}
		testSinks[c.Name] = s
		return s, nil
	})
	RegisterTransformer("test-json", func() Transformer { return jsonTestTransformer{} })
}

func testSink(name string) *recordingSink {
	testSinksMu.Lock()
	defer testSinksMu.Unlock()
	return testSinks[name]
}

func TestEventFromCommand(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	e, ok := EventFromCommand("block-1", protocol.PutCommand("k", "hello world"), at)
	require.True(t, ok)
	assert.Equal(t, ChangeEvent{Identity: "block-1", Origin: OriginClient, Operation: OpPut, Key: "k", Value: "hello world", CommitTS: 1700000000123}, e)

	e, ok = EventFromCommand("block-1", protocol.ReplicateDeleteCommand("k"), at)
	require.True(t, ok)
	assert.Equal(t, OriginReplicated, e.Origin)
	assert.Equal(t, OpDelete, e.Operation)
	assert.Empty(t, e.Value)

	_, ok = EventFromCommand("block-1", protocol.GetCommand("k"), at)
	assert.False(t, ok)
}

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	require.Error(t, err)

	_, err = NewRegistry(RegistryConfig{Identity: "b", SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}}})
	require.Error(t, err)

	_, err = NewRegistry(RegistryConfig{Identity: "b", SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "test-recording", Format: "yaml"}}})
	require.Error(t, err)

	_, err = NewRegistry(RegistryConfig{Identity: "b", SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "test-recording", Format: "test-json", Compression: "lz4"}}})
	require.Error(t, err)
}

func TestRegistryRecordsAndPublishes(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{
		Identity: "block-1",
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "all", Type: "test-recording", Format: "test-json", PollIntervalMS: 1000},
			{Name: "users", Type: "test-recording", Format: "test-json", FilterKeys: []string{"user:*"}, FilterOrigins: []string{OriginClient}, PollIntervalMS: 1000},
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	r.Record(protocol.PutCommand("user:1", "alice"))
	r.Record(protocol.ReplicatePutCommand("user:2", "bob"))
	r.Record(protocol.DeleteCommand("order:9"))
	r.Record(protocol.GetCommand("user:1"))

	all := testSink("all")
	users := testSink("users")
	require.Eventually(t, func() bool { return len(all.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		c := r.Cursors()
		return c["all"] == 3 && c["users"] == 3
	}, 2*time.Second, 5*time.Millisecond)

	msgs := users.snapshot()
	require.Len(t, msgs, 1)
	var event ChangeEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &event))
	assert.Equal(t, "user:1", event.Key)
	assert.Equal(t, "alice", event.Value)
	assert.Equal(t, OriginClient, event.Origin)
	assert.Equal(t, uint64(3), r.LastSeq())
}

func TestRegistryLifecycle(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{
		Identity:    "block-1",
		SinkConfigs: []cfg.SinkConfiguration{{Name: "life", Type: "test-recording", Format: "test-json", Compression: "zstd"}},
	})
	require.NoError(t, err)

	// Not running: records are ignored
	r.Record(protocol.PutCommand("k", "v"))
	assert.Equal(t, uint64(0), r.LastSeq())

	require.NoError(t, r.Start())
	require.Error(t, r.Start())

	r.Stop()
	r.Stop()
	assert.True(t, testSink("life").closed)

	r.Record(protocol.PutCommand("k", "v"))
}
