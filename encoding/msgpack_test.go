package encoding

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

type taggedRecord struct {
	SeqNum uint64 `json:"seq_num"`
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
}

func TestMarshal_UsesJSONTags(t *testing.T) {
	data, err := Marshal(taggedRecord{SeqNum: 3, Key: "k", Value: "v"})
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, Unmarshal(data, &generic))
	require.Contains(t, generic, "seq_num")
	require.Contains(t, generic, "key")
	require.Equal(t, "k", generic["key"])

	var back taggedRecord
	require.NoError(t, Unmarshal(data, &back))
	require.Equal(t, taggedRecord{SeqNum: 3, Key: "k", Value: "v"}, back)
}

func TestMarshal_OmitEmpty(t *testing.T) {
	data, err := Marshal(taggedRecord{SeqNum: 1, Key: "k"})
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, Unmarshal(data, &generic))
	require.NotContains(t, generic, "value")
}

func TestUnmarshal_BytesDecodeAsString(t *testing.T) {
	data, err := Marshal([]byte("hello world"))
	require.NoError(t, err)

	var result interface{}
	require.NoError(t, Unmarshal(data, &result))
	s, ok := result.(string)
	require.True(t, ok, "expected string, got %T", result)
	require.Equal(t, "hello world", s)
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				in := taggedRecord{SeqNum: uint64(j), Key: "k", Value: strings.Repeat("x", id)}
				data, err := Marshal(in)
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var out taggedRecord
				if err := Unmarshal(data, &out); err != nil || out != in {
					t.Errorf("round trip mismatch: %v %+v", err, out)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestCompressor_RoundTrip(t *testing.T) {
	c := NewCompressor(1)
	payload := bytes.Repeat([]byte("ringkv change event "), 200)

	compressed, err := c.Compress(payload)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(payload))

	out, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, payload, out)

	_, err = c.Decompress([]byte("not zstd"))
	require.Error(t, err)
}

func TestCompressor_Levels(t *testing.T) {
	require.Equal(t, zstd.SpeedFastest, NewCompressor(0).Level())
	require.Equal(t, zstd.SpeedFastest, NewCompressor(1).Level())
	require.Equal(t, zstd.SpeedDefault, NewCompressor(2).Level())
	require.Equal(t, zstd.SpeedBetterCompression, NewCompressor(3).Level())
	require.Equal(t, zstd.SpeedBestCompression, NewCompressor(4).Level())
}

func TestCompressor_ConcurrentUse(t *testing.T) {
	c := NewCompressor(2)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 1024)
			for j := 0; j < 20; j++ {
				compressed, err := c.Compress(payload)
				if err != nil {
					t.Error(err)
					return
				}
				out, err := c.Decompress(compressed)
				if err != nil || !bytes.Equal(out, payload) {
					t.Errorf("round trip failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func BenchmarkMarshal(b *testing.B) {
	rec := taggedRecord{SeqNum: 12345, Key: "user:42", Value: "benchmark value"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Marshal(rec)
	}
}
