package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_PutGetDelete(t *testing.T) {
	s := New()

	_, ok := s.Get("k")
	require.False(t, ok)

	s.Put("k", "hello world")
	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "hello world", v)

	s.Put("k", "x")
	v, _ = s.Get("k")
	require.Equal(t, "x", v)
	require.Equal(t, 1, s.Len())

	require.True(t, s.Delete("k"))
	require.False(t, s.Delete("k"))
	require.Equal(t, 0, s.Len())
}

func TestStore_Snapshot(t *testing.T) {
	s := New()
	s.Put("a", "1")
	s.Put("b", "2")

	snap := s.Snapshot()
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, snap)

	// Snapshot is a copy
	snap["c"] = "3"
	_, ok := s.Get("c")
	require.False(t, ok)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := New()
	const writers = 8
	const keys = 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < keys; i++ {
				s.Put(fmt.Sprintf("k%d", i), fmt.Sprintf("w%d", w))
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, keys, s.Len())
	count := 0
	s.Range(func(key, value string) bool {
		count++
		return true
	})
	require.Equal(t, keys, count)
}
