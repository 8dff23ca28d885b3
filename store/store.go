// Package store is the volatile key-value map shared by every connection.
package store

import (
	"github.com/maxpert/ringkv/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
)

// Store is a concurrent string map. Every operation is atomic for its key;
// there are no multi-key transactions.
type Store struct {
	m *xsync.MapOf[string, string]
}

// New creates an empty store
func New() *Store {
	return &Store{m: xsync.NewMapOf[string, string]()}
}

// Get returns the value of key
func (s *Store) Get(key string) (string, bool) {
	return s.m.Load(key)
}

// Put sets key to value
func (s *Store) Put(key, value string) {
	if _, loaded := s.m.LoadAndStore(key, value); !loaded {
		telemetry.StoreKeys.Inc()
	}
}

// Delete removes key and reports whether it was present
func (s *Store) Delete(key string) bool {
	_, loaded := s.m.LoadAndDelete(key)
	if loaded {
		telemetry.StoreKeys.Dec()
	}
	return loaded
}

// Len returns the number of keys
func (s *Store) Len() int {
	return s.m.Size()
}

// Range calls fn for every entry until it returns false. Entries written
// concurrently may or may not be visited.
func (s *Store) Range(fn func(key, value string) bool) {
	s.m.Range(fn)
}

// Snapshot copies the current contents
func (s *Store) Snapshot() map[string]string {
	out := make(map[string]string, s.m.Size())
	s.m.Range(func(key, value string) bool {
		out[key] = value
		return true
	})
	return out
}
