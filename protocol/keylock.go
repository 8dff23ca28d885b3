package protocol

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const keyLockStripes = 256

// keyLocks serializes writes to the same key. Distinct keys usually map to
// distinct stripes and proceed in parallel.
type keyLocks struct {
	stripes [keyLockStripes]sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	m := &l.stripes[xxhash.Sum64String(key)%keyLockStripes]
	m.Lock()
	return m.Unlock
}
