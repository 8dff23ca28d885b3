// Package ring maps keys to the block whose leader owns them.
//
// The ring holds VirtualNodes positions per leader. A key is owned by the
// block of the first position at or after the key's hash, wrapping to the
// first position. Rings are immutable snapshots; a rebuild publishes a new
// snapshot atomically so readers never see a partial ring.
package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/maxpert/ringkv/telemetry"
	"github.com/rs/zerolog/log"
)

// VirtualNodes is the number of ring positions per leader
const VirtualNodes = 10

// ShardGranularity groups ring positions into coarse shard ids
const ShardGranularity = 10

// ErrEmptyRing means there is no leader, so no key has an owner
var ErrEmptyRing = errors.New("ring: no leaders")

// LeaderSource lists the blocks that currently have a leader
type LeaderSource interface {
	LeaderIdentities() ([]string, error)
}

// Hash reduces s to a ring position: the first four bytes of its SHA-256
// digest read as a big-endian signed 32-bit integer, made non-negative. The
// absolute value is taken in 64 bits, so MinInt32 maps to 2^31.
func Hash(s string) int64 {
	sum := sha256.Sum256([]byte(s))
	v := int64(int32(binary.BigEndian.Uint32(sum[:4])))
	if v < 0 {
		v = -v
	}
	return v
}

// VirtualNodeLabel names the i-th position of identity on the ring
func VirtualNodeLabel(identity string, i int) string {
	return identity + "-vnode-" + strconv.Itoa(i)
}

// Snapshot is an immutable ring
type Snapshot struct {
	positions []int64          // Sorted
	owners    map[int64]string // position -> identity
	leaders   []string         // Sorted, unique
}

// NewSnapshot builds a ring over identities. The identities are sorted
// first, so the same set always yields the same ring. Positions that collide
// belong to the identity inserted last.
func NewSnapshot(identities []string) *Snapshot {
	leaders := make([]string, 0, len(identities))
	seen := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		leaders = append(leaders, id)
	}
	sort.Strings(leaders)

	owners := make(map[int64]string, len(leaders)*VirtualNodes)
	for _, id := range leaders {
		for i := 0; i < VirtualNodes; i++ {
			owners[Hash(VirtualNodeLabel(id, i))] = id
		}
	}

	positions := make([]int64, 0, len(owners))
	for pos := range owners {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })

	return &Snapshot{
		positions: positions,
		owners:    owners,
		leaders:   leaders,
	}
}

// OwnerOf returns the identity owning key, or false on an empty ring
func (s *Snapshot) OwnerOf(key string) (string, bool) {
	if len(s.positions) == 0 {
		return "", false
	}

	hash := Hash(key)
	idx := sort.Search(len(s.positions), func(i int) bool {
		return s.positions[i] >= hash
	})
	if idx >= len(s.positions) {
		idx = 0
	}
	return s.owners[s.positions[idx]], true
}

// Leaders returns the sorted identities on the ring
func (s *Snapshot) Leaders() []string {
	return append([]string(nil), s.leaders...)
}

// Len returns the number of positions
func (s *Snapshot) Len() int {
	return len(s.positions)
}

// Positions returns a copy of the sorted ring positions
func (s *Snapshot) Positions() []int64 {
	return append([]int64(nil), s.positions...)
}

// DistributionStats counts positions per identity
func (s *Snapshot) DistributionStats() map[string]int {
	stats := make(map[string]int, len(s.leaders))
	for _, pos := range s.positions {
		stats[s.owners[pos]]++
	}
	return stats
}

// ShardIDs returns the distinct position buckets (position mod
// ShardGranularity), sorted
func (s *Snapshot) ShardIDs() []int {
	seen := make(map[int]struct{})
	for _, pos := range s.positions {
		seen[int(pos%ShardGranularity)] = struct{}{}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Ring holds the current snapshot and rebuilds it from a LeaderSource
type Ring struct {
	source  LeaderSource
	current atomic.Pointer[Snapshot]
}

// New creates an empty ring reading leaders from source
func New(source LeaderSource) *Ring {
	r := &Ring{source: source}
	r.current.Store(NewSnapshot(nil))
	return r
}

// Rebuild replaces the ring with one over the current leaders. On error the
// previous snapshot stays in place.
func (r *Ring) Rebuild() error {
	if r.source == nil {
		return errors.New("ring: no leader source")
	}

	identities, err := r.source.LeaderIdentities()
	if err != nil {
		telemetry.RingRebuildsTotal.With("failed").Inc()
		return err
	}
	r.Build(identities)
	return nil
}

// Build publishes a ring over identities and returns it
func (r *Ring) Build(identities []string) *Snapshot {
	snap := NewSnapshot(identities)
	r.current.Store(snap)

	telemetry.RingRebuildsTotal.With("success").Inc()
	telemetry.RingLeaders.Set(float64(len(snap.leaders)))
	telemetry.RingVirtualNodes.Set(float64(len(snap.positions)))
	log.Info().
		Strs("leaders", snap.leaders).
		Int("positions", len(snap.positions)).
		Msg("Hash ring rebuilt")
	return snap
}

// Snapshot returns the current ring
func (r *Ring) Snapshot() *Snapshot {
	return r.current.Load()
}

// OwnerOf looks key up on the current ring
func (r *Ring) OwnerOf(key string) (string, bool) {
	return r.current.Load().OwnerOf(key)
}
