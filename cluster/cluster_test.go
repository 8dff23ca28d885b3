package cluster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/ringkv/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, svc *coord.MemoryService, identity, address string) (*Manager, *coord.MemoryClient) {
	t.Helper()
	client := svc.Connect()
	t.Cleanup(func() { client.Close() })

	m := NewManager(Options{
		Client:     client,
		Identity:   identity,
		Address:    address,
		WatchRetry: 20 * time.Millisecond,
	})
	require.NoError(t, m.Initialize())
	return m, client
}

func TestTryBecomeLeader_Unique(t *testing.T) {
	svc := coord.NewMemoryService()
	const racers = 16

	managers := make([]*Manager, racers)
	for i := range managers {
		managers[i], _ = newTestManager(t, svc, "block-1", fmt.Sprintf("10.0.0.%d:9001", i+1))
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, m := range managers {
		wg.Add(1)
		go func(m *Manager) {
			defer wg.Done()
			<-start
			ok, err := m.TryBecomeLeader("block-1", m.Address())
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(m)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())

	leader, err := managers[0].CurrentLeader("block-1")
	require.NoError(t, err)

	leaders := 0
	for _, m := range managers {
		ok, err := m.IsLeader("block-1")
		require.NoError(t, err)
		if ok {
			leaders++
			require.Equal(t, leader, m.Address())
		}
	}
	require.Equal(t, 1, leaders)
}

func TestCurrentLeader_NoLeader(t *testing.T) {
	m, _ := newTestManager(t, coord.NewMemoryService(), "block-1", "a:1")
	_, err := m.CurrentLeader("block-1")
	require.ErrorIs(t, err, ErrNoLeader)
}

func TestRegisterAsLeader_Idempotent(t *testing.T) {
	svc := coord.NewMemoryService()
	m, client := newTestManager(t, svc, "block-1", "a:1")

	ok, err := m.TryBecomeLeader("block-1", "a:1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.RegisterAsLeader("block-1", []string{"b:1", "c:1"}))
	first, err := client.Get("/nodes/block-1")
	require.NoError(t, err)

	require.NoError(t, m.RegisterAsLeader("block-1", []string{"b:1", "c:1"}))
	second, err := client.Get("/nodes/block-1")
	require.NoError(t, err)

	require.Equal(t, "a:1|b:1,c:1", string(first))
	require.Equal(t, first, second)

	// A changed replica set overwrites the record
	require.NoError(t, m.RegisterAsLeader("block-1", []string{"d:1"}))
	record, err := m.Membership("block-1")
	require.NoError(t, err)
	require.Equal(t, []string{"d:1"}, record.Replicas)
}

func TestRegisterAsLeader_NotLeaderIsNoop(t *testing.T) {
	svc := coord.NewMemoryService()
	leader, _ := newTestManager(t, svc, "block-1", "a:1")
	replica, _ := newTestManager(t, svc, "block-1", "b:1")

	ok, err := leader.TryBecomeLeader("block-1", "a:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, leader.RegisterAsLeader("block-1", []string{"b:1"}))

	require.NoError(t, replica.RegisterAsLeader("block-1", []string{"x:1"}))

	record, err := replica.Membership("block-1")
	require.NoError(t, err)
	require.Equal(t, "a:1", record.Leader)
	require.Equal(t, []string{"b:1"}, record.Replicas)

	// Without any leader nothing is written either
	other, _ := newTestManager(t, svc, "block-2", "c:1")
	require.NoError(t, other.RegisterAsLeader("block-2", nil))
	_, err = other.Membership("block-2")
	require.ErrorIs(t, err, coord.ErrNoNode)
}

func TestLeaderIdentitiesAndMembership(t *testing.T) {
	svc := coord.NewMemoryService()
	a, _ := newTestManager(t, svc, "block-b", "a:1")
	b, _ := newTestManager(t, svc, "block-a", "b:1")

	for _, m := range []*Manager{a, b} {
		ok, err := m.TryBecomeLeader(m.Identity(), m.Address())
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, a.RegisterAsLeader("block-b", []string{"r:1"}))

	ids, err := a.LeaderIdentities()
	require.NoError(t, err)
	require.Equal(t, []string{"block-a", "block-b"}, ids)

	all, err := a.AllMembership()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "a:1", all["block-b"].Leader)

	members, err := b.Members()
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "block-a", members[0].Identity)
	require.False(t, members[0].Registered)
	require.Equal(t, "b:1", members[0].Leader)
	require.True(t, members[1].Registered)
	require.Equal(t, []string{"r:1"}, members[1].Replicas)
}

func TestLeadershipRecordsVanishWithSession(t *testing.T) {
	svc := coord.NewMemoryService()
	leader, client := newTestManager(t, svc, "block-1", "a:1")
	observer, _ := newTestManager(t, svc, "block-1", "b:1")

	_, err := leader.TryBecomeLeader("block-1", "a:1")
	require.NoError(t, err)
	require.NoError(t, leader.RegisterAsLeader("block-1", nil))

	svc.Expire(client)

	_, err = observer.CurrentLeader("block-1")
	require.ErrorIs(t, err, ErrNoLeader)
	all, err := observer.AllMembership()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestWatchLeadership_FiresWhenAbsent(t *testing.T) {
	m, _ := newTestManager(t, coord.NewMemoryService(), "block-1", "a:1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	require.NoError(t, m.WatchLeadership(ctx, "block-1", func() {
		if fired.Add(1) == 1 {
			_, err := m.TryBecomeLeader("block-1", m.Address())
			assert.NoError(t, err)
		}
	}))

	// Synchronous first invocation
	require.Equal(t, int32(1), fired.Load())
	ok, err := m.IsLeader("block-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Leadership held: no further invocations
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load())
}

func TestWatchLeadership_Failover(t *testing.T) {
	svc := coord.NewMemoryService()
	leader, leaderClient := newTestManager(t, svc, "block-1", "a:1")
	_, err := leader.TryBecomeLeader("block-1", "a:1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replicas := []*Manager{}
	for i := 0; i < 3; i++ {
		m, _ := newTestManager(t, svc, "block-1", fmt.Sprintf("r%d:1", i))
		replicas = append(replicas, m)
	}

	var wins atomic.Int32
	var calls atomic.Int32
	for _, m := range replicas {
		m := m
		require.NoError(t, m.WatchLeadership(ctx, "block-1", func() {
			calls.Add(1)
			ok, err := m.TryBecomeLeader("block-1", m.Address())
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
				assert.NoError(t, m.RegisterAsLeader("block-1", []string{"a:1"}))
			}
		}))
	}
	require.Equal(t, int32(0), calls.Load())

	svc.Expire(leaderClient)

	require.Eventually(t, func() bool { return wins.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), wins.Load())
	require.GreaterOrEqual(t, calls.Load(), int32(3))

	newLeader, err := replicas[0].CurrentLeader("block-1")
	require.NoError(t, err)
	require.NotEqual(t, "a:1", newLeader)

	record, err := replicas[0].Membership("block-1")
	require.NoError(t, err)
	require.Equal(t, newLeader, record.Leader)
}

func TestWatchLeadership_StopsWithContext(t *testing.T) {
	svc := coord.NewMemoryService()
	holder, holderClient := newTestManager(t, svc, "block-1", "a:1")
	_, err := holder.TryBecomeLeader("block-1", "a:1")
	require.NoError(t, err)

	m, _ := newTestManager(t, svc, "block-1", "b:1")
	ctx, cancel := context.WithCancel(context.Background())

	var fired atomic.Int32
	require.NoError(t, m.WatchLeadership(ctx, "block-1", func() { fired.Add(1) }))
	cancel()
	time.Sleep(50 * time.Millisecond)

	svc.Expire(holderClient)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}

func TestWatchLeaders(t *testing.T) {
	svc := coord.NewMemoryService()
	watcher, _ := newTestManager(t, svc, "block-w", "w:1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var last []string
	var calls int
	require.NoError(t, watcher.WatchLeaders(ctx, func(ids []string) {
		mu.Lock()
		defer mu.Unlock()
		last = ids
		calls++
	}))

	snapshot := func() ([]string, int) {
		mu.Lock()
		defer mu.Unlock()
		return last, calls
	}
	ids, n := snapshot()
	require.Empty(t, ids)
	require.Equal(t, 1, n)

	a, aClient := newTestManager(t, svc, "block-a", "a:1")
	_, err := a.TryBecomeLeader("block-a", "a:1")
	require.NoError(t, err)
	b, _ := newTestManager(t, svc, "block-b", "b:1")
	_, err = b.TryBecomeLeader("block-b", "b:1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ids, _ := snapshot()
		return len(ids) == 2
	}, time.Second, 5*time.Millisecond)
	ids, _ = snapshot()
	require.Equal(t, []string{"block-a", "block-b"}, ids)

	svc.Expire(aClient)
	require.Eventually(t, func() bool {
		ids, _ := snapshot()
		return len(ids) == 1 && ids[0] == "block-b"
	}, time.Second, 5*time.Millisecond)
}
