// Package replica pushes a leader's accepted writes to the replicas listed in
// its membership record.
//
// Each replica address gets its own FIFO queue drained by one goroutine, so
// commands reach a replica in the order they were enqueued and a slow replica
// never delays the others or the client. The router enqueues a write while
// holding its key lock, which makes enqueue order equal apply order per key.
// A queued command may carry a release channel; delivery waits for it, so a
// client is answered before its write is sent anywhere. A delivery dials the
// replica, sends one REPLICATE_* line and waits for the REPLICATED
// acknowledgement. Failed deliveries are retried MaxAttempts times with a
// fixed Backoff, then logged and dropped. There is no quorum and no catch-up:
// a replica that missed commands stays behind.
//
// Worst case a replica queue advances by one command every
// MaxAttempts × (DialTimeout + IOTimeout + Backoff) while the replica is
// unreachable.
package replica

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/ringkv/cluster"
	"github.com/maxpert/ringkv/protocol"
	"github.com/maxpert/ringkv/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// TargetResolver reads the membership record naming a block's replicas
type TargetResolver interface {
	Membership(identity string) (cluster.MembershipRecord, error)
}

// Config controls delivery
type Config struct {
	Identity    string // Block whose membership record lists the replicas
	Self        string // Own address, never a target
	MaxAttempts int
	Backoff     time.Duration
	DialTimeout time.Duration
	IOTimeout   time.Duration
	QueueSize   int // Per replica
}

// DefaultConfig returns 3 attempts 500ms apart
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		DialTimeout: 2 * time.Second,
		IOTimeout:   2 * time.Second,
		QueueSize:   1024,
	}
}

// Engine fans writes out to replicas
type Engine struct {
	cfg     Config
	targets TargetResolver
	peers   *xsync.MapOf[string, *peer]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex // Guards closed against peer creation
	closed bool
}

// NewEngine creates an engine; peers are started lazily
func NewEngine(cfg Config, targets TargetResolver) *Engine {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = def.IOTimeout
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		targets: targets,
		peers:   xsync.NewMapOf[string, *peer](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ReplicatePut queues REPLICATE_PUT key value for every replica
func (e *Engine) ReplicatePut(key, value string) {
	e.Enqueue(e.Targets(), protocol.ReplicatePutCommand(key, value), nil)
}

// ReplicateDelete queues REPLICATE_DELETE key for every replica
func (e *Engine) ReplicateDelete(key string) {
	e.Enqueue(e.Targets(), protocol.ReplicateDeleteCommand(key), nil)
}

// Targets reads the block's membership record and returns its replicas,
// excluding this node. Nil when the record cannot be read.
func (e *Engine) Targets() []string {
	record, err := e.targets.Membership(e.cfg.Identity)
	if err != nil {
		telemetry.ReplicationDroppedTotal.With("no_membership").Inc()
		log.Error().
			Err(err).
			Str("block", e.cfg.Identity).
			Msg("Cannot read membership record, write not replicated")
		return nil
	}

	out := make([]string, 0, len(record.Replicas))
	for _, addr := range record.Replicas {
		if addr != e.cfg.Self {
			out = append(out, addr)
		}
	}
	return out
}

// Enqueue appends cmd to the queue of every target without blocking. A nil
// release lets delivery start immediately.
func (e *Engine) Enqueue(targets []string, cmd protocol.Command, release <-chan struct{}) {
	for _, addr := range targets {
		p := e.peer(addr)
		if p == nil {
			return
		}
		p.enqueue(cmd, release)
	}
}

// peer returns the queue for addr, starting it on first use. Returns nil
// once the engine is closed.
func (e *Engine) peer(addr string) *peer {
	if p, ok := e.peers.Load(addr); ok {
		return p
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil
	}

	p, loaded := e.peers.LoadOrCompute(addr, func() *peer {
		return newPeer(addr, &e.cfg)
	})
	if !loaded {
		log.Debug().Str("replica", addr).Msg("Starting replica queue")
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			p.run(e.ctx)
		}()
	}
	return p
}

// Pending returns the number of queued commands across replicas
func (e *Engine) Pending() int {
	total := 0
	e.peers.Range(func(_ string, p *peer) bool {
		total += p.pending()
		return true
	})
	return total
}

// PendingByReplica returns queued commands per replica address
func (e *Engine) PendingByReplica() map[string]int {
	out := make(map[string]int)
	e.peers.Range(func(addr string, p *peer) bool {
		out[addr] = p.pending()
		return true
	})
	return out
}

// Close stops every replica queue; queued commands are dropped
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	dropped := e.Pending()
	if dropped > 0 {
		telemetry.ReplicationDroppedTotal.With("shutdown").Add(float64(dropped))
		log.Warn().Int("dropped", dropped).Msg("Replication engine closed with queued commands")
	}
}

type queued struct {
	cmd      protocol.Command
	enqueued time.Time
	release  <-chan struct{}
}

type peer struct {
	addr      string
	cfg       *Config
	queue     chan queued
	delivered atomic.Uint64
}

func newPeer(addr string, cfg *Config) *peer {
	return &peer{
		addr:  addr,
		cfg:   cfg,
		queue: make(chan queued, cfg.QueueSize),
	}
}

func (p *peer) pending() int {
	return len(p.queue)
}

func (p *peer) enqueue(cmd protocol.Command, release <-chan struct{}) {
	select {
	case p.queue <- queued{cmd: cmd, enqueued: time.Now(), release: release}:
		telemetry.ReplicationQueueDepth.With(p.addr).Set(float64(len(p.queue)))
	default:
		telemetry.ReplicationDroppedTotal.With("queue_full").Inc()
		log.Error().
			Str("replica", p.addr).
			Str("command", string(cmd.Name)).
			Str("key", cmd.Key).
			Int("queue_size", cap(p.queue)).
			Msg("Replica queue full, command dropped")
	}
}

func (p *peer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.queue:
			telemetry.ReplicationQueueDepth.With(p.addr).Set(float64(len(p.queue)))
			if item.release != nil {
				select {
				case <-ctx.Done():
					return
				case <-item.release:
				}
			}
			p.deliver(ctx, item)
		}
	}
}
