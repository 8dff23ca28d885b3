package protocol

import (
	"errors"
	"time"

	"github.com/maxpert/ringkv/cluster"
	"github.com/maxpert/ringkv/telemetry"
	"github.com/rs/zerolog/log"
)

// Store is the local key-value map
type Store interface {
	Get(key string) (string, bool)
	Put(key, value string)
	Delete(key string) bool
}

// OwnerLookup maps a key to the block owning it
type OwnerLookup interface {
	OwnerOf(key string) (string, bool)
}

// LeaderLookup reads the current leader address of a block
type LeaderLookup interface {
	CurrentLeader(identity string) (string, error)
}

// Replicator pushes accepted writes to the block's replicas. Enqueue is
// called with the key locked, in the order writes were applied, and must not
// block. Delivery of an enqueued command waits until release is closed.
type Replicator interface {
	Targets() []string
	Enqueue(targets []string, cmd Command, release <-chan struct{})
}

// ChangeRecorder observes every applied mutation
type ChangeRecorder interface {
	Record(cmd Command)
}

// Self identifies the process serving requests
type Self struct {
	Identity string
	Address  string
}

// RouterConfig wires a Router
type RouterConfig struct {
	Store      Store
	Ring       OwnerLookup
	Leaders    LeaderLookup
	Replicator Replicator     // Optional
	Changes    ChangeRecorder // Optional
	Self       Self
}

// Router dispatches commands. Client writes are fenced: they are applied
// only when this process is the current leader of the block owning the key.
// Reads and replicated writes are applied locally without checks.
type Router struct {
	store      Store
	ring       OwnerLookup
	leaders    LeaderLookup
	replicator Replicator
	changes    ChangeRecorder
	self       Self
	locks      keyLocks
}

// NewRouter creates a router
func NewRouter(c RouterConfig) *Router {
	return &Router{
		store:      c.Store,
		ring:       c.Ring,
		leaders:    c.Leaders,
		replicator: c.Replicator,
		changes:    c.Changes,
		self:       c.Self,
	}
}

// Handle processes one request line. It returns the reply line and an
// optional follow-up to run once the reply has been written. For accepted
// writes the follow-up releases the queued replication, so the client is
// answered before any replica is contacted.
func (r *Router) Handle(line string) (string, func()) {
	cmd, err := ParseCommand(line)
	if err != nil {
		telemetry.ProtocolErrorsTotal.Inc()
		return errorReply(err), nil
	}

	start := time.Now()
	reply, followUp, result := r.Dispatch(cmd)

	name := string(cmd.Name)
	telemetry.CommandsTotal.With(name, result).Inc()
	telemetry.CommandDurationSeconds.With(name).Observe(time.Since(start).Seconds())
	return reply, followUp
}

// Dispatch executes a parsed command. result labels the outcome for metrics.
func (r *Router) Dispatch(cmd Command) (reply string, followUp func(), result string) {
	switch cmd.Name {
	case CmdGet:
		if v, ok := r.store.Get(cmd.Key); ok {
			return v, nil, "ok"
		}
		return ReplyNull, nil, "miss"

	case CmdPut, CmdDelete:
		if perr := r.fence(cmd.Key); perr != nil {
			telemetry.FencedWritesTotal.With(perr.Kind.String()).Inc()
			log.Debug().
				Str("command", string(cmd.Name)).
				Str("key", cmd.Key).
				Str("reason", perr.Message).
				Msg("Write rejected")
			return perr.Reply(), nil, "fenced"
		}

		release := r.write(cmd)
		return ReplyOK, func() { close(release) }, "ok"

	case CmdReplicatePut, CmdReplicateDelete:
		r.apply(cmd)
		if r.changes == nil {
			return ReplyReplicated, nil, "ok"
		}
		return ReplyReplicated, func() { r.changes.Record(cmd) }, "ok"

	default:
		return ErrUnknownCommand().Reply(), nil, "error"
	}
}

// fence checks that this process leads the block owning key
func (r *Router) fence(key string) *Error {
	owner, ok := r.ring.OwnerOf(key)
	if !ok {
		return ErrNoOwner(key)
	}

	leader, err := r.leaders.CurrentLeader(owner)
	if err != nil && !errors.Is(err, cluster.ErrNoLeader) {
		log.Warn().Err(err).Str("block", owner).Str("key", key).Msg("Leader lookup failed")
		return ErrLeaderLookup(key)
	}
	if err != nil || leader != r.self.Address {
		return ErrNotLeader(r.self.Address, r.self.Identity, key)
	}
	return nil
}

func (r *Router) apply(cmd Command) {
	switch cmd.Name {
	case CmdPut, CmdReplicatePut:
		r.store.Put(cmd.Key, cmd.Value)
	case CmdDelete, CmdReplicateDelete:
		r.store.Delete(cmd.Key)
	}
}

// write applies an accepted client write and queues its replication under
// the key lock, so replicas see writes to one key in the order they were
// applied here. The returned channel releases delivery.
func (r *Router) write(cmd Command) chan struct{} {
	release := make(chan struct{})

	var targets []string
	if r.replicator != nil {
		targets = r.replicator.Targets()
	}

	unlock := r.locks.lock(cmd.Key)
	defer unlock()

	r.apply(cmd)
	if len(targets) > 0 {
		r.replicator.Enqueue(targets, cmd.Replicated(), release)
	}
	if r.changes != nil {
		r.changes.Record(cmd)
	}
	return release
}

func errorReply(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Reply()
	}
	return ErrorPrefix + err.Error()
}
