// Package node assembles one ringkv process: coordination session, leader
// election, hash ring, store, replication, change feed and the command port.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/maxpert/ringkv/admin"
	"github.com/maxpert/ringkv/cfg"
	"github.com/maxpert/ringkv/cluster"
	"github.com/maxpert/ringkv/coord"
	"github.com/maxpert/ringkv/protocol"
	"github.com/maxpert/ringkv/publisher"
	"github.com/maxpert/ringkv/replica"
	"github.com/maxpert/ringkv/ring"
	"github.com/maxpert/ringkv/store"
	"github.com/maxpert/ringkv/telemetry"
	"github.com/rs/zerolog/log"

	// Sinks and transformers register themselves with the publisher
	_ "github.com/maxpert/ringkv/publisher/sink"
	_ "github.com/maxpert/ringkv/publisher/transformer"
)

// Options configures a Node
type Options struct {
	Config *cfg.Configuration

	// Coord overrides the configured coordination backend. The node owns it
	// and closes it on Stop.
	Coord coord.Client

	// Listener is used instead of binding Server.BindAddress:Port
	Listener net.Listener

	// AdminListener is used instead of binding Server.BindAddress:Admin.Port
	AdminListener net.Listener
}

// Node is a running process
type Node struct {
	config *cfg.Configuration
	opts   Options

	listener net.Listener
	address  string
	client   coord.Client
	manager  *cluster.Manager
	ring     *ring.Ring
	store    *store.Store
	engine   *replica.Engine
	feed     *publisher.Registry
	server   *protocol.Server
	admin    *admin.Server

	adminListener net.Listener

	cancel   context.CancelFunc
	started  bool
	stopOnce sync.Once
}

// New creates a node; nothing is started until Start
func New(opts Options) (*Node, error) {
	if opts.Config == nil {
		return nil, errors.New("node: configuration is required")
	}
	if opts.Config.NodeID == "" {
		return nil, errors.New("node: node_id is required")
	}
	return &Node{
		config: opts.Config,
		opts:   opts,
		store:  store.New(),
	}, nil
}

// Start brings the node up. On error everything started so far is torn
// down again.
func (n *Node) Start(ctx context.Context) (err error) {
	if n.started {
		return errors.New("node: already started")
	}
	n.started = true

	defer func() {
		if err != nil {
			n.Stop()
		}
	}()

	if err = n.bind(); err != nil {
		return err
	}
	if n.client, err = n.connect(ctx); err != nil {
		return err
	}

	identity := n.config.NodeID
	n.manager = cluster.NewManager(cluster.Options{
		Client: n.client,
		Paths: cluster.Paths{
			Nodes:   n.config.Coordination.NodesPath,
			Leaders: n.config.Coordination.LeadersPath,
		},
		Identity:   identity,
		Address:    n.address,
		WatchRetry: ms(n.config.Coordination.WatchRetryMS),
	})
	if err = n.manager.Initialize(); err != nil {
		return err
	}

	won, err := n.manager.TryBecomeLeader(identity, n.address)
	if err != nil {
		return err
	}
	if won {
		if err = n.manager.RegisterAsLeader(identity, n.config.Replication.Replicas); err != nil {
			return err
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	n.ring = ring.New(n.manager)
	if rerr := n.ring.Rebuild(); rerr != nil {
		log.Warn().Err(rerr).Msg("Initial ring build failed, waiting for leader set watch")
	}
	if err = n.manager.WatchLeaders(watchCtx, func(identities []string) {
		n.ring.Build(identities)
	}); err != nil {
		return err
	}
	if err = n.manager.WatchLeadership(watchCtx, identity, n.onLeaderGone); err != nil {
		return err
	}

	rc := n.config.Replication
	n.engine = replica.NewEngine(replica.Config{
		Identity:    identity,
		Self:        n.address,
		MaxAttempts: rc.MaxAttempts,
		Backoff:     ms(rc.BackoffMS),
		DialTimeout: ms(rc.DialTimeoutMS),
		IOTimeout:   ms(rc.IOTimeoutMS),
		QueueSize:   rc.QueueSize,
	}, n.manager)

	routerConfig := protocol.RouterConfig{
		Store:      n.store,
		Ring:       n.ring,
		Leaders:    n.manager,
		Replicator: n.engine,
		Self:       protocol.Self{Identity: identity, Address: n.address},
	}

	if n.config.Publisher.Enabled {
		n.feed, err = publisher.NewRegistry(publisher.RegistryConfig{
			DataDir:     n.config.Publisher.DataDir,
			Identity:    identity,
			SinkConfigs: n.config.Publisher.Sinks,
		})
		if err != nil {
			return fmt.Errorf("failed to create change feed: %w", err)
		}
		if err = n.feed.Start(); err != nil {
			return fmt.Errorf("failed to start change feed: %w", err)
		}
		routerConfig.Changes = n.feed
	}

	if h := n.httpHandler(); h != nil {
		if err = n.serveAdmin(h); err != nil {
			return err
		}
	}

	n.server = protocol.NewServer(protocol.NewRouter(routerConfig))
	if err = n.server.Serve(n.listener); err != nil {
		return err
	}

	log.Info().
		Str("block", identity).
		Str("address", n.address).
		Bool("leader", won).
		Msg("Node started")
	return nil
}

// bind opens the command port and settles the advertised address
func (n *Node) bind() error {
	n.listener = n.opts.Listener
	if n.listener == nil {
		address := net.JoinHostPort(n.config.Server.BindAddress, strconv.Itoa(n.config.Server.Port))
		l, err := net.Listen("tcp", address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", address, err)
		}
		n.listener = l
	}

	n.address = n.config.Server.AdvertiseAddress
	if n.address == "" {
		n.address = n.listener.Addr().String()
	}
	return nil
}

// serveAdmin starts the admin and metrics port
func (n *Node) serveAdmin(h http.Handler) error {
	n.adminListener = n.opts.AdminListener
	if n.adminListener == nil {
		address := net.JoinHostPort(n.config.Server.BindAddress, strconv.Itoa(n.config.Admin.Port))
		l, err := net.Listen("tcp", address)
		if err != nil {
			return fmt.Errorf("failed to listen on admin address %s: %w", address, err)
		}
		n.adminListener = l
	}

	n.admin = admin.NewServer(h, n.address)
	return n.admin.Serve(n.adminListener)
}

func (n *Node) connect(ctx context.Context) (coord.Client, error) {
	if n.opts.Coord != nil {
		return n.opts.Coord, nil
	}

	cc := n.config.Coordination
	switch cc.Backend {
	case cfg.CoordinationMemory:
		log.Warn().Msg("Using in-process coordination, other processes cannot join")
		return coord.NewMemoryService().Connect(), nil
	case cfg.CoordinationZooKeeper:
		dialCtx, cancel := context.WithTimeout(ctx, ms(cc.ConnectTimeoutMS))
		defer cancel()
		client, err := coord.Dial(dialCtx, cc.Servers, ms(cc.SessionTimeoutMS))
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown coordination backend %q", cc.Backend)
	}
}

func (n *Node) httpHandler() http.Handler {
	metrics := telemetry.GetMetricsHandler()

	var handlers *admin.Handlers
	if n.config.Admin.Enabled {
		handlers = &admin.Handlers{
			Self:        n.config.NodeID,
			Address:     n.address,
			Cluster:     n.manager,
			Ring:        n.ring,
			Store:       n.store,
			Replication: n.engine,
		}
		if n.feed != nil {
			handlers.Feed = n.feed
		}
	}

	if handlers == nil && metrics == nil {
		return nil
	}
	return admin.NewRouter(handlers, n.config.Admin.Secret, metrics)
}

// onLeaderGone runs when the leadership record of this node's block
// disappears: try to take over and publish membership on success
func (n *Node) onLeaderGone() {
	identity := n.config.NodeID
	log.Info().Str("block", identity).Msg("Leader gone, attempting takeover")

	won, err := n.manager.TryBecomeLeader(identity, n.address)
	if err != nil {
		log.Error().Err(err).Str("block", identity).Msg("Leader election failed")
		return
	}
	if !won {
		return
	}
	if err := n.manager.RegisterAsLeader(identity, n.config.Replication.Replicas); err != nil {
		log.Error().Err(err).Str("block", identity).Msg("Failed to register membership after takeover")
	}
}

// Stop shuts the node down. Closing the coordination session removes its
// leadership record, so a replica of the block can take over.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		if n.server != nil {
			n.server.Stop()
		} else if n.listener != nil {
			n.listener.Close()
		}
		if n.admin != nil {
			n.admin.Stop()
		} else if n.adminListener != nil {
			n.adminListener.Close()
		} else if n.opts.AdminListener != nil {
			n.opts.AdminListener.Close()
		}
		if n.engine != nil {
			n.engine.Close()
		}
		if n.feed != nil {
			n.feed.Stop()
		}
		if n.client != nil {
			if err := n.client.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close coordination session")
			}
		}
		telemetry.IsLeader.Set(0)
		log.Info().Str("block", n.config.NodeID).Msg("Node stopped")
	})
}

// Address returns the advertised address
func (n *Node) Address() string {
	return n.address
}

// AdminAddress returns the admin and metrics address, empty when neither
// is served
func (n *Node) AdminAddress() string {
	if n.admin == nil {
		return ""
	}
	return n.admin.Addr().String()
}

// Identity returns the block identity
func (n *Node) Identity() string {
	return n.config.NodeID
}

// Store returns the local store
func (n *Node) Store() *store.Store {
	return n.store
}

// Ring returns the hash ring
func (n *Node) Ring() *ring.Ring {
	return n.ring
}

// Cluster returns the membership manager
func (n *Node) Cluster() *cluster.Manager {
	return n.manager
}

// Feed returns the change feed, nil when disabled
func (n *Node) Feed() *publisher.Registry {
	return n.feed
}

// IsLeader reports whether this node currently leads its block
func (n *Node) IsLeader() (bool, error) {
	return n.manager.IsLeader(n.config.NodeID)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
