// Package cluster keeps block membership and leadership in the coordination
// service.
//
// Two namespaces are used. /leaders/{identity} holds the address of the
// process leading a block; it is created with an atomic create-if-absent and
// is the only source of truth for leadership. /nodes/{identity} holds the
// block's MembershipRecord and is written only by that leader. Both are
// ephemeral, so they vanish with the session of the process that wrote them.
package cluster

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/maxpert/ringkv/coord"
	"github.com/maxpert/ringkv/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrNoLeader is returned when a block has no leadership record
var ErrNoLeader = errors.New("cluster: no leader")

// Paths locates the two namespaces
type Paths struct {
	Nodes   string
	Leaders string
}

// DefaultPaths returns /nodes and /leaders
func DefaultPaths() Paths {
	return Paths{Nodes: "/nodes", Leaders: "/leaders"}
}

// Options configures a Manager
type Options struct {
	Client   coord.Client
	Paths    Paths
	Identity string // Block this process belongs to
	Address  string // Address this process advertises

	// WatchRetry spaces re-arm attempts after coordination errors and
	// repeated leader-gone callbacks
	WatchRetry time.Duration
}

// Manager is the membership registry and leadership elector of one process
type Manager struct {
	client     coord.Client
	paths      Paths
	identity   string
	address    string
	watchRetry time.Duration
}

// NewManager creates a manager; call Initialize before use
func NewManager(opts Options) *Manager {
	paths := opts.Paths
	if paths.Nodes == "" {
		paths.Nodes = DefaultPaths().Nodes
	}
	if paths.Leaders == "" {
		paths.Leaders = DefaultPaths().Leaders
	}
	retry := opts.WatchRetry
	if retry <= 0 {
		retry = 500 * time.Millisecond
	}

	return &Manager{
		client:     opts.Client,
		paths:      paths,
		identity:   opts.Identity,
		address:    opts.Address,
		watchRetry: retry,
	}
}

// Identity returns the block identity of this process
func (m *Manager) Identity() string {
	return m.identity
}

// Address returns the address this process advertises
func (m *Manager) Address() string {
	return m.address
}

func (m *Manager) leaderPath(identity string) string {
	return coord.Join(m.paths.Leaders, identity)
}

func (m *Manager) nodePath(identity string) string {
	return coord.Join(m.paths.Nodes, identity)
}

// Initialize makes sure both namespaces exist
func (m *Manager) Initialize() error {
	for _, p := range []string{m.paths.Nodes, m.paths.Leaders} {
		if err := m.client.EnsurePath(p); err != nil {
			telemetry.CoordinationErrorsTotal.With("ensure_path").Inc()
			return fmt.Errorf("failed to create namespace %s: %w", p, err)
		}
	}
	return nil
}

// TryBecomeLeader attempts to create the leadership record of identity with
// address as its value. It returns true only if this call created it. An
// existing record is not an error.
func (m *Manager) TryBecomeLeader(identity, address string) (bool, error) {
	err := m.client.CreateEphemeral(m.leaderPath(identity), []byte(address))
	if errors.Is(err, coord.ErrNodeExists) {
		log.Debug().Str("block", identity).Msg("Leadership already held")
		return false, nil
	}
	if err != nil {
		telemetry.CoordinationErrorsTotal.With("elect").Inc()
		return false, fmt.Errorf("leader election for %s: %w", identity, err)
	}

	log.Info().
		Str("block", identity).
		Str("leader", address).
		Msg("Acquired leadership")
	if address == m.address {
		telemetry.LeadershipAcquiredTotal.Inc()
		telemetry.IsLeader.Set(1)
	}
	return true, nil
}

// CurrentLeader reads the leadership record of identity
func (m *Manager) CurrentLeader(identity string) (string, error) {
	data, err := m.client.Get(m.leaderPath(identity))
	if errors.Is(err, coord.ErrNoNode) {
		return "", ErrNoLeader
	}
	if err != nil {
		telemetry.CoordinationErrorsTotal.With("get_leader").Inc()
		return "", fmt.Errorf("leader lookup for %s: %w", identity, err)
	}
	return string(data), nil
}

// IsLeader reports whether this process holds the leadership of identity
func (m *Manager) IsLeader(identity string) (bool, error) {
	leader, err := m.CurrentLeader(identity)
	if errors.Is(err, ErrNoLeader) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return leader == m.address, nil
}

// RegisterAsLeader writes the membership record of identity with this
// process as leader. It does nothing (and returns nil) unless this process is
// the current leader, so a stale process cannot overwrite the record.
func (m *Manager) RegisterAsLeader(identity string, replicas []string) error {
	leader, err := m.IsLeader(identity)
	if err != nil {
		return err
	}
	if !leader {
		log.Info().
			Str("block", identity).
			Str("address", m.address).
			Msg("Not the leader, skipping membership registration")
		return nil
	}

	record := NewMembershipRecord(identity, m.address, replicas)
	p := m.nodePath(identity)
	data := record.Encode()

	err = m.client.CreateEphemeral(p, data)
	if errors.Is(err, coord.ErrNodeExists) {
		err = m.client.Set(p, data)
	}
	if err != nil {
		telemetry.CoordinationErrorsTotal.With("register").Inc()
		return fmt.Errorf("failed to register membership for %s: %w", identity, err)
	}

	log.Info().
		Str("block", identity).
		Str("leader", record.Leader).
		Strs("replicas", record.Replicas).
		Msg("Registered membership")
	return nil
}

// Membership reads the membership record of identity
func (m *Manager) Membership(identity string) (MembershipRecord, error) {
	data, err := m.client.Get(m.nodePath(identity))
	if err != nil {
		return MembershipRecord{}, fmt.Errorf("membership of %s: %w", identity, err)
	}
	return DecodeMembershipRecord(identity, data)
}

// AllMembership reads every membership record. Records that disappear while
// being listed, or that cannot be decoded, are skipped.
func (m *Manager) AllMembership() (map[string]MembershipRecord, error) {
	identities, err := m.client.Children(m.paths.Nodes)
	if err != nil {
		telemetry.CoordinationErrorsTotal.With("list_nodes").Inc()
		return nil, fmt.Errorf("failed to list %s: %w", m.paths.Nodes, err)
	}

	out := make(map[string]MembershipRecord, len(identities))
	for _, identity := range identities {
		record, err := m.Membership(identity)
		if errors.Is(err, coord.ErrNoNode) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("block", identity).Msg("Skipping membership record")
			continue
		}
		out[identity] = record
	}
	return out, nil
}

// LeaderIdentities lists the blocks that currently have a leader, sorted
func (m *Manager) LeaderIdentities() ([]string, error) {
	identities, err := m.client.Children(m.paths.Leaders)
	if err != nil {
		telemetry.CoordinationErrorsTotal.With("list_leaders").Inc()
		return nil, fmt.Errorf("failed to list %s: %w", m.paths.Leaders, err)
	}
	return identities, nil
}

// Member combines the leadership and membership view of one block
type Member struct {
	Identity string   `json:"identity"`
	Leader   string   `json:"leader,omitempty"`
	Replicas []string `json:"replicas"`
	// Registered is false when a leader exists but has not written its
	// membership record yet
	Registered bool `json:"registered"`
}

// Members returns every block that has a leader or a membership record
func (m *Manager) Members() ([]Member, error) {
	leaders, err := m.LeaderIdentities()
	if err != nil {
		return nil, err
	}
	records, err := m.AllMembership()
	if err != nil {
		return nil, err
	}

	byIdentity := make(map[string]*Member)
	for _, identity := range leaders {
		leader, err := m.CurrentLeader(identity)
		if errors.Is(err, ErrNoLeader) {
			continue
		}
		if err != nil {
			return nil, err
		}
		byIdentity[identity] = &Member{Identity: identity, Leader: leader, Replicas: []string{}}
	}
	for identity, record := range records {
		member, ok := byIdentity[identity]
		if !ok {
			member = &Member{Identity: identity, Leader: record.Leader}
			byIdentity[identity] = member
		}
		member.Replicas = record.Replicas
		member.Registered = true
	}

	out := make([]Member, 0, len(byIdentity))
	for _, member := range byIdentity {
		out = append(out, *member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}
