package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/maxpert/ringkv/cluster"
	"github.com/maxpert/ringkv/protocol"
	"github.com/maxpert/ringkv/ring"
)

// Topology routes keys to the leader of their block, mirroring the ring the
// nodes build from the same leader set.
type Topology struct {
	ring    *ring.Snapshot
	members map[string]cluster.Member
}

// NewTopology builds a topology from a membership listing
func NewTopology(members []cluster.Member) *Topology {
	identities := make([]string, 0, len(members))
	byIdentity := make(map[string]cluster.Member, len(members))
	for _, m := range members {
		if m.Leader == "" {
			continue
		}
		identities = append(identities, m.Identity)
		byIdentity[m.Identity] = m
	}
	return &Topology{ring: ring.NewSnapshot(identities), members: byIdentity}
}

// LeaderFor returns the address accepting writes for key
func (t *Topology) LeaderFor(key string) (string, error) {
	owner, ok := t.ring.OwnerOf(key)
	if !ok {
		return "", fmt.Errorf("no leaders known")
	}
	return t.members[owner].Leader, nil
}

// CopiesOf returns the leader followed by the replicas of key's block
func (t *Topology) CopiesOf(key string) []string {
	owner, ok := t.ring.OwnerOf(key)
	if !ok {
		return nil
	}
	m := t.members[owner]
	return append([]string{m.Leader}, m.Replicas...)
}

// Blocks returns the number of blocks with a leader
func (t *Topology) Blocks() int {
	return len(t.members)
}

// Discover reads /admin/cluster/members from the first seed host that answers
func Discover(ctx context.Context, hosts []string, secret string, timeout time.Duration) (*Topology, error) {
	client := &http.Client{Timeout: timeout}

	var lastErr error
	for _, host := range hosts {
		members, err := fetchMembers(ctx, client, host, secret)
		if err != nil {
			lastErr = err
			continue
		}
		return NewTopology(members), nil
	}
	return nil, fmt.Errorf("topology discovery failed: %w", lastErr)
}

func fetchMembers(ctx context.Context, client *http.Client, host, secret string) ([]cluster.Member, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+"/admin/cluster/members", nil)
	if err != nil {
		return nil, err
	}
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", host, err)
	}
	defer resp.Body.Close()

	var body struct {
		Data  []cluster.Member `json:"data"`
		Error string           `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s: invalid response: %w", host, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", host, body.Error)
	}
	return body.Data, nil
}

// Pool keeps idle line protocol connections per address
type Pool struct {
	timeout time.Duration
	maxIdle int

	mu   sync.Mutex
	idle map[string][]*protocol.Client
}

// NewPool creates a pool keeping up to maxIdle connections per address
func NewPool(timeout time.Duration, maxIdle int) *Pool {
	return &Pool{
		timeout: timeout,
		maxIdle: maxIdle,
		idle:    make(map[string][]*protocol.Client),
	}
}

// Do sends cmd to addr and returns the reply line. Connections that fail
// are discarded.
func (p *Pool) Do(ctx context.Context, addr string, cmd protocol.Command) (string, error) {
	c, err := p.acquire(ctx, addr)
	if err != nil {
		return "", err
	}

	reply, err := c.Send(cmd)
	if err != nil {
		c.Close()
		return "", err
	}
	p.release(addr, c)
	return reply, nil
}

func (p *Pool) acquire(ctx context.Context, addr string) (*protocol.Client, error) {
	p.mu.Lock()
	if conns := p.idle[addr]; len(conns) > 0 {
		c := conns[len(conns)-1]
		p.idle[addr] = conns[:len(conns)-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	return protocol.Dial(ctx, addr, p.timeout)
}

func (p *Pool) release(addr string, c *protocol.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle[addr]) >= p.maxIdle {
		c.Close()
		return
	}
	p.idle[addr] = append(p.idle[addr], c)
}

// Close closes all idle connections
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, conns := range p.idle {
		for _, c := range conns {
			c.Close()
		}
		delete(p.idle, addr)
	}
}
