package coord

import (
	"path"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryService is an in-process coordination namespace shared by any number
// of sessions. It implements the semantics the cluster depends on (ephemeral
// nodes bound to sessions, atomic create, one-shot watches) and backs tests
// and the single process "memory" backend.
type MemoryService struct {
	mu            sync.Mutex
	nodes         map[string]*memNode
	existWatches  map[string][]memWatch
	childWatches  map[string][]memWatch
	nextSessionID atomic.Int64
}

type memWatch struct {
	ch      chan Event
	session int64
}

type memNode struct {
	data  []byte
	owner int64 // Session ID for ephemeral nodes, 0 for persistent
}

// NewMemoryService creates an empty namespace containing only "/"
func NewMemoryService() *MemoryService {
	return &MemoryService{
		nodes:        map[string]*memNode{"/": {}},
		existWatches: make(map[string][]memWatch),
		childWatches: make(map[string][]memWatch),
	}
}

// Connect opens a new session
func (s *MemoryService) Connect() *MemoryClient {
	return &MemoryClient{
		svc: s,
		id:  s.nextSessionID.Add(1),
	}
}

// Expire ends the session of c as if it had timed out
func (s *MemoryService) Expire(c *MemoryClient) {
	c.Close()
}

// fire delivers ev to every watch in the list and clears it.
// Caller holds s.mu.
func fire(watches map[string][]memWatch, p string, ev Event) {
	for _, w := range watches[p] {
		w.ch <- ev
		close(w.ch)
	}
	delete(watches, p)
}

// dropSession releases every watch armed by session with EventNotWatching.
// Caller holds s.mu.
func dropSession(watches map[string][]memWatch, session int64) {
	for p, list := range watches {
		kept := list[:0]
		for _, w := range list {
			if w.session == session {
				w.ch <- Event{Type: EventNotWatching, Path: p, Err: ErrClosed}
				close(w.ch)
				continue
			}
			kept = append(kept, w)
		}
		if len(kept) == 0 {
			delete(watches, p)
		} else {
			watches[p] = kept
		}
	}
}

func (s *MemoryService) create(p string, data []byte, owner int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[p]; ok {
		return ErrNodeExists
	}
	parent := parentOf(p)
	if _, ok := s.nodes[parent]; !ok {
		return ErrNoNode
	}

	s.nodes[p] = &memNode{data: append([]byte(nil), data...), owner: owner}
	fire(s.existWatches, p, Event{Type: EventNodeCreated, Path: p})
	fire(s.childWatches, parent, Event{Type: EventNodeChildrenChanged, Path: parent})
	return nil
}

func (s *MemoryService) deleteLocked(p string) error {
	if _, ok := s.nodes[p]; !ok {
		return ErrNoNode
	}
	for other := range s.nodes {
		if other != p && parentOf(other) == p {
			return ErrNodeExists // Not empty
		}
	}

	delete(s.nodes, p)
	parent := parentOf(p)
	fire(s.existWatches, p, Event{Type: EventNodeDeleted, Path: p})
	fire(s.childWatches, p, Event{Type: EventNodeDeleted, Path: p})
	fire(s.childWatches, parent, Event{Type: EventNodeChildrenChanged, Path: parent})
	return nil
}

// MemoryClient is one session against a MemoryService
type MemoryClient struct {
	svc    *MemoryService
	id     int64
	closed atomic.Bool
}

var _ Client = (*MemoryClient)(nil)

// SessionID returns the session identifier
func (c *MemoryClient) SessionID() int64 {
	return c.id
}

func (c *MemoryClient) EnsurePath(p string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	for _, seg := range segments(p) {
		if err := c.svc.create(seg, nil, 0); err != nil && err != ErrNodeExists {
			return err
		}
	}
	return nil
}

func (c *MemoryClient) CreateEphemeral(p string, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.svc.create(p, data, c.id)
}

func (c *MemoryClient) Get(p string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	n, ok := c.svc.nodes[p]
	if !ok {
		return nil, ErrNoNode
	}
	return append([]byte(nil), n.data...), nil
}

func (c *MemoryClient) Set(p string, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	n, ok := c.svc.nodes[p]
	if !ok {
		return ErrNoNode
	}
	n.data = append([]byte(nil), data...)
	fire(c.svc.existWatches, p, Event{Type: EventNodeDataChanged, Path: p})
	return nil
}

func (c *MemoryClient) Exists(p string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	_, ok := c.svc.nodes[p]
	return ok, nil
}

func (c *MemoryClient) ExistsW(p string) (bool, <-chan Event, error) {
	if c.closed.Load() {
		return false, nil, ErrClosed
	}
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	ch := make(chan Event, 1)
	c.svc.existWatches[p] = append(c.svc.existWatches[p], memWatch{ch: ch, session: c.id})
	_, ok := c.svc.nodes[p]
	return ok, ch, nil
}

func (c *MemoryClient) childrenLocked(p string) ([]string, error) {
	if _, ok := c.svc.nodes[p]; !ok {
		return nil, ErrNoNode
	}
	children := make([]string, 0)
	for other := range c.svc.nodes {
		if other != p && other != "/" && parentOf(other) == p {
			children = append(children, path.Base(other))
		}
	}
	sort.Strings(children)
	return children, nil
}

func (c *MemoryClient) Children(p string) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	return c.childrenLocked(p)
}

func (c *MemoryClient) ChildrenW(p string) ([]string, <-chan Event, error) {
	if c.closed.Load() {
		return nil, nil, ErrClosed
	}
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	children, err := c.childrenLocked(p)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Event, 1)
	c.svc.childWatches[p] = append(c.svc.childWatches[p], memWatch{ch: ch, session: c.id})
	return children, ch, nil
}

func (c *MemoryClient) Delete(p string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	return c.svc.deleteLocked(p)
}

// Close ends the session: its ephemeral nodes are removed and the watches
// they trigger fire for every other session.
func (c *MemoryClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	dropSession(c.svc.existWatches, c.id)
	dropSession(c.svc.childWatches, c.id)

	owned := make([]string, 0)
	for p, n := range c.svc.nodes {
		if n.owner == c.id {
			owned = append(owned, p)
		}
	}
	// Deepest first so parents are empty when removed
	sort.Sort(sort.Reverse(sort.StringSlice(owned)))
	for _, p := range owned {
		_ = c.svc.deleteLocked(p)
	}
	return nil
}
