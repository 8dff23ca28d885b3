// Package coord is the access layer to the coordination service.
//
// The cluster relies on four primitives of a ZooKeeper-like namespace:
// ephemeral nodes tied to the creating session, atomic create-if-absent,
// data get/set and one-shot watches. Client captures exactly those so the
// production ZooKeeper session and the in-process MemoryService are
// interchangeable.
package coord

import (
	"errors"
	"path"
	"strings"
)

var (
	// ErrNodeExists is returned by CreateEphemeral when the path is taken
	ErrNodeExists = errors.New("coord: node already exists")
	// ErrNoNode is returned when the addressed node (or its parent) is absent
	ErrNoNode = errors.New("coord: node does not exist")
	// ErrClosed is returned after the session was closed
	ErrClosed = errors.New("coord: session closed")
	// ErrSessionTimeout is returned when no session could be established in time
	ErrSessionTimeout = errors.New("coord: timed out waiting for session")
)

// EventType identifies what a watch observed
type EventType int

const (
	EventNodeCreated EventType = iota + 1
	EventNodeDeleted
	EventNodeDataChanged
	EventNodeChildrenChanged
	// EventNotWatching means the watch was dropped (session lost or closed)
	// without observing a change. It must be re-armed.
	EventNotWatching
)

func (t EventType) String() string {
	switch t {
	case EventNodeCreated:
		return "created"
	case EventNodeDeleted:
		return "deleted"
	case EventNodeDataChanged:
		return "data_changed"
	case EventNodeChildrenChanged:
		return "children_changed"
	case EventNotWatching:
		return "not_watching"
	default:
		return "unknown"
	}
}

// Event is delivered once on a watch channel
type Event struct {
	Type EventType
	Path string
	Err  error
}

// Client is a session with the coordination service.
// Watch channels are one-shot: each receives at most one event and must be
// re-armed by calling ExistsW / ChildrenW again.
type Client interface {
	// EnsurePath creates every missing segment of path as a persistent node
	EnsurePath(p string) error
	// CreateEphemeral atomically creates p with data, tied to this session
	CreateEphemeral(p string, data []byte) error
	Get(p string) ([]byte, error)
	Set(p string, data []byte) error
	Exists(p string) (bool, error)
	ExistsW(p string) (bool, <-chan Event, error)
	// Children returns the sorted child names of p
	Children(p string) ([]string, error)
	ChildrenW(p string) ([]string, <-chan Event, error)
	Delete(p string) error
	// Close ends the session; every ephemeral node it created disappears
	Close() error
}

// Join builds a namespace path from a base and a child name
func Join(base, child string) string {
	return path.Join(base, child)
}

// parentOf returns the parent path of p ("/" for top level nodes)
func parentOf(p string) string {
	return path.Dir(p)
}

// segments returns the cumulative prefixes of p: /a/b -> [/a /a/b]
func segments(p string) []string {
	p = path.Clean(p)
	if p == "/" || p == "." {
		return nil
	}

	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	out := make([]string, 0, len(parts))
	cur := ""
	for _, part := range parts {
		cur += "/" + part
		out = append(out, cur)
	}
	return out
}
