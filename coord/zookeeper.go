package coord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"
)

// ZKClient is a Client backed by a ZooKeeper session.
// The underlying library reconnects transparently; a session expiry drops
// every ephemeral node and delivers EventNotWatching on pending watches.
type ZKClient struct {
	conn *zk.Conn
	acl  []zk.ACL
	done chan struct{}
}

// zkLogger routes the zk library's logging through zerolog
type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	log.Debug().Str("component", "zk").Msgf(format, args...)
}

// Dial connects to ZooKeeper and blocks until a session is established or
// ctx is done. The caller decides whether a timeout is fatal.
func Dial(ctx context.Context, servers []string, sessionTimeout time.Duration) (*ZKClient, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, ErrClosed
			}
			log.Debug().Str("state", ev.State.String()).Msg("ZooKeeper session event")
			if ev.State == zk.StateHasSession {
				c := &ZKClient{
					conn: conn,
					acl:  zk.WorldACL(zk.PermAll),
					done: make(chan struct{}),
				}
				go c.drainSessionEvents(events)
				log.Info().
					Strs("servers", servers).
					Int64("session_id", conn.SessionID()).
					Msg("ZooKeeper session established")
				return c, nil
			}
		case <-ctx.Done():
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrSessionTimeout, ctx.Err())
		}
	}
}

// drainSessionEvents keeps the session channel empty and logs transitions
func (c *ZKClient) drainSessionEvents(events <-chan zk.Event) {
	defer close(c.done)
	for ev := range events {
		if ev.Type != zk.EventSession {
			continue
		}
		switch ev.State {
		case zk.StateHasSession:
			log.Info().Int64("session_id", c.conn.SessionID()).Msg("ZooKeeper session (re)established")
		case zk.StateExpired:
			log.Warn().Msg("ZooKeeper session expired, ephemeral records are gone")
		case zk.StateDisconnected:
			log.Warn().Msg("ZooKeeper disconnected, reconnecting")
		}
	}
}

func mapZKErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNodeExists):
		return ErrNodeExists
	case errors.Is(err, zk.ErrNoNode):
		return ErrNoNode
	case errors.Is(err, zk.ErrClosing), errors.Is(err, zk.ErrConnectionClosed):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	default:
		return err
	}
}

func mapZKEvents(in <-chan zk.Event) <-chan Event {
	out := make(chan Event, 1)
	go func() {
		defer close(out)
		ev, ok := <-in
		if !ok {
			out <- Event{Type: EventNotWatching, Err: ErrClosed}
			return
		}
		e := Event{Path: ev.Path, Err: ev.Err}
		switch ev.Type {
		case zk.EventNodeCreated:
			e.Type = EventNodeCreated
		case zk.EventNodeDeleted:
			e.Type = EventNodeDeleted
		case zk.EventNodeDataChanged:
			e.Type = EventNodeDataChanged
		case zk.EventNodeChildrenChanged:
			e.Type = EventNodeChildrenChanged
		default:
			e.Type = EventNotWatching
		}
		out <- e
	}()
	return out
}

func (c *ZKClient) EnsurePath(p string) error {
	for _, seg := range segments(p) {
		_, err := c.conn.Create(seg, nil, 0, c.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create %s: %w", seg, mapZKErr(err))
		}
	}
	return nil
}

func (c *ZKClient) CreateEphemeral(p string, data []byte) error {
	_, err := c.conn.Create(p, data, zk.FlagEphemeral, c.acl)
	return mapZKErr(err)
}

func (c *ZKClient) Get(p string) ([]byte, error) {
	data, _, err := c.conn.Get(p)
	return data, mapZKErr(err)
}

func (c *ZKClient) Set(p string, data []byte) error {
	_, err := c.conn.Set(p, data, -1)
	return mapZKErr(err)
}

func (c *ZKClient) Exists(p string) (bool, error) {
	ok, _, err := c.conn.Exists(p)
	return ok, mapZKErr(err)
}

func (c *ZKClient) ExistsW(p string) (bool, <-chan Event, error) {
	ok, _, ch, err := c.conn.ExistsW(p)
	if err != nil {
		return false, nil, mapZKErr(err)
	}
	return ok, mapZKEvents(ch), nil
}

func (c *ZKClient) Children(p string) ([]string, error) {
	children, _, err := c.conn.Children(p)
	if err != nil {
		return nil, mapZKErr(err)
	}
	sort.Strings(children)
	return children, nil
}

func (c *ZKClient) ChildrenW(p string) ([]string, <-chan Event, error) {
	children, _, ch, err := c.conn.ChildrenW(p)
	if err != nil {
		return nil, nil, mapZKErr(err)
	}
	sort.Strings(children)
	return children, mapZKEvents(ch), nil
}

func (c *ZKClient) Delete(p string) error {
	return mapZKErr(c.conn.Delete(p, -1))
}

// Close ends the session and waits briefly for the event drain to finish
func (c *ZKClient) Close() error {
	c.conn.Close()
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	return nil
}
