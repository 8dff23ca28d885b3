package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrReply wraps an "ERROR: ..." reply returned as a Go error
var ErrReply = errors.New("error reply")

// Client is a line protocol connection. It is safe for concurrent use; calls
// are serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to addr. timeout bounds the dial and every later round trip;
// zero disables the per-call deadline.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

// SetTimeout changes the per-call deadline used by later round trips
func (c *Client) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Do sends one request line and returns the reply line
func (c *Client) Do(line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return "", err
		}
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	reply, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return strings.TrimRight(reply, "\r\n"), nil
}

// Send issues cmd and returns the reply line
func (c *Client) Send(cmd Command) (string, error) {
	return c.Do(cmd.String())
}

// Put stores value under key; an error reply becomes an error wrapping ErrReply
func (c *Client) Put(key, value string) error {
	return expectOK(c.Send(PutCommand(key, value)))
}

// Get returns the value of key, or false on NULL
func (c *Client) Get(key string) (string, bool, error) {
	reply, err := c.Send(GetCommand(key))
	if err != nil {
		return "", false, err
	}
	if reply == ReplyNull {
		return "", false, nil
	}
	return reply, true, nil
}

// Delete removes key
func (c *Client) Delete(key string) error {
	return expectOK(c.Send(DeleteCommand(key)))
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func expectOK(reply string, err error) error {
	if err != nil {
		return err
	}
	if reply != ReplyOK {
		return fmt.Errorf("%w: %s", ErrReply, strings.TrimPrefix(reply, ErrorPrefix))
	}
	return nil
}
