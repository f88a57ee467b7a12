package xenstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
)

// Default endpoints.
const (
	DefaultSocketPath = "/var/run/xenstored/socket"
	DefaultDevicePath = "/dev/xen/xenbus"
)

// WatchEvent is delivered when a watched path (or anything below it)
// changes. Token is the caller-chosen token given to Watch.
type WatchEvent struct {
	Path  string
	Token string
}

// Client is a connection to xenstored.
type Client struct {
	conn    io.ReadWriteCloser
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint32]chan message
	err     error

	nextID  atomic.Uint32
	closing atomic.Bool

	events   *queue.Queue
	eventCh  chan WatchEvent
	stopped  chan struct{}
	failOnce sync.Once
}

// NewClient wraps an established connection and starts its reader.
func NewClient(conn io.ReadWriteCloser) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[uint32]chan message),
		events:  queue.New(16),
		eventCh: make(chan WatchEvent),
		stopped: make(chan struct{}),
	}
	go c.readLoop()
	go c.pumpEvents()
	return c
}

// Dial connects to xenstored at path. Character devices such as
// /dev/xen/xenbus are opened directly; anything else is treated as a
// unix socket.
func Dial(ctx context.Context, path string) (*Client, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("xenstore: %w", err)
	}
	if fi.Mode()&os.ModeCharDevice != 0 {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("xenstore: open %s: %w", path, err)
		}
		return NewClient(f), nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("xenstore: dial %s: %w", path, err)
	}
	return NewClient(conn), nil
}

// DialRetry is Dial with exponential backoff, for callers that start
// before xenstored is ready.
func DialRetry(ctx context.Context, path string, attempts uint64) (*Client, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	var client *Client
	err := backoff.Retry(func() error {
		c, err := Dial(ctx, path)
		if err != nil {
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, attempts), ctx))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// List returns the names of the children of path.
func (c *Client) List(ctx context.Context, path string) ([]string, error) {
	payload, err := c.request(ctx, typeDirectory, path, nulJoin(path))
	if err != nil {
		return nil, err
	}
	return splitNul(payload), nil
}

// Read returns the value stored at path.
func (c *Client) Read(ctx context.Context, path string) (string, error) {
	payload, err := c.request(ctx, typeRead, path, nulJoin(path))
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Write stores value at path, creating missing parents.
func (c *Client) Write(ctx context.Context, path, value string) error {
	payload := append(nulJoin(path), value...)
	_, err := c.request(ctx, typeWrite, path, payload)
	return err
}

// Exists reports whether path is present.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	_, err := c.Read(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mkdir creates path with an empty value. It succeeds if path exists.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	_, err := c.request(ctx, typeMkdir, path, nulJoin(path))
	return err
}

// SetPermissions replaces the permission list of path.
func (c *Client) SetPermissions(ctx context.Context, path string, perms []Permission) error {
	args := make([]string, 0, len(perms)+1)
	args = append(args, path)
	for _, p := range perms {
		args = append(args, p.String())
	}
	_, err := c.request(ctx, typeSetPerms, path, nulJoin(args...))
	return err
}

// GetPermissions returns the permission list of path.
func (c *Client) GetPermissions(ctx context.Context, path string) ([]Permission, error) {
	payload, err := c.request(ctx, typeGetPerms, path, nulJoin(path))
	if err != nil {
		return nil, err
	}
	var perms []Permission
	for _, s := range splitNul(payload) {
		p, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// Watch subscribes to changes at or below path. xenstored delivers one
// event immediately after registration.
func (c *Client) Watch(ctx context.Context, path, token string) error {
	_, err := c.request(ctx, typeWatch, path, nulJoin(path, token))
	return err
}

// Unwatch cancels a subscription made with the same path and token.
func (c *Client) Unwatch(ctx context.Context, path, token string) error {
	_, err := c.request(ctx, typeUnwatch, path, nulJoin(path, token))
	return err
}

// Events returns the watch event stream. The channel is closed when the
// connection closes.
func (c *Client) Events() <-chan WatchEvent {
	return c.eventCh
}

// Close closes the connection. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	c.fail(ErrClosed)
	return err
}

func (c *Client) request(ctx context.Context, typ msgType, path string, payload []byte) ([]byte, error) {
	id := c.nextID.Add(1)
	reply := make(chan message, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = reply
	c.mu.Unlock()

	c.writeMu.Lock()
	err := writeMessage(c.conn, message{Type: typ, ReqID: id, Payload: payload})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("xenstore: send %s %s: %w", typ, path, err)
	}

	select {
	case m, ok := <-reply:
		if !ok {
			return nil, c.terminalErr()
		}
		if m.Type == typeError {
			return nil, replyError(typ, path, m.Payload)
		}
		if m.Type != typ {
			return nil, fmt.Errorf("xenstore: %s %s: unexpected %s reply", typ, path, m.Type)
		}
		return m.Payload, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) terminalErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	for {
		m, err := readMessage(c.conn)
		if err != nil {
			c.fail(err)
			return
		}
		if m.Type == typeWatchEvent {
			parts := splitNul(m.Payload)
			if len(parts) >= 2 {
				_ = c.events.Put(WatchEvent{Path: parts[0], Token: parts[1]})
			}
			continue
		}
		c.mu.Lock()
		reply, ok := c.pending[m.ReqID]
		delete(c.pending, m.ReqID)
		c.mu.Unlock()
		if ok {
			reply <- m
		}
	}
}

// fail records the terminal error, wakes pending requests and stops
// event delivery.
func (c *Client) fail(err error) {
	c.failOnce.Do(func() {
		if c.closing.Load() || errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
			err = ErrClosed
		} else {
			err = fmt.Errorf("%w: %v", ErrClosed, err)
		}
		c.mu.Lock()
		c.err = err
		for id, reply := range c.pending {
			close(reply)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		c.events.Dispose()
		close(c.stopped)
	})
}

func (c *Client) pumpEvents() {
	defer close(c.eventCh)
	for {
		items, err := c.events.Get(1)
		if err != nil {
			return
		}
		for _, item := range items {
			select {
			case c.eventCh <- item.(WatchEvent):
			case <-c.stopped:
				return
			}
		}
	}
}
