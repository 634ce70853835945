package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/1ureka/tinywatch/internal/protocol"
	"github.com/1ureka/tinywatch/internal/transport"
	"github.com/1ureka/tinywatch/internal/util"
)

// DefaultConnectTimeout bounds a single Connect attempt.
const DefaultConnectTimeout = 10 * time.Second

var clientLog = util.Scoped("signaling/client")

// Client is the receiver-side signaling endpoint. It holds at most one
// outbound connection; Connect replaces any previous one.
type Client struct {
	handlers

	port    int
	timeout time.Duration

	connectMu sync.Mutex // serializes Connect

	mu     sync.Mutex
	conn   *transport.Conn
	closed bool
}

// NewClient creates a client that dials port on the target host, giving up
// after timeout.
func NewClient(port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Client{port: port, timeout: timeout}
}

// Connect validates host, closes any previous connection and dials the
// signaling port. An invalid host returns ErrInvalidHost without emitting a
// status. Dial failures emit StatusError and are returned.
func (c *Client) Connect(ctx context.Context, host string) error {
	if !util.ValidIPv4(host) {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.conn
	c.conn = nil
	c.mu.Unlock()

	if prev != nil {
		clientLog.Debugf("closing previous connection (conn=%08x)", prev.Tag())
		prev.Close()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(c.port))
	clientLog.Infof("connecting to %s", addr)

	dialer := net.Dialer{Timeout: c.timeout}
	raw, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		err = fmt.Errorf("failed to connect to %s: %w", addr, err)
		clientLog.Errorf("%v", err)
		c.emit(StatusError, err)
		return err
	}

	conn := transport.NewConn(raw)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	clientLog.Infof("connected to %s (conn=%08x)", addr, conn.Tag())
	c.emit(StatusConnected, nil)

	go c.serve(conn)

	return nil
}

// serve reads from conn until it ends. Only the current connection reports
// its end; a replaced or locally closed one goes quietly.
func (c *Client) serve(conn *transport.Conn) {
	err := conn.Run(c.dispatch)

	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()

	if !current {
		return
	}

	if err == nil || errors.Is(err, io.EOF) {
		clientLog.Infof("server closed the connection (conn=%08x)", conn.Tag())
		c.emit(StatusDisconnected, err)
		return
	}

	clientLog.Errorf("connection lost (conn=%08x): %v", conn.Tag(), err)
	c.emit(StatusError, err)
}

// Send writes msg to the server. Without a connection it is a logged no-op.
func (c *Client) Send(msg protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		clientLog.Debugf("not connected, dropping %s", msg.Type)
		return nil
	}
	return conn.Send(msg)
}

// Close closes the current connection and clears the callbacks. A second
// call is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.clear()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
