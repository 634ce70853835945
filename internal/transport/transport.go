// Package transport carries control messages over a stream connection using
// the newline-delimited framing from internal/protocol.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/1ureka/tinywatch/internal/protocol"
	"github.com/1ureka/tinywatch/internal/util"
)

const readBufferSize = 32 * 1024

// Conn wraps one signaling stream. Reads happen in Run on the caller's
// goroutine; writes go through a single background writer so that frames
// from different goroutines never interleave.
//
// Its lifecycle ends on the first of: a local Close, a remote close, or a
// read error. Done is closed in every case.
type Conn struct {
	raw    net.Conn
	tag    uint32
	log    util.Logger
	sender *sender

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps raw and starts its writer. Call Run to start reading.
func NewConn(raw net.Conn) *Conn {
	tag := util.ConnTag(raw)
	log := util.Scoped(fmt.Sprintf("conn %08x", tag))

	return &Conn{
		raw:    raw,
		tag:    tag,
		log:    log,
		sender: newSender(raw, log),
		done:   make(chan struct{}),
	}
}

// Tag identifies the connection in log lines.
func (c *Conn) Tag() uint32 { return c.tag }

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Done returns a channel that is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Run reads the stream until it ends, invoking onMessage for every decoded
// message in arrival order. It returns io.EOF when the peer closed the
// stream, nil when Close was called locally, or the read error otherwise.
// The connection is closed when Run returns.
func (c *Conn) Run(onMessage func(protocol.Message)) error {
	defer c.Close()

	framer := protocol.NewFramer()
	buf := make([]byte, readBufferSize)

	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			for _, msg := range framer.Feed(buf[:n]) {
				util.Stats.AddFrameIn()
				onMessage(msg)
			}
		}

		if err != nil {
			if c.closed.Load() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
	}
}

// Send encodes msg and queues it for writing. Sending on a closed
// connection is a silent no-op.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	if c.closed.Load() {
		c.log.Debugf("dropping %s, connection closed", msg.Type)
		return nil
	}

	if !c.sender.send(data) {
		c.log.Debugf("dropping %s, connection closed", msg.Type)
	}
	return nil
}

// Close flushes queued frames and closes the stream. Safe to call more than
// once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.sender.stop()
		err = c.raw.Close()
		close(c.done)
	})
	return err
}
