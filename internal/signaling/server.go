package signaling

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/1ureka/tinywatch/internal/protocol"
	"github.com/1ureka/tinywatch/internal/transport"
	"github.com/1ureka/tinywatch/internal/util"
)

var serverLog = util.Scoped("signaling/server")

// Server is the sender-side signaling endpoint. It listens on a fixed port
// and keeps at most one client attached; further inbound connections are
// closed immediately. When the client leaves, the server goes back to
// listening.
type Server struct {
	handlers

	port int

	mu       sync.Mutex
	listener net.Listener
	conn     *transport.Conn
	closed   bool
}

// NewServer creates a server for port. Port 0 picks a free port, see Addr.
func NewServer(port int) *Server {
	return &Server{port: port}
}

// Start binds the listening socket, emits StatusListening and starts
// accepting in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("signaling server already started")
	}

	listener, err := net.Listen("tcp4", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.mu.Unlock()
		err = fmt.Errorf("failed to listen on port %d: %w", s.port, err)
		s.emit(StatusError, err)
		return err
	}
	s.listener = listener
	s.mu.Unlock()

	serverLog.Infof("listening on %s", listener.Addr())
	s.emit(StatusListening, nil)

	go s.acceptLoop(listener)

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HasClient reports whether a client is currently attached.
func (s *Server) HasClient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		raw, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				serverLog.Errorf("accept failed: %v", err)
				s.emit(StatusError, fmt.Errorf("accept failed: %w", err))
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			raw.Close()
			return
		}
		if s.conn != nil {
			s.mu.Unlock()
			serverLog.Warnf("refusing %s, a client is already attached", raw.RemoteAddr())
			util.Stats.AddRefused()
			raw.Close()
			continue
		}
		conn := transport.NewConn(raw)
		s.conn = conn
		s.mu.Unlock()

		serverLog.Infof("client connected: %s (conn=%08x)", conn.RemoteAddr(), conn.Tag())
		s.emit(StatusConnected, nil)

		go s.serve(conn)
	}
}

// serve reads from conn until it ends, then reports the client gone and
// returns the server to listening. The slot is freed only after both events
// are out, so a new client's StatusConnected never overtakes them.
func (s *Server) serve(conn *transport.Conn) {
	err := conn.Run(s.dispatch)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		serverLog.Infof("client disconnected (conn=%08x): %v", conn.Tag(), err)
		s.emit(StatusDisconnected, err)
		s.emit(StatusListening, nil)
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// Send writes msg to the attached client. With no client attached it is a
// logged no-op.
func (s *Server) Send(msg protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		serverLog.Debugf("no client attached, dropping %s", msg.Type)
		return nil
	}
	return conn.Send(msg)
}

// Close stops listening, closes the attached client and clears the
// callbacks. A second call is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener, conn := s.listener, s.conn
	s.listener, s.conn = nil, nil
	s.mu.Unlock()

	s.clear()

	var errs []error
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	if listener != nil {
		errs = append(errs, listener.Close())
	}
	serverLog.Debugf("closed")
	return errors.Join(errs...)
}
