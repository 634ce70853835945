// Package monitor serves the state store over a WebSocket so that a
// presentation layer can follow the connection status without polling.
package monitor

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/tinywatch/internal/state"
	"github.com/1ureka/tinywatch/internal/util"
)

const (
	// Path is the feed's route.
	Path = "/status"

	writeTimeout = 5 * time.Second
	queueSize    = 16
)

var (
	log      = util.Scoped("monitor")
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

// Server pushes a JSON state.Snapshot to every connected viewer: the
// current one on connect, then one per change.
type Server struct {
	store *state.Store

	mu       sync.Mutex
	listener net.Listener
	conns    map[*websocket.Conn]struct{}
	closed   bool
}

// New creates a feed for store. Call Start, or mount Handler yourself.
func New(store *state.Store) *Server {
	return &Server{store: store, conns: make(map[*websocket.Conn]struct{})}
}

// Handler returns a mux with the feed route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWS)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start status feed: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return errors.New("status feed closed")
	}
	s.listener = listener
	s.mu.Unlock()

	go func() {
		_ = http.Serve(listener, s.Handler())
	}()

	log.Infof("status feed on ws://%s%s", listener.Addr(), Path)
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

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	log.Debugf("viewer connected: %s", conn.RemoteAddr())
	s.serve(conn)

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
	log.Debugf("viewer left: %s", conn.RemoteAddr())
}

// serve streams snapshots until the viewer leaves. A slow viewer skips
// intermediate snapshots and always ends up with the latest one.
func (s *Server) serve(conn *websocket.Conn) {
	queue := make(chan state.Snapshot, queueSize)
	unsubscribe := s.store.Subscribe(func(snap state.Snapshot) {
		for {
			select {
			case queue <- snap:
				return
			default:
			}
			select {
			case <-queue:
			default:
			}
		}
	})
	defer unsubscribe()

	// The viewer never sends anything meaningful; reading detects it leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !write(conn, s.store.Snapshot()) {
		return
	}

	for {
		select {
		case snap := <-queue:
			if !write(conn, snap) {
				return
			}
		case <-gone:
			return
		}
	}
}

func write(conn *websocket.Conn, snap state.Snapshot) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(snap); err != nil {
		log.Debugf("write to %s failed: %v", conn.RemoteAddr(), err)
		return false
	}
	return true
}

// Close stops listening and disconnects every viewer. Safe to call twice.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}
