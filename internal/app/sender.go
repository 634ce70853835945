// Package app ties signaling, discovery and negotiation together for the
// sender and receiver roles and reports progress into the state store.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1ureka/tinywatch/internal/discovery"
	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/negotiation"
	"github.com/1ureka/tinywatch/internal/protocol"
	"github.com/1ureka/tinywatch/internal/signaling"
	"github.com/1ureka/tinywatch/internal/state"
	"github.com/1ureka/tinywatch/internal/util"
)

// ErrClosed is returned when a coordinator is used after Close.
var ErrClosed = errors.New("session closed")

// SenderConfig configures the sending role.
type SenderConfig struct {
	Name         string
	Port         int
	ProbeTimeout time.Duration
	Constraints  media.Constraints

	Capability media.Capability
	Store      *state.Store
	// Registrar publishes the mDNS record. Nil uses zeroconf.
	Registrar discovery.Registrar
}

// Sender captures the local stream, waits for one receiver on the
// signaling port and offers the stream to it. Every new receiver gets a new
// negotiation engine; the stream is captured once and reused.
type Sender struct {
	cfg   SenderConfig
	store *state.Store
	log   util.Logger

	mu         sync.Mutex
	stream     media.Stream
	server     *signaling.Server
	advertiser *discovery.Advertiser
	engine     *negotiation.Engine
	started    bool
	closed     bool
}

// NewSender creates an idle sender. Nothing happens until Start. Port 0
// binds a free port, see Addr.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return &Sender{cfg: cfg, store: cfg.Store, log: util.Scoped("sender")}
}

// Start runs the sender lifecycle up to the point where it waits for a
// receiver:
//  1. Capture the local stream
//  2. Find the LAN address to show the user
//  3. Open the signaling port
//  4. Advertise the device over mDNS
//
// A failure in steps 1 or 3 is fatal and reported into the store. A failed
// address probe or advertisement only leaves the sender harder to find.
func (s *Sender) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("sender already started")
	}
	s.started = true
	s.mu.Unlock()

	s.store.Reset()
	s.store.SetRole(state.RoleSender)

	// ── 1. Capture local media ────────────────────────────────────────
	stream, err := s.cfg.Capability.GetUserStream(s.cfg.Constraints)
	if err != nil {
		s.store.Fail(fmt.Sprintf("could not capture media: %v", err))
		return err
	}
	s.log.Infof("captured stream %s (%d tracks)", stream.ID(), len(stream.Tracks()))

	// ── 2. Local address ──────────────────────────────────────────────
	if ip, err := util.LocalIPv4(ctx, s.cfg.ProbeTimeout); err != nil {
		s.log.Warnf("%v", err)
	} else {
		s.store.SetLocalIP(ip)
		s.log.Infof("reachable at %s:%d", ip, s.cfg.Port)
	}

	// ── 3. Signaling server ───────────────────────────────────────────
	server := signaling.NewServer(s.cfg.Port)
	server.OnStatus(s.onServerStatus(server))
	server.OnMessage(s.onMessage)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stream.Release()
		return ErrClosed
	}
	s.stream = stream
	s.server = server
	s.mu.Unlock()

	if err := server.Start(); err != nil {
		return err
	}

	// ── 4. Advertise ──────────────────────────────────────────────────
	port := s.cfg.Port
	if addr, ok := server.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	advertiser := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Name:      s.cfg.Name,
		Port:      port,
		Registrar: s.cfg.Registrar,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		advertiser.Close()
		return ErrClosed
	}
	s.advertiser = advertiser
	s.mu.Unlock()

	return nil
}

// Addr returns the signaling listener's address, or nil before Start.
func (s *Sender) Addr() net.Addr {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Addr()
}

// HasReceiver reports whether a receiver holds the signaling connection.
func (s *Sender) HasReceiver() bool {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	return server != nil && server.HasClient()
}

func (s *Sender) onServerStatus(server *signaling.Server) func(signaling.Event) {
	return func(ev signaling.Event) {
		s.mu.Lock()
		if s.closed || s.server != server {
			s.mu.Unlock()
			return
		}

		switch ev.Status {
		case signaling.StatusListening:
			s.mu.Unlock()
			s.store.SetStatus(state.StatusSignaling)

		case signaling.StatusConnected:
			// The lock is held across engine construction so that an
			// answer arriving right after the offer finds the engine.
			defer s.mu.Unlock()
			s.startEngineLocked(server)

		case signaling.StatusDisconnected:
			engine := s.engine
			s.engine = nil
			s.mu.Unlock()
			if engine != nil {
				s.log.Infof("receiver left, closing session %s", engine.ID())
				engine.Close()
			}

		case signaling.StatusError:
			s.mu.Unlock()
			s.store.Fail(errorText("signaling failed", ev.Err))

		default:
			s.mu.Unlock()
		}
	}
}

func (s *Sender) startEngineLocked(server *signaling.Server) {
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}

	s.store.SetStatus(state.StatusConnecting)

	var engine *negotiation.Engine
	live := func() bool { return s.engine != nil && s.engine == engine }

	engine, err := negotiation.NewCaller(negotiation.Config{
		Capability:  s.cfg.Capability,
		Send:        server.Send,
		LocalStream: s.stream,
		OnStatus: func(status state.Status) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if live() {
				setMediaStatus(s.store, status)
			}
		},
		OnClose: func(remote bool) {
			if !remote {
				return
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if live() {
				s.engine = nil
				s.store.SetStatus(state.StatusIdle)
			}
		},
	})
	if err != nil {
		s.log.Errorf("failed to start session: %v", err)
		s.store.Fail(errorText("could not start session", err))
		return
	}
	s.engine = engine
}

func (s *Sender) onMessage(msg protocol.Message) {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()

	if engine == nil {
		s.log.Debugf("no session, dropping %s", msg.Type)
		return
	}
	engine.HandleMessage(msg)
}

// Close ends the session with a bye, withdraws the advertisement, closes
// the signaling port and releases the captured stream. Safe to call twice.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	engine, advertiser, server, stream := s.engine, s.advertiser, s.server, s.stream
	s.engine, s.advertiser, s.server, s.stream = nil, nil, nil, nil
	s.mu.Unlock()

	// The bye goes out before the server closes the connection.
	if engine != nil {
		engine.Close()
	}
	if advertiser != nil {
		advertiser.Close()
	}
	var err error
	if server != nil {
		err = server.Close()
	}
	if stream != nil {
		stream.Release()
	}

	s.store.SetStatus(state.StatusIdle)
	s.log.Debugf("closed")
	return err
}

// setMediaStatus records an engine-reported status. Failures carry a fixed
// message since the media layer gives no detail.
func setMediaStatus(store *state.Store, status state.Status) {
	if status == state.StatusError {
		store.Fail("media connection failed")
		return
	}
	store.SetStatus(status)
}

func errorText(prefix string, err error) string {
	if err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}
