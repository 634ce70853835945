// Package negotiation drives one media session through the offer/answer
// exchange. It talks to the media stack only through internal/media and to
// the other side only through a send function and HandleMessage.
package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/protocol"
	"github.com/1ureka/tinywatch/internal/state"
	"github.com/1ureka/tinywatch/internal/util"
)

// ErrNotReady is returned when an engine is built without its inputs.
var ErrNotReady = errors.New("negotiation inputs not ready")

var errClosed = errors.New("session closed")

// Config wires an engine to its collaborators. Callbacks are optional and
// are never invoked after the engine is closed.
type Config struct {
	Capability media.Capability
	// Send delivers a control message to the other side.
	Send func(protocol.Message) error
	// LocalStream is offered by the caller. Unused by the callee.
	LocalStream media.Stream

	// OnStatus receives mapped media connection states.
	OnStatus func(state.Status)
	// OnTrack receives every remote track that belongs to a stream.
	OnTrack func(media.RemoteStream)
	// OnClose fires once; remote is true when a received bye caused it.
	OnClose func(remote bool)
}

// Engine is one negotiation session. It owns its media peer exclusively.
type Engine struct {
	id   string
	role Role
	cfg  Config
	peer media.Peer
	log  util.Logger

	mu        sync.Mutex // serializes message handling
	remoteSet bool
	pending   []media.Candidate

	stateMu sync.Mutex
	state   State

	// sendMu orders every outbound message against the bye, so nothing
	// leaves after it.
	sendMu sync.Mutex
	closed atomic.Bool
}

// NewCaller creates the offering side and sends the offer before
// returning. It requires a local stream and a connected channel.
func NewCaller(cfg Config) (*Engine, error) {
	if cfg.LocalStream == nil || cfg.Send == nil || cfg.Capability == nil {
		return nil, ErrNotReady
	}

	e, err := newEngine(RoleCaller, cfg)
	if err != nil {
		return nil, err
	}

	for _, track := range cfg.LocalStream.Tracks() {
		if err := e.peer.AddTrack(track, cfg.LocalStream); err != nil {
			e.abort()
			return nil, fmt.Errorf("failed to add track %s: %w", track.ID(), err)
		}
	}

	if err := e.offer(); err != nil {
		e.abort()
		return nil, err
	}

	return e, nil
}

// NewCallee creates the answering side. It waits for an offer.
func NewCallee(cfg Config) (*Engine, error) {
	if cfg.Send == nil || cfg.Capability == nil {
		return nil, ErrNotReady
	}
	return newEngine(RoleCallee, cfg)
}

func newEngine(role Role, cfg Config) (*Engine, error) {
	peer, err := cfg.Capability.NewPeer()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer: %w", err)
	}

	id := uuid.NewString()[:8]
	e := &Engine{
		id:    id,
		role:  role,
		cfg:   cfg,
		peer:  peer,
		log:   util.Scoped(fmt.Sprintf("negotiation %s %s", role, id)),
		state: StateIdle,
	}

	peer.OnICECandidate(e.handleLocalCandidate)
	peer.OnTrack(e.handleTrack)
	peer.OnConnectionStateChange(e.handleConnectionState)

	e.log.Debugf("session created")
	return e, nil
}

// ID is a short random session id used in logs.
func (e *Engine) ID() string { return e.id }

// Role returns the engine's side of the exchange.
func (e *Engine) Role() Role { return e.role }

// Closed reports whether the engine has been torn down.
func (e *Engine) Closed() bool { return e.closed.Load() }

// State returns the current negotiation state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	prev := e.state
	if prev != StateClosed {
		e.state = s
	}
	e.stateMu.Unlock()

	if prev != s && prev != StateClosed {
		e.log.Debugf("state: %s -> %s", prev, s)
	}
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// HandleMessage processes one control message from the other side. A
// failure is logged with the message type and leaves the session running.
func (e *Engine) HandleMessage(msg protocol.Message) {
	if e.closed.Load() {
		return
	}

	if msg.Type == protocol.TypeBye {
		e.log.Infof("received bye")
		e.shutdown(false)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return
	}

	var err error
	switch msg.Type {
	case protocol.TypeOffer:
		err = e.handleOffer(msg.SDP)
	case protocol.TypeAnswer:
		err = e.handleAnswer(msg.SDP)
	case protocol.TypeCandidate:
		err = e.handleRemoteCandidate(media.Candidate{
			Candidate:     msg.Candidate,
			SDPMid:        msg.SDPMid,
			SDPMLineIndex: msg.SDPMLineIndex,
		})
	default:
		err = fmt.Errorf("%w: %q", protocol.ErrUnknownType, msg.Type)
	}

	if errors.Is(err, errClosed) {
		e.log.Debugf("closed while handling %s", msg.Type)
	} else if err != nil {
		e.log.Errorf("failed handling %s: %v", msg.Type, err)
	}
}

func (e *Engine) handleOffer(sdp string) error {
	if e.role != RoleCallee {
		return errors.New("unexpected offer on the offering side")
	}

	if err := e.applyRemote(media.SessionDescription{Type: media.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}

	e.setState(StateLocalDescriptionPending)
	answer, err := e.peer.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := e.peer.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	e.setState(StateStable)

	if err := e.send(protocol.Answer(answer.SDP)); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	e.log.Infof("answer sent")
	return nil
}

func (e *Engine) handleAnswer(sdp string) error {
	if e.role != RoleCaller {
		return errors.New("unexpected answer on the answering side")
	}

	if err := e.applyRemote(media.SessionDescription{Type: media.SDPTypeAnswer, SDP: sdp}); err != nil {
		return err
	}
	e.setState(StateStable)
	e.log.Infof("answer applied")
	return nil
}

// applyRemote sets the remote description and flushes buffered candidates.
func (e *Engine) applyRemote(desc media.SessionDescription) error {
	e.setState(StateRemoteDescriptionPending)
	if err := e.peer.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	e.remoteSet = true
	e.setState(StateRemoteDescriptionSet)

	e.flushPending()
	return nil
}

// flushPending applies buffered candidates in arrival order and empties the
// buffer. One bad candidate does not stop the rest.
func (e *Engine) flushPending() {
	if len(e.pending) == 0 {
		return
	}

	e.log.Debugf("applying %d buffered candidates", len(e.pending))
	for _, c := range e.pending {
		if err := e.peer.AddICECandidate(c); err != nil {
			e.log.Warnf("buffered candidate rejected: %v", err)
		}
	}
	e.pending = nil
}

func (e *Engine) handleRemoteCandidate(c media.Candidate) error {
	if !e.remoteSet {
		e.pending = append(e.pending, c)
		e.log.Debugf("buffered candidate (%d pending)", len(e.pending))
		return nil
	}
	return e.peer.AddICECandidate(c)
}

// Pending returns the number of buffered remote candidates.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (e *Engine) offer() error {
	e.setState(StateLocalDescriptionPending)

	offer, err := e.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := e.peer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	e.setState(StateLocalDescriptionSet)

	if err := e.send(protocol.Offer(offer.SDP)); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	e.log.Infof("offer sent")
	return nil
}

// send delivers msg unless the engine is already closed.
func (e *Engine) send(msg protocol.Message) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if e.closed.Load() {
		return errClosed
	}
	return e.cfg.Send(msg)
}

// ---------------------------------------------------------------------------
// Media events
// ---------------------------------------------------------------------------

func (e *Engine) handleLocalCandidate(c media.Candidate) {
	if e.closed.Load() {
		return
	}
	err := e.send(protocol.Candidate(c.Candidate, c.SDPMid, c.SDPMLineIndex))
	if err != nil && !errors.Is(err, errClosed) {
		e.log.Warnf("failed to send candidate: %v", err)
	}
}

func (e *Engine) handleTrack(rs media.RemoteStream) {
	if e.closed.Load() || e.cfg.OnTrack == nil {
		return
	}
	e.cfg.OnTrack(rs)
}

func (e *Engine) handleConnectionState(s media.ConnectionState) {
	if e.closed.Load() {
		return
	}
	e.log.Infof("media connection: %s", s)

	if s == media.StateConnected {
		e.setState(StateConnected)
	}

	status, ok := MapConnectionState(s)
	if ok && e.cfg.OnStatus != nil {
		e.cfg.OnStatus(status)
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Close sends bye to the other side and closes the peer. Only the first
// call has any effect.
func (e *Engine) Close() error {
	return e.shutdown(true)
}

// shutdown tears the session down once. sendBye is false when the other
// side already said bye.
func (e *Engine) shutdown(sendBye bool) error {
	e.sendMu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.sendMu.Unlock()
		return nil
	}
	if sendBye {
		if err := e.cfg.Send(protocol.Bye()); err != nil {
			e.log.Warnf("failed to send bye: %v", err)
		}
	}
	e.sendMu.Unlock()

	e.setState(StateClosed)
	err := e.peer.Close()
	e.log.Infof("session closed (remote=%t)", !sendBye)

	if e.cfg.OnClose != nil {
		e.cfg.OnClose(!sendBye)
	}
	return err
}

// abort closes a half-built engine without notifying anyone.
func (e *Engine) abort() {
	e.closed.Store(true)
	e.setState(StateClosed)
	e.peer.Close()
}
