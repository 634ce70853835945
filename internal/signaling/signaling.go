// Package signaling provides the two endpoints of the control channel: a
// Server that accepts exactly one peer at a time and a Client that dials
// one. Both wrap their socket in a transport.Conn and surface parsed
// control messages through a single callback.
package signaling

import (
	"errors"
	"sync"

	"github.com/1ureka/tinywatch/internal/protocol"
)

// DefaultPort is the well-known signaling port.
const DefaultPort = 9090

var (
	// ErrInvalidHost is returned by Client.Connect for anything that is not a
	// dotted-decimal IPv4 address. No connection is attempted.
	ErrInvalidHost = errors.New("invalid IPv4 address")
	// ErrClosed is returned when an endpoint is used after Close.
	ErrClosed = errors.New("signaling endpoint closed")
)

// Status is an endpoint lifecycle state.
type Status string

const (
	StatusListening    Status = "listening" // server only
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Event is one entry of an endpoint's status stream. Err is set for
// StatusError and, when known, for StatusDisconnected.
type Event struct {
	Status Status
	Err    error
}

// Endpoint is the surface shared by Server and Client.
type Endpoint interface {
	Send(msg protocol.Message) error
	OnMessage(fn func(protocol.Message))
	OnStatus(fn func(Event))
	Close() error
}

// handlers holds the message and status callbacks. They may be registered
// after construction; events arriving before registration are dropped.
type handlers struct {
	mu        sync.RWMutex
	onMessage func(protocol.Message)
	onStatus  func(Event)
}

func (h *handlers) OnMessage(fn func(protocol.Message)) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

func (h *handlers) OnStatus(fn func(Event)) {
	h.mu.Lock()
	h.onStatus = fn
	h.mu.Unlock()
}

func (h *handlers) dispatch(msg protocol.Message) {
	h.mu.RLock()
	fn := h.onMessage
	h.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (h *handlers) emit(status Status, err error) {
	h.mu.RLock()
	fn := h.onStatus
	h.mu.RUnlock()
	if fn != nil {
		fn(Event{Status: status, Err: err})
	}
}

func (h *handlers) clear() {
	h.mu.Lock()
	h.onMessage = nil
	h.onStatus = nil
	h.mu.Unlock()
}
