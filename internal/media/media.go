// Package media describes the real-time media capability the negotiation
// core drives. The core never touches a concrete media stack; it only calls
// these interfaces. internal/webrtc provides the pion-backed implementation.
package media

import (
	"fmt"
)

// SDPType is the role of a session description.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is an opaque description of one side's session.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// Candidate is one ICE candidate. SDPMid and SDPMLineIndex are optional.
type Candidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// ConnectionState is the media layer's own view of the peer connection.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Track is a single audio or video track.
type Track interface {
	ID() string
	StreamID() string
}

// Stream is a set of local tracks acquired from capture devices.
type Stream interface {
	ID() string
	Tracks() []Track
	// Release stops capture. Safe to call more than once.
	Release()
}

// RemoteStream is what a track event surfaces to the session owner.
type RemoteStream struct {
	ID    string
	Track Track
}

// Constraints selects which kinds of media GetUserStream acquires.
type Constraints struct {
	Video bool
	Audio bool
}

// MediaAcquisitionError is returned when a local stream cannot be acquired.
type MediaAcquisitionError struct {
	Constraints Constraints
	Err         error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed (video=%t audio=%t): %v",
		e.Constraints.Video, e.Constraints.Audio, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// Peer is one side of a media session. Event handlers may be invoked from
// any goroutine.
type Peer interface {
	AddTrack(track Track, stream Stream) error
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	AddICECandidate(c Candidate) error

	// OnICECandidate is called for every gathered local candidate.
	// End-of-gathering is not reported.
	OnICECandidate(fn func(Candidate))
	// OnTrack is called for every remote track that belongs to a stream.
	OnTrack(fn func(RemoteStream))
	OnConnectionStateChange(fn func(ConnectionState))

	Close() error
}

// Capability is the entry point of a media stack.
type Capability interface {
	// GetUserStream acquires local capture. Failures are *MediaAcquisitionError.
	GetUserStream(c Constraints) (Stream, error)
	// NewPeer creates an unconnected peer.
	NewPeer() (Peer, error)
}
