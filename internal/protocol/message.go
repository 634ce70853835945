// Package protocol defines the control messages exchanged over the signaling
// stream and the newline-delimited JSON framing that carries them.
package protocol

// Type identifies the variant of a control message.
type Type string

// Control message variants.
const (
	TypeOffer     Type = "offer"         // caller proposes a session
	TypeAnswer    Type = "answer"        // callee accepts and describes its side
	TypeCandidate Type = "ice-candidate" // one path to reach the sender of the message
	TypeBye       Type = "bye"           // graceful session teardown notice
)

// Known reports whether t is one of the four control message variants.
func (t Type) Known() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeBye:
		return true
	}
	return false
}

// Message is the tagged union of control messages. Only the fields that
// belong to Type are meaningful:
//
//	offer, answer   SDP
//	ice-candidate   Candidate, SDPMid, SDPMLineIndex
//	bye             (none)
type Message struct {
	Type          Type
	SDP           string
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// Offer builds an offer message.
func Offer(sdp string) Message { return Message{Type: TypeOffer, SDP: sdp} }

// Answer builds an answer message.
func Answer(sdp string) Message { return Message{Type: TypeAnswer, SDP: sdp} }

// Candidate builds an ice-candidate message. mid and index may be nil.
func Candidate(candidate string, mid *string, index *uint16) Message {
	return Message{
		Type:          TypeCandidate,
		Candidate:     candidate,
		SDPMid:        mid,
		SDPMLineIndex: index,
	}
}

// Bye builds a bye message.
func Bye() Message { return Message{Type: TypeBye} }
