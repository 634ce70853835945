package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Delimiter terminates every frame on the wire.
const Delimiter = '\n'

var (
	// ErrMalformed is returned for frames that are not a valid control message.
	ErrMalformed = errors.New("malformed control message")
	// ErrUnknownType is returned for frames whose "type" is not a known variant.
	ErrUnknownType = errors.New("unknown control message type")
)

// Wire shapes, one per variant. ice-candidate always carries sdpMid and
// sdpMLineIndex, explicitly null when absent.
type (
	sdpFrame struct {
		Type Type   `json:"type"`
		SDP  string `json:"sdp"`
	}
	candidateFrame struct {
		Type          Type    `json:"type"`
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	}
	byeFrame struct {
		Type Type `json:"type"`
	}
)

// decodeFrame accepts the union of all variant fields; pointers tell a
// missing field apart from an empty one.
type decodeFrame struct {
	Type          Type    `json:"type"`
	SDP           *string `json:"sdp"`
	Candidate     *string `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// Encode serializes msg to JSON and appends the frame delimiter.
func Encode(msg Message) ([]byte, error) {
	var v interface{}

	switch msg.Type {
	case TypeOffer, TypeAnswer:
		v = sdpFrame{Type: msg.Type, SDP: msg.SDP}
	case TypeCandidate:
		v = candidateFrame{
			Type:          msg.Type,
			Candidate:     msg.Candidate,
			SDPMid:        msg.SDPMid,
			SDPMLineIndex: msg.SDPMLineIndex,
		}
	case TypeBye:
		v = byeFrame{Type: msg.Type}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, Delimiter), nil
}

// Decode parses one frame (without its delimiter) and validates it against
// the control message shape.
func Decode(frame []byte) (Message, error) {
	var f decodeFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if !f.Type.Known() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}

	msg := Message{Type: f.Type}

	switch f.Type {
	case TypeOffer, TypeAnswer:
		if f.SDP == nil {
			return Message{}, fmt.Errorf("%w: %s without sdp", ErrMalformed, f.Type)
		}
		msg.SDP = *f.SDP

	case TypeCandidate:
		if f.Candidate == nil {
			return Message{}, fmt.Errorf("%w: %s without candidate", ErrMalformed, f.Type)
		}
		msg.Candidate = *f.Candidate
		msg.SDPMid = f.SDPMid
		msg.SDPMLineIndex = f.SDPMLineIndex
	}

	return msg, nil
}
