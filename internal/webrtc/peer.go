package webrtc

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tinywatch/internal/media"
)

// Peer adapts a pion PeerConnection to media.Peer.
type Peer struct {
	pc *webrtc.PeerConnection
}

var _ media.Peer = (*Peer)(nil)

// AddTrack adds a local track. Only tracks produced by this package's
// streams can be added.
func (p *Peer) AddTrack(track media.Track, _ media.Stream) error {
	local, ok := track.(webrtc.TrackLocal)
	if !ok {
		return fmt.Errorf("track %s is not a local pion track", track.ID())
	}

	sender, err := p.pc.AddTrack(local)
	if err != nil {
		return err
	}

	// Drain RTCP so the interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return nil
}

func (p *Peer) CreateOffer() (media.SessionDescription, error) {
	desc, err := p.pc.CreateOffer(nil)
	if err != nil {
		return media.SessionDescription{}, err
	}
	return fromPion(desc), nil
}

func (p *Peer) CreateAnswer() (media.SessionDescription, error) {
	desc, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return media.SessionDescription{}, err
	}
	return fromPion(desc), nil
}

func (p *Peer) SetLocalDescription(desc media.SessionDescription) error {
	d, err := toPion(desc)
	if err != nil {
		return err
	}
	return p.pc.SetLocalDescription(d)
}

func (p *Peer) SetRemoteDescription(desc media.SessionDescription) error {
	d, err := toPion(desc)
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(d)
}

func (p *Peer) AddICECandidate(c media.Candidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

// OnICECandidate forwards gathered candidates. pion's end-of-gathering nil
// is swallowed.
func (p *Peer) OnICECandidate(fn func(media.Candidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ci := c.ToJSON()
		fn(media.Candidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})
}

// OnTrack surfaces remote tracks that belong to a stream.
func (p *Peer) OnTrack(fn func(media.RemoteStream)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.StreamID() == "" {
			log.Debugf("ignoring remote track %s without a stream", track.ID())
			return
		}
		log.Infof("remote %s track %s (%s) in stream %s",
			track.Kind(), track.ID(), track.Codec().MimeType, track.StreamID())
		fn(media.RemoteStream{ID: track.StreamID(), Track: track})
	})
}

func (p *Peer) OnConnectionStateChange(fn func(media.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(connectionState(s))
	})
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

var errSDPType = errors.New("unsupported session description type")

func fromPion(d webrtc.SessionDescription) media.SessionDescription {
	return media.SessionDescription{Type: media.SDPType(d.Type.String()), SDP: d.SDP}
}

func toPion(d media.SessionDescription) (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case media.SDPTypeOffer:
		t = webrtc.SDPTypeOffer
	case media.SDPTypeAnswer:
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %q", errSDPType, d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func connectionState(s webrtc.PeerConnectionState) media.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return media.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return media.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return media.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return media.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return media.StateClosed
	default:
		return media.StateNew
	}
}
