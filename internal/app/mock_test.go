package app_test

import (
	"errors"
	"sync"

	"github.com/1ureka/tinywatch/internal/media"
)

type fakeTrack struct{ id, stream string }

func (t fakeTrack) ID() string       { return t.id }
func (t fakeTrack) StreamID() string { return t.stream }

type fakeStream struct {
	mu       sync.Mutex
	released int
}

func (s *fakeStream) ID() string { return "local" }

func (s *fakeStream) Tracks() []media.Track {
	return []media.Track{fakeTrack{"video", "local"}, fakeTrack{"audio", "local"}}
}

func (s *fakeStream) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *fakeStream) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// fakePeer behaves like a media stack on a perfect network: once both
// descriptions are in place it reports connected. Every event is fired
// from a fresh goroutine, like a real stack does.
type fakePeer struct {
	mu        sync.Mutex
	local     *media.SessionDescription
	remote    *media.SessionDescription
	connected bool
	closed    bool

	onICE   func(media.Candidate)
	onTrack func(media.RemoteStream)
	onState func(media.ConnectionState)
}

func (p *fakePeer) AddTrack(media.Track, media.Stream) error { return nil }

func (p *fakePeer) CreateOffer() (media.SessionDescription, error) {
	return media.SessionDescription{Type: media.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (p *fakePeer) CreateAnswer() (media.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return media.SessionDescription{}, errors.New("no remote description")
	}
	return media.SessionDescription{Type: media.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (p *fakePeer) SetLocalDescription(d media.SessionDescription) error {
	p.mu.Lock()
	p.local = &d
	p.mu.Unlock()

	sdpMid := "0"
	p.fire(func() {
		if fn := p.iceHandler(); fn != nil {
			fn(media.Candidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host", SDPMid: &sdpMid})
		}
	})
	p.maybeConnect()
	return nil
}

func (p *fakePeer) SetRemoteDescription(d media.SessionDescription) error {
	p.mu.Lock()
	p.remote = &d
	p.mu.Unlock()

	if d.Type == media.SDPTypeOffer {
		p.fire(func() {
			p.mu.Lock()
			fn := p.onTrack
			p.mu.Unlock()
			if fn != nil {
				fn(media.RemoteStream{ID: "remote", Track: fakeTrack{"video", "remote"}})
			}
		})
	}
	p.maybeConnect()
	return nil
}

func (p *fakePeer) AddICECandidate(media.Candidate) error { return nil }

func (p *fakePeer) OnICECandidate(fn func(media.Candidate)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnTrack(fn func(media.RemoteStream)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(fn func(media.ConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) iceHandler() func(media.Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onICE
}

func (p *fakePeer) maybeConnect() {
	p.mu.Lock()
	ready := p.local != nil && p.remote != nil && !p.connected
	if ready {
		p.connected = true
	}
	fn := p.onState
	p.mu.Unlock()

	if ready && fn != nil {
		p.fire(func() {
			fn(media.StateConnecting)
			fn(media.StateConnected)
		})
	}
}

func (p *fakePeer) fire(fn func()) { go fn() }

type fakeCapability struct {
	mu        sync.Mutex
	streamErr error
	stream    *fakeStream
	peers     []*fakePeer
}

func (c *fakeCapability) GetUserStream(cons media.Constraints) (media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamErr != nil {
		return nil, &media.MediaAcquisitionError{Constraints: cons, Err: c.streamErr}
	}
	c.stream = &fakeStream{}
	return c.stream, nil
}

func (c *fakeCapability) NewPeer() (media.Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &fakePeer{}
	c.peers = append(c.peers, p)
	return p, nil
}

func (c *fakeCapability) Peers() []*fakePeer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakePeer(nil), c.peers...)
}
