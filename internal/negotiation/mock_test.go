package negotiation_test

import (
	"errors"
	"sync"

	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/protocol"
)

// mockTrack is a minimal media.Track.
type mockTrack struct{ id, stream string }

func (t mockTrack) ID() string       { return t.id }
func (t mockTrack) StreamID() string { return t.stream }

type mockStream struct {
	id       string
	tracks   []media.Track
	released int
}

func newMockStream() *mockStream {
	return &mockStream{
		id:     "local",
		tracks: []media.Track{mockTrack{"video", "local"}, mockTrack{"audio", "local"}},
	}
}

func (s *mockStream) ID() string            { return s.id }
func (s *mockStream) Tracks() []media.Track { return s.tracks }
func (s *mockStream) Release()              { s.released++ }

// mockPeer records every call in order and lets tests fire media events.
type mockPeer struct {
	mu sync.Mutex

	calls      []string
	tracks     []string
	local      *media.SessionDescription
	remote     *media.SessionDescription
	candidates []string
	closes     int

	setRemoteErr  error
	badCandidates map[string]bool
	// beforeAnswer runs at the start of CreateAnswer, outside the lock.
	beforeAnswer func()

	onICE   func(media.Candidate)
	onTrack func(media.RemoteStream)
	onState func(media.ConnectionState)
}

func (p *mockPeer) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *mockPeer) AddTrack(track media.Track, _ media.Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("addTrack")
	p.tracks = append(p.tracks, track.ID())
	return nil
}

func (p *mockPeer) CreateOffer() (media.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("createOffer")
	return media.SessionDescription{Type: media.SDPTypeOffer, SDP: "mock-offer"}, nil
}

func (p *mockPeer) CreateAnswer() (media.SessionDescription, error) {
	if p.beforeAnswer != nil {
		p.beforeAnswer()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("createAnswer")
	if p.remote == nil {
		return media.SessionDescription{}, errors.New("no remote description")
	}
	return media.SessionDescription{Type: media.SDPTypeAnswer, SDP: "mock-answer"}, nil
}

func (p *mockPeer) SetLocalDescription(d media.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("setLocal")
	p.local = &d
	return nil
}

func (p *mockPeer) SetRemoteDescription(d media.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("setRemote")
	if p.setRemoteErr != nil {
		err := p.setRemoteErr
		p.setRemoteErr = nil
		return err
	}
	p.remote = &d
	return nil
}

func (p *mockPeer) AddICECandidate(c media.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("addCandidate")
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	if p.badCandidates[c.Candidate] {
		return errors.New("bad candidate")
	}
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *mockPeer) OnICECandidate(fn func(media.Candidate))                { p.onICE = fn }
func (p *mockPeer) OnTrack(fn func(media.RemoteStream))                    { p.onTrack = fn }
func (p *mockPeer) OnConnectionStateChange(fn func(media.ConnectionState)) { p.onState = fn }

func (p *mockPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("close")
	p.closes++
	return nil
}

func (p *mockPeer) snapshot() (calls, candidates []string, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...), append([]string(nil), p.candidates...), p.closes
}

// mockCapability hands out one prepared peer.
type mockCapability struct {
	peer *mockPeer
	err  error
}

func (c *mockCapability) GetUserStream(media.Constraints) (media.Stream, error) {
	return newMockStream(), nil
}

func (c *mockCapability) NewPeer() (media.Peer, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.peer, nil
}

// outbox collects sent control messages.
type outbox struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (o *outbox) send(m protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return nil
}

func (o *outbox) types() []protocol.Type {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]protocol.Type, len(o.msgs))
	for i, m := range o.msgs {
		out[i] = m.Type
	}
	return out
}

func (o *outbox) count(t protocol.Type) int {
	n := 0
	for _, got := range o.types() {
		if got == t {
			n++
		}
	}
	return n
}
