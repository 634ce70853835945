package webrtc

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/tinywatch/internal/media"
)

func newTestCapability(t *testing.T) *Capability {
	t.Helper()
	c, err := NewCapability()
	if err != nil {
		t.Fatalf("NewCapability failed: %v", err)
	}
	return c
}

func TestGetUserStreamWithoutTracks(t *testing.T) {
	c := newTestCapability(t)

	_, err := c.GetUserStream(media.Constraints{})
	var acqErr *media.MediaAcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("GetUserStream error = %v, want *MediaAcquisitionError", err)
	}
	if !errors.Is(err, errNoTracks) {
		t.Errorf("error does not wrap errNoTracks: %v", err)
	}
}

func TestGetUserStreamTracks(t *testing.T) {
	c := newTestCapability(t)

	testCases := []struct {
		name string
		cons media.Constraints
		want []string
	}{
		{"video and audio", media.Constraints{Video: true, Audio: true}, []string{"video", "audio"}},
		{"video only", media.Constraints{Video: true}, []string{"video"}},
		{"audio only", media.Constraints{Audio: true}, []string{"audio"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stream, err := c.GetUserStream(tc.cons)
			if err != nil {
				t.Fatalf("GetUserStream failed: %v", err)
			}
			defer stream.Release()

			tracks := stream.Tracks()
			if len(tracks) != len(tc.want) {
				t.Fatalf("got %d tracks, want %d", len(tracks), len(tc.want))
			}
			for i, tr := range tracks {
				if tr.ID() != tc.want[i] {
					t.Errorf("track %d id = %s, want %s", i, tr.ID(), tc.want[i])
				}
				if tr.StreamID() != stream.ID() {
					t.Errorf("track %d stream = %s, want %s", i, tr.StreamID(), stream.ID())
				}
			}
		})
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := newTestCapability(t)
	stream, err := c.GetUserStream(media.Constraints{Video: true, Audio: true})
	if err != nil {
		t.Fatalf("GetUserStream failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		stream.Release()
		stream.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Release did not return")
	}
}

// TestDescriptionExchange runs offer/answer between two in-process peers
// without waiting for connectivity.
func TestDescriptionExchange(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	c := newTestCapability(t)

	stream, err := c.GetUserStream(media.Constraints{Video: true, Audio: true})
	if err != nil {
		t.Fatalf("GetUserStream failed: %v", err)
	}
	defer stream.Release()

	caller, err := c.NewPeer()
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer caller.Close()

	callee, err := c.NewPeer()
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer callee.Close()

	for _, tr := range stream.Tracks() {
		if err := caller.AddTrack(tr, stream); err != nil {
			t.Fatalf("AddTrack failed: %v", err)
		}
	}

	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if offer.Type != media.SDPTypeOffer {
		t.Errorf("offer type = %s", offer.Type)
	}
	for _, m := range []string{"m=video", "m=audio"} {
		if !strings.Contains(offer.SDP, m) {
			t.Errorf("offer missing %s", m)
		}
	}
	if err := caller.SetLocalDescription(offer); err != nil {
		t.Fatalf("caller SetLocalDescription failed: %v", err)
	}

	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("callee SetRemoteDescription failed: %v", err)
	}
	answer, err := callee.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	if answer.Type != media.SDPTypeAnswer {
		t.Errorf("answer type = %s", answer.Type)
	}
	if err := callee.SetLocalDescription(answer); err != nil {
		t.Fatalf("callee SetLocalDescription failed: %v", err)
	}
	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("caller SetRemoteDescription failed: %v", err)
	}
}

type foreignTrack struct{}

func (foreignTrack) ID() string       { return "x" }
func (foreignTrack) StreamID() string { return "s" }

func TestAddTrackRejectsForeignTrack(t *testing.T) {
	c := newTestCapability(t)
	p, err := c.NewPeer()
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer p.Close()

	if err := p.AddTrack(foreignTrack{}, nil); err == nil {
		t.Fatal("AddTrack accepted a non-pion track")
	}
}

func TestDrainTrackIgnoresForeignTrack(t *testing.T) {
	done := make(chan struct{})
	go func() {
		DrainTrack(foreignTrack{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DrainTrack blocked on a foreign track")
	}
}

func TestToPionRejectsUnknownType(t *testing.T) {
	_, err := toPion(media.SessionDescription{Type: "pranswer", SDP: "x"})
	if !errors.Is(err, errSDPType) {
		t.Fatalf("toPion error = %v, want errSDPType", err)
	}
}

func TestConnectionStateMapping(t *testing.T) {
	testCases := map[webrtc.PeerConnectionState]media.ConnectionState{
		webrtc.PeerConnectionStateNew:          media.StateNew,
		webrtc.PeerConnectionStateConnecting:   media.StateConnecting,
		webrtc.PeerConnectionStateConnected:    media.StateConnected,
		webrtc.PeerConnectionStateDisconnected: media.StateDisconnected,
		webrtc.PeerConnectionStateFailed:       media.StateFailed,
		webrtc.PeerConnectionStateClosed:       media.StateClosed,
	}
	for in, want := range testCases {
		if got := connectionState(in); got != want {
			t.Errorf("connectionState(%s) = %s, want %s", in, got, want)
		}
	}
}
