package main

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/tinywatch/internal/config"
	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/state"
)

type stubTrack struct{ id string }

func (t stubTrack) ID() string       { return t.id }
func (t stubTrack) StreamID() string { return "local" }

type stubStream struct {
	mu       sync.Mutex
	released int
}

func (s *stubStream) ID() string            { return "local" }
func (s *stubStream) Tracks() []media.Track { return []media.Track{stubTrack{"video"}} }

func (s *stubStream) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *stubStream) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type stubCapability struct{ stream *stubStream }

func (c *stubCapability) GetUserStream(media.Constraints) (media.Stream, error) {
	return c.stream, nil
}

func (c *stubCapability) NewPeer() (media.Peer, error) {
	return nil, errors.New("no peers in this test")
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Name: "TinyWatch-test-0001",
		Signaling: config.SignalingConfig{
			Port:           port,
			ConnectTimeout: time.Second,
			ProbeTimeout:   100 * time.Millisecond,
		},
	}
}

func TestRunSenderReleasesStreamOnStartFailure(t *testing.T) {
	busy, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	capability := &stubCapability{stream: &stubStream{}}
	store := state.NewStore()

	err = runSender(context.Background(), testConfig(port), store, capability)
	if err == nil {
		t.Fatal("runSender succeeded on a busy port")
	}
	if n := capability.stream.Released(); n != 1 {
		t.Errorf("stream released %d times, want 1", n)
	}
	if got := store.Snapshot().Status; got != state.StatusIdle {
		t.Errorf("status = %s, want idle after close", got)
	}
}

func TestRunReceiverClosesOnFailure(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	cfg := testConfig(port)
	cfg.Host = "127.0.0.1"
	store := state.NewStore()

	err = runReceiver(context.Background(), cfg, store, &stubCapability{stream: &stubStream{}})
	if err == nil {
		t.Fatal("runReceiver succeeded without a session")
	}
	if got := store.Snapshot().Status; got != state.StatusIdle {
		t.Errorf("status = %s, want idle after close", got)
	}
}
