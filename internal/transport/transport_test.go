package transport_test

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/tinywatch/internal/protocol"
	"github.com/1ureka/tinywatch/internal/transport"
)

// pair returns two connected Conns and a channel that collects every
// message b receives. runErr reports b's Run result.
func pair(t *testing.T) (a, b *transport.Conn, got <-chan protocol.Message, runErr <-chan error) {
	t.Helper()

	p1, p2 := net.Pipe()
	a = transport.NewConn(p1)
	b = transport.NewConn(p2)

	msgs := make(chan protocol.Message, 512)
	errc := make(chan error, 1)
	go func() {
		errc <- b.Run(func(m protocol.Message) { msgs <- m })
	}()

	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b, msgs, errc
}

func recv(t *testing.T, ch <-chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return protocol.Message{}
	}
}

func TestSendPreservesOrder(t *testing.T) {
	a, _, got, _ := pair(t)

	mid := "0"
	want := []protocol.Message{
		protocol.Offer("sdp-offer"),
		protocol.Candidate("c1", &mid, nil),
		protocol.Candidate("c2", nil, nil),
		protocol.Bye(),
	}
	for _, m := range want {
		if err := a.Send(m); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	for i, w := range want {
		m := recv(t, got)
		if m.Type != w.Type || m.SDP != w.SDP || m.Candidate != w.Candidate {
			t.Fatalf("message %d = %+v, want %+v", i, m, w)
		}
	}
}

// TestConcurrentSendsDoNotInterleave sends from many goroutines at once. Every
// frame must still arrive intact.
func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	a, _, got, _ := pair(t)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				a.Send(protocol.Candidate(fmt.Sprintf("w%d-%d", w, i), nil, nil))
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < workers*perWorker; i++ {
		m := recv(t, got)
		if m.Type != protocol.TypeCandidate {
			t.Fatalf("unexpected message %+v", m)
		}
		seen[m.Candidate] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("got %d distinct candidates, want %d", len(seen), workers*perWorker)
	}
}

func TestRunReturnsEOFWhenPeerCloses(t *testing.T) {
	a, b, _, runErr := pair(t)

	a.Close()

	select {
	case err := <-runErr:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Run = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after peer close")
	}

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Run returned")
	}
}

func TestRunReturnsNilOnLocalClose(t *testing.T) {
	_, b, _, runErr := pair(t)

	b.Close()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after local close")
	}
}

func TestCloseIsIdempotentAndSendAfterCloseIsNoop(t *testing.T) {
	a, _, _, _ := pair(t)

	a.Close()
	a.Close()

	if err := a.Send(protocol.Bye()); err != nil {
		t.Fatalf("Send after close = %v, want nil", err)
	}

	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

// TestCloseFlushesQueuedFrames checks that a bye queued right before Close
// still reaches the peer.
func TestCloseFlushesQueuedFrames(t *testing.T) {
	a, _, got, _ := pair(t)

	a.Send(protocol.Answer("x"))
	a.Send(protocol.Bye())
	a.Close()

	if m := recv(t, got); m.Type != protocol.TypeAnswer {
		t.Fatalf("first message = %+v, want answer", m)
	}
	if m := recv(t, got); m.Type != protocol.TypeBye {
		t.Fatalf("second message = %+v, want bye", m)
	}
}

func TestSendRejectsUnknownType(t *testing.T) {
	a, _, _, _ := pair(t)

	if err := a.Send(protocol.Message{Type: "hello"}); !errors.Is(err, protocol.ErrUnknownType) {
		t.Fatalf("Send = %v, want ErrUnknownType", err)
	}
}
