package transport

import (
	"net"
	"time"

	"github.com/1ureka/tinywatch/internal/util"
)

const (
	sendBufferSize = 64              // outgoing frame channel capacity
	writeTimeout   = 5 * time.Second // per-frame write deadline
)

// sender is a goroutine-based frame writer that serializes all writes to a
// single stream. Frames are written in the order they were enqueued.
type sender struct {
	inbox    chan []byte
	quit     chan struct{}
	finished chan struct{}
	log      util.Logger
}

func newSender(raw net.Conn, log util.Logger) *sender {
	s := &sender{
		inbox:    make(chan []byte, sendBufferSize),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
		log:      log,
	}

	go s.loop(raw)

	return s
}

// loop is the single-writer goroutine. After quit it flushes whatever is
// still queued, then exits.
func (s *sender) loop(raw net.Conn) {
	defer close(s.finished)

	for {
		select {
		case data := <-s.inbox:
			if !s.write(raw, data) {
				return
			}
		case <-s.quit:
			for {
				select {
				case data := <-s.inbox:
					if !s.write(raw, data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *sender) write(raw net.Conn, data []byte) bool {
	_ = raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := raw.Write(data); err != nil {
		s.log.Debugf("write failed: %v", err)
		return false
	}
	util.Stats.AddFrameOut()
	return true
}

// send enqueues a frame. It blocks while the inbox is full and returns
// false once the sender has been stopped.
func (s *sender) send(data []byte) bool {
	select {
	case <-s.quit:
		return false
	default:
	}

	select {
	case s.inbox <- data:
		return true
	case <-s.quit:
		return false
	}
}

// stop asks the loop to flush and exit, then waits for it.
func (s *sender) stop() {
	close(s.quit)
	<-s.finished
}
