package protocol

import (
	"bytes"

	"github.com/1ureka/tinywatch/internal/util"
)

// MaxBufferSize bounds the carried-forward partial frame. A peer that keeps
// streaming bytes without a delimiter loses the whole buffer instead of
// growing it without limit.
const MaxBufferSize = 64 * 1024

// Framer splits a byte stream into control messages. Chunks may be cut at
// any offset; an incomplete trailing fragment is kept until the next Feed.
// Malformed or unknown frames are logged and skipped.
//
// A Framer is owned by a single reader goroutine and needs no locking.
type Framer struct {
	buf        []byte
	discarding bool // skipping the remainder of an oversized frame
}

// NewFramer creates an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed consumes chunk and returns every message completed by it, in order.
// Returns nil if no frame was completed.
func (f *Framer) Feed(chunk []byte) []Message {
	var out []Message

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, Delimiter)
		if i < 0 {
			if !f.discarding {
				f.buf = append(f.buf, chunk...)
				if len(f.buf) > MaxBufferSize {
					f.overflow(len(f.buf))
				}
			}
			return out
		}

		line := chunk[:i]
		chunk = chunk[i+1:]

		// The delimiter ends the oversized frame; resume with the next one.
		if f.discarding {
			f.discarding = false
			continue
		}

		if len(f.buf) > 0 {
			f.buf = append(f.buf, line...)
			line = f.buf
		}

		if len(line) > MaxBufferSize {
			util.LogWarning("dropping oversized signaling frame (%d bytes)", len(line))
			util.Stats.AddDropped()
			f.buf = f.buf[:0]
			continue
		}

		if msg, ok := parseFrame(line); ok {
			out = append(out, msg)
		}
		f.buf = f.buf[:0]
	}

	return out
}

// Buffered returns the size of the carried-forward partial frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// overflow drops the partial frame and skips input up to the next delimiter.
func (f *Framer) overflow(n int) {
	util.LogWarning("signaling buffer exceeded %d bytes (%d buffered), dropping", MaxBufferSize, n)
	util.Stats.AddDropped()
	f.buf = nil
	f.discarding = true
}

// parseFrame decodes one frame. Blank lines are ignored silently; anything
// else that fails to decode is logged and dropped.
func parseFrame(line []byte) (Message, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Message{}, false
	}

	msg, err := Decode(line)
	if err != nil {
		util.LogWarning("dropping signaling frame: %v", err)
		util.Stats.AddDropped()
		return Message{}, false
	}
	return msg, true
}
