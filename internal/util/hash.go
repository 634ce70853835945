package util

import (
	"hash/fnv"
	"net"
)

// ConnTag computes a 4-byte hash from a TCP connection's local and remote
// addresses. It only tags log lines so that interleaved output from two
// signaling connections can be told apart.
func ConnTag(conn net.Conn) uint32 {
	h := fnv.New32a()
	h.Write([]byte(conn.LocalAddr().String()))
	h.Write([]byte(conn.RemoteAddr().String()))
	return h.Sum32()
}
