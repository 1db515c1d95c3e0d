package server

import (
	"io"
	"net"
	"time"
)

// probeDeadline is how long the readiness probe below waits for a byte that
// will never arrive before concluding the socket is merely idle, not dead.
const probeDeadline = time.Millisecond

// alive reports whether conn still looks like a live, connected socket.
// It performs a zero-expectation read with a very short deadline: a dead
// peer (keepalive having marked the socket write-closed, or the peer
// having reset the connection) surfaces as io.EOF or a closed-connection
// error immediately; a live-but-idle peer surfaces as a timeout, which is
// not a failure. The read deadline is always cleared before returning so a
// socket handed back to a caller is never left with a stale deadline.
func alive(conn net.Conn) bool {
	defer conn.SetReadDeadline(time.Time{})

	if err := conn.SetReadDeadline(time.Now().Add(probeDeadline)); err != nil {
		return false
	}

	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	switch {
	case err == nil:
		// Unexpected data on an otherwise-idle tunnel socket; still alive.
		return true
	case err == io.EOF:
		return false
	default:
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return true
		}
		return false
	}
}
