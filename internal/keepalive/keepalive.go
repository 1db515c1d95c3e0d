// Package keepalive configures OS-level TCP keepalive on tunnel sockets so
// the server's tenant pool (and the client dialer) can detect a dead peer
// without waiting for an application-level timeout.
package keepalive

import (
	"net"
	"time"
)

// Tuning matches the constants spec.md §4.1/§4.5 name explicitly.
const (
	// Time is the idle duration before the first keepalive probe is sent.
	Time = 30 * time.Second
	// Interval is the spacing between subsequent probes.
	Interval = 10 * time.Second
	// Retries is the number of unanswered probes before the peer is
	// considered dead.
	Retries = 5
)

// Configure enables TCP keepalive on conn with the package's tuning
// constants. It is a no-op (returning nil) for connection types that are
// not *net.TCPConn, since keepalive only has meaning for TCP.
func Configure(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return err
	}
	if err := tc.SetKeepAlivePeriod(Time); err != nil {
		return err
	}
	// Interval/Retries tuning beyond the initial period requires raw
	// socket options on platforms that support them; see keepalive_unix.go.
	return tuneProbes(tc)
}
