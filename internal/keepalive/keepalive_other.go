//go:build !linux && !darwin && !freebsd

package keepalive

import "net"

// tuneProbes is a no-op on platforms where golang.org/x/sys/unix does not
// expose per-probe TCP keepalive socket options; SetKeepAlivePeriod in
// keepalive.go still applies.
func tuneProbes(tc *net.TCPConn) error {
	return nil
}
