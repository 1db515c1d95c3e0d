//go:build linux || darwin || freebsd

package keepalive

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneProbes sets the keepalive interval and probe count on the raw file
// descriptor underlying tc, using the platform-specific TCP socket options.
// This is the one place the package reaches below net.TCPConn's portable
// API, since Go's standard library only exposes the initial idle period.
func tuneProbes(tc *net.TCPConn) error {
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = setKeepaliveSockopts(int(fd))
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

func setKeepaliveSockopts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(Interval.Seconds())); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, Retries)
}
