//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortSupported is true on platforms where SO_REUSEPORT is set;
// SPEC_FULL.md §4.2 requires a silent, Warn-logged fallback elsewhere.
const reusePortSupported = true

// controlReusePort is a net.ListenConfig.Control callback that sets
// SO_REUSEADDR and SO_REUSEPORT on the listening socket before bind, so
// an operator can restart the daemon in place on the same port.
func controlReusePort(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
