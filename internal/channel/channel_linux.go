//go:build linux

package channel

import (
	"golang.org/x/sys/unix"
)

// SetReuseAddr enables SO_REUSEADDR on the channel's socket, allowing
// a restarted listener to rebind a port still in TIME_WAIT. Grounded
// on runZeroInc-sockstats' direct golang.org/x/sys/unix use for
// Linux-specific socket tuning (kernel_unix.go), build-tagged the same
// way.
func (c *Channel) SetReuseAddr() error {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
