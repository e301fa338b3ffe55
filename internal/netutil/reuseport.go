// Package netutil provides the socket-option plumbing cmd/manipulatorctl
// needs around the shared UDP listener: SO_REUSEPORT so a replacement
// process can bind the host port before the outgoing one releases it.
package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReusePortListenConfig returns a net.ListenConfig whose Control callback
// sets SO_REUSEPORT on the listening socket before bind(2) runs, via
// transport.Endpoint's ListenPacket path.
func ReusePortListenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
