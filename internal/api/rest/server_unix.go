//go:build !windows

package rest

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePort lets replacement processes bind while the old one drains
func reusePort(network, address string, c syscall.RawConn) error {
	var err error
	c.Control(func(fd uintptr) {
		err = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	return err
}
