//go:build windows

package rest

import (
	"syscall"
)

// reusePort is a no-op here; SO_REUSEPORT does not exist on Windows
func reusePort(network, address string, c syscall.RawConn) error {
	return nil
}
