//go:build linux

package engine

import "golang.org/x/sys/unix"

// tryDeferAccept sets TCP_DEFER_ACCEPT and returns the setsockopt error;
// callers log a failure and carry on.
func tryDeferAccept(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1)
}
