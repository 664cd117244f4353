package engine

import (
	"fmt"
	"net"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// bindListener opens one listening socket for lc. In REUSEPORT mode it
// uses github.com/kavu/go_reuseport so every worker can bind the same
// address/port with SO_REUSEPORT set (grounded on
// other_examples' evio loopAccept, which binds the same way per loop);
// otherwise it uses a plain net.Listen shared by the balancer. TCP_DEFER_ACCEPT
// is best-effort: failure is logged by the caller, never fatal.
func bindListener(lc ListenerConfig, reuse bool) (*net.TCPListener, error) {
	addr := fmt.Sprintf("%s:%d", lc.Address, lc.Port)
	if reuse {
		ln, err := reuseport.Listen("tcp", addr)
		if err != nil {
			return nil, errors.Wrapf(err, "engine: reuseport listen %s", addr)
		}
		tln, ok := ln.(*net.TCPListener)
		if !ok {
			return nil, errors.Errorf("engine: unexpected listener type for %s", addr)
		}
		return tln, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "engine: listen %s", addr)
	}
	return ln.(*net.TCPListener), nil
}

// listenerFD returns a non-blocking duplicate of a *net.TCPListener's
// raw fd so it can be registered directly with a Loop, outside the net
// package's own runtime poller.
func listenerFD(ln *net.TCPListener) (int, error) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	var ctrlErr error
	err = raw.Control(func(p uintptr) {
		dup, e := unix.Dup(int(p))
		fd, ctrlErr = dup, e
	})
	if err != nil {
		return 0, err
	}
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

