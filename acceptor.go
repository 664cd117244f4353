package engine

import (
	"golang.org/x/sys/unix"
)

// acceptOne performs one accept4-style non-blocking accept on a
// listening fd. transient reports whether err is a recoverable
// condition (EAGAIN/EINTR/ECONNABORTED/EMFILE/ENFILE) the caller should silently
// retry on the next readiness event rather than tearing down the
// listener.
func acceptOne(listenFD int) (fd int, transient bool, err error) {
	fd, _, err = unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err == nil {
		return fd, false, nil
	}
	switch err {
	case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED, unix.EMFILE, unix.ENFILE:
		return 0, true, err
	default:
		return 0, false, err
	}
}

// acceptAndAdopt is the shared tail of the Acceptor handler: given a successfully accepted fd and a target Worker, install
// a Connection and register it with READ interest.
func acceptAndAdopt(w *Worker, fd int) error {
	c := NewConnection(fd, w.codec, w.handler, w.maxKeepAliveRequests)
	if err := w.Adopt(c); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}
