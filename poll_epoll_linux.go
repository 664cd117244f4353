//go:build linux

package engine

import (
	"golang.org/x/sys/unix"
)

// epollBackend implements backend on Linux using epoll(7). Grounded on
// joeycumines-go-utilpkg/eventloop/poller_linux.go's FastPoller: the same
// EpollCreate1/EpollCtl/EpollWait sequence, using golang.org/x/sys/unix in
// place of the raw syscall package, since unix is the actively maintained
// surface for these calls.
type epollBackend struct {
	epfd int
}

func newBackend() (backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{epfd: fd}, nil
}

func maskToEpoll(mask EventMask) uint32 {
	var events uint32
	if mask.has(EventRead) {
		events |= unix.EPOLLIN
	}
	if mask.has(EventWrite) {
		events |= unix.EPOLLOUT
	}
	if mask.has(EventEdge) {
		events |= unix.EPOLLET
	}
	// CLOSE is always monitored: epoll reports HUP/ERR without being
	// asked, and RDHUP is requested here so a peer half-close is
	// reported too.
	events |= unix.EPOLLRDHUP
	return events
}

func epollToMask(events uint32) EventMask {
	var mask EventMask
	if events&unix.EPOLLIN != 0 {
		mask |= EventRead
	}
	if events&unix.EPOLLOUT != 0 {
		mask |= EventWrite
	}
	if events&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
		mask |= EventClose
	}
	return mask
}

func (b *epollBackend) add(fd int, mask EventMask) error {
	ev := &unix.EpollEvent{Events: maskToEpoll(mask), Fd: int32(fd)}
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	if err == unix.EEXIST {
		err = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	}
	return err
}

func (b *epollBackend) del(fd int) error {
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (b *epollBackend) wait(buf []rawEvent) (int, error) {
	raw := make([]unix.EpollEvent, len(buf))
	n, err := unix.EpollWait(b.epfd, raw, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		buf[i] = rawEvent{fd: int(raw[i].Fd), mask: epollToMask(raw[i].Events)}
	}
	return n, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}
