//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package engine

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueueBackend implements backend on BSD-like systems (including Darwin)
// using kqueue(2). Grounded on
// joeycumines-go-utilpkg/eventloop/poller_darwin.go's FastPoller:
// Kqueue/Kevent/Kevent_t, replacing its fixed dispatch loop with a
// straight readiness translation since this package's Loop (not the
// backend) owns callback dispatch.
//
// kqueue reports read and write readiness as distinct filters
// (EVFILT_READ/EVFILT_WRITE) rather than a single mask, so add/del must
// register or remove both filters implied by mask independently.
type kqueueBackend struct {
	kq int

	timersMu sync.Mutex
	timers   map[int]bool
}

func newBackend() (backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueueBackend{kq: kq, timers: make(map[int]bool)}, nil
}

func (b *kqueueBackend) markTimer(fd int) {
	b.timersMu.Lock()
	b.timers[fd] = true
	b.timersMu.Unlock()
}

func (b *kqueueBackend) unmarkTimer(fd int) {
	b.timersMu.Lock()
	delete(b.timers, fd)
	b.timersMu.Unlock()
}

func (b *kqueueBackend) isTimer(fd int) bool {
	b.timersMu.Lock()
	ok := b.timers[fd]
	b.timersMu.Unlock()
	return ok
}

func (b *kqueueBackend) changeList(fd int, mask EventMask, addFlags, delFlags uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if mask.has(EventRead) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: addFlags})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: delFlags})
	}
	if mask.has(EventWrite) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: addFlags})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: delFlags})
	}
	return changes
}

func (b *kqueueBackend) add(fd int, mask EventMask) error {
	changes := b.changeList(fd, mask, unix.EV_ADD|unix.EV_ENABLE, unix.EV_DELETE)
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	if err == unix.ENOENT {
		// deleting a filter that was never added: ignore, add still won.
		return nil
	}
	return err
}

func (b *kqueueBackend) del(fd int) error {
	if b.isTimer(fd) {
		return b.closeTimer(fd)
	}
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (b *kqueueBackend) wait(buf []rawEvent) (int, error) {
	raw := make([]unix.Kevent_t, len(buf))
	n, err := unix.Kevent(b.kq, nil, raw, nil)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		var mask EventMask
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			mask = EventRead
		case unix.EVFILT_WRITE:
			mask = EventWrite
		case unix.EVFILT_TIMER:
			mask = EventRead
		}
		if raw[i].Flags&unix.EV_EOF != 0 || raw[i].Flags&unix.EV_ERROR != 0 {
			mask |= EventClose
		}
		buf[i] = rawEvent{fd: int(raw[i].Ident), mask: mask}
	}
	return n, nil
}

func (b *kqueueBackend) close() error {
	return unix.Close(b.kq)
}
