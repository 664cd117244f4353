//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package engine

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// kqueue has no standalone timer fd; a periodic EVFILT_TIMER is
// registered directly against the kqueue instance under a synthetic
// identifier, which this package treats like any other registered fd.
// Synthetic ids are allocated from a high range to avoid colliding with
// real file descriptors (which the OS hands out starting from low
// numbers).
var syntheticTimerID int64 = 1 << 30

func nextSyntheticFD() int {
	return int(atomic.AddInt64(&syntheticTimerID, 1))
}

func (b *kqueueBackend) createTimer(seconds int) (int, error) {
	id := nextSyntheticFD()
	b.markTimer(id)
	ev := []unix.Kevent_t{{
		Ident:  uint64(id),
		Filter: unix.EVFILT_TIMER,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
		Data:   int64(seconds) * 1000, // kqueue timer unit is milliseconds
	}}
	if _, err := unix.Kevent(b.kq, ev, nil, nil); err != nil {
		return 0, err
	}
	return id, nil
}

func (b *kqueueBackend) closeTimer(fd int) error {
	ev := []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_TIMER, Flags: unix.EV_DELETE}}
	_, err := unix.Kevent(b.kq, ev, nil, nil)
	b.unmarkTimer(fd)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func drainTimer(fd int) {
	// EVFILT_TIMER delivers tick counts via the kevent itself; there is
	// nothing further to read from a synthetic id.
}
