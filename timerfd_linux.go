//go:build linux

package engine

import "golang.org/x/sys/unix"

// createTimer implements timerCreator for epollBackend using timerfd(2):
// a real file descriptor whose readability indicates one or more elapsed
// ticks, registered in the loop exactly like any other fd.
func (b *epollBackend) createTimer(seconds int) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return 0, err
	}
	spec := &unix.ItimerSpec{
		Interval: unix.NsecToTimespec(int64(seconds) * 1e9),
		Value:    unix.NsecToTimespec(int64(seconds) * 1e9),
	}
	if err := unix.TimerfdSettime(fd, 0, spec, nil); err != nil {
		unix.Close(fd)
		return 0, err
	}
	if err := b.add(fd, EventRead); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

func (b *epollBackend) closeTimer(fd int) error {
	return unix.Close(fd)
}

// drainTimer consumes the 64-bit tick counter so the fd goes back to
// non-readable until the next interval elapses.
func drainTimer(fd int) {
	var buf [8]byte
	unix.Read(fd, buf[:])
}
