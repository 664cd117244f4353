//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package engine

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// createWakeup implements the signal-channel pair on BSD-like systems
// with a non-blocking pipe(2): kqueue has no single-fd eventfd
// equivalent, so the read and write ends are distinct fds, both
// registered the same way a Linux eventfd pair would be.
func createWakeup() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return 0, 0, err
		}
	}
	return fds[0], fds[1], nil
}

func writeWakeup(w int, opcode uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], opcode)
	_, err := unix.Write(w, buf[:])
	return err
}

func readWakeup(r int) (opcode uint64, ok bool) {
	var buf [8]byte
	n, err := unix.Read(r, buf[:])
	if err != nil || n < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}

func closeWakeup(r, w int) error {
	_ = unix.Close(w)
	return unix.Close(r)
}
