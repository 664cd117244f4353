//go:build linux

package engine

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// createWakeup implements the signal-channel pair for Linux using a
// single eventfd(2) as both ends, grounded on
// joeycumines-go-utilpkg/eventloop/wakeup_linux.go's createWakeFd. Writes
// to the fd are readable on the same fd; payload unit is 8 bytes.
func createWakeup() (r, w int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return 0, 0, err
	}
	return fd, fd, nil
}

func writeWakeup(w int, opcode uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], opcode)
	_, err := unix.Write(w, buf[:])
	return err
}

// readWakeup reads the next pending 8-byte opcode, or ok=false if the
// eventfd counter was already drained by a concurrent waker.
func readWakeup(r int) (opcode uint64, ok bool) {
	var buf [8]byte
	n, err := unix.Read(r, buf[:])
	if err != nil || n < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}

func closeWakeup(r, w int) error {
	return unix.Close(r)
}
