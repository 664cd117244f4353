package engine

import (
	"golang.org/x/sys/unix"
)

// rawWrite issues one non-blocking write(2), retrying on EINTR (mirroring
// socket515-gaio's tryWrite retry-on-EINTR loop) and translating EAGAIN
// into (0, errWouldBlock), the "try again later" shape channel.Write
// recognizes via isWouldBlock.
func rawWrite(fd int, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, errWouldBlock
		}
		return n, err
	}
}

// iovWrite issues one non-blocking writev(2) over the still-pending
// scatter/gather slices.
func iovWrite(fd int, iov [][]byte) (int, error) {
	if len(iov) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Writev(fd, iov)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, errWouldBlock
		}
		return n, err
	}
}

var errWouldBlock = errWouldBlockType{}

type errWouldBlockType struct{}

func (errWouldBlockType) Error() string { return "engine: write would block" }

func isWouldBlock(err error) bool {
	_, ok := err.(errWouldBlockType)
	return ok
}
