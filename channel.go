package engine

import (
	"container/list"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ChannelStatus is the result of one channel_write invocation. Mirrors
// mk_stream.h's MK_CHANNEL_{DONE,FLUSH,EMPTY,ERROR}.
type ChannelStatus int

const (
	// ChannelDone means every queued Stream is now exhausted and the
	// queue is empty.
	ChannelDone ChannelStatus = iota
	// ChannelFlush means the fd stopped accepting bytes (a partial write
	// or would-block) before the queue drained; the caller must wait for
	// the next WRITE readiness event before calling again.
	ChannelFlush
	// ChannelEmpty means there was nothing queued to write.
	ChannelEmpty
	// ChannelError means the underlying write failed; the channel's
	// owning connection should be closed.
	ChannelError
)

// Channel serializes an ordered sequence of Streams onto one fd,
// preserving byte order across Stream boundaries even when individual
// writes are partial. Mirrors mk_stream.h's struct mk_channel plus the
// outgoing queue gaio's watcher.go keeps per fdDesc via container/list.
type Channel struct {
	fd     int
	queue  list.List // of *Stream, front is the one currently being written
	closed bool
}

// NewChannel returns a Channel writing to fd.
func NewChannel(fd int) *Channel {
	return &Channel{fd: fd}
}

// Append enqueues a Stream for writing, preserving submission order.
func (c *Channel) Append(s *Stream) {
	c.queue.PushBack(s)
}

// Pending reports whether any Stream remains queued.
func (c *Channel) Pending() bool {
	return c.queue.Len() > 0
}

// Write drains as much of the front-of-queue Stream as the fd will
// currently accept without blocking, advancing to subsequent Streams in
// order when one completes within the same call. Mirrors
// mk_channel_write, dispatch-by-type grounded on socket515-gaio's
// tryWrite/deliver pair.
func (c *Channel) Write() (ChannelStatus, error) {
	if c.closed {
		return ChannelError, ErrClosed
	}
	if c.queue.Len() == 0 {
		return ChannelEmpty, nil
	}

	for c.queue.Len() > 0 {
		el := c.queue.Front()
		s := el.Value.(*Stream)

		n, err := c.writeStream(s)
		if n > 0 {
			s.BytesOffset += int64(n)
			s.Callbacks.bytesConsumed(n)
		}
		if err != nil {
			if isWouldBlock(err) {
				return ChannelFlush, nil
			}
			s.Callbacks.exception(err)
			c.closed = true
			return ChannelError, err
		}
		if !s.exhausted() {
			// fd accepted fewer bytes than offered: wait for next
			// writability event before resuming this same Stream.
			return ChannelFlush, nil
		}

		s.Callbacks.ok()
		s.Callbacks.finished()
		c.queue.Remove(el)
		if !s.Preserve {
			s.release()
		}
	}
	return ChannelDone, nil
}

func (c *Channel) writeStream(s *Stream) (int, error) {
	switch s.Type {
	case StreamRAW, StreamPTR:
		return rawWrite(c.fd, s.rawRemaining())
	case StreamIOV:
		return iovWrite(c.fd, s.iovAt())
	case StreamFile:
		return fileWrite(c.fd, s.File, s.BytesOffset, s.BytesTotal-s.BytesOffset)
	case StreamSocket:
		return rawWrite(c.fd, s.rawRemaining())
	default:
		return 0, errors.Errorf("engine: unknown stream type %d", s.Type)
	}
}

// Close releases every still-queued Stream without delivering it, used
// when the owning Connection is torn down mid-response.
func (c *Channel) Close() {
	for c.queue.Len() > 0 {
		el := c.queue.Front()
		s := el.Value.(*Stream)
		c.queue.Remove(el)
		if !s.Preserve {
			s.release()
		}
	}
	c.closed = true
}

// fileWrite transfers up to n bytes from f (at offset off) to fd. On
// Linux this would dispatch to sendfile(2) for a zero-copy path; the
// portable fallback here reads into a bounded scratch buffer and writes
// it through, which every backend supports uniformly.
func fileWrite(fd int, f *os.File, off, n int64) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	const chunk = 64 * 1024
	if n > chunk {
		n = chunk
	}
	buf := make([]byte, n)
	rn, err := f.ReadAt(buf, off)
	if rn == 0 && err != nil && err != io.EOF {
		return 0, err
	}
	if rn == 0 {
		return 0, io.EOF
	}
	return rawWrite(fd, buf[:rn])
}
