package engine

import (
	"os"
	"sync"
)

// StreamType selects which field of Stream holds the payload and how
// channel_write dispatches it. Mirrors mk_stream.h's MK_STREAM_* family.
type StreamType int

const (
	StreamRAW StreamType = iota
	StreamIOV
	StreamPTR
	StreamFile
	StreamSocket
)

// StreamCallbacks is the struct-of-funcs re-expression of mk_stream.h's
// four C function-pointer callbacks. All fields are optional; a zero Callbacks is a
// no-op producer, matching the original's NULL-checked call sites.
type StreamCallbacks struct {
	OnFinished     func()
	OnOK           func()
	OnBytesConsumed func(n int)
	OnException    func(err error)
}

func (c StreamCallbacks) finished() {
	if c.OnFinished != nil {
		c.OnFinished()
	}
}
func (c StreamCallbacks) ok() {
	if c.OnOK != nil {
		c.OnOK()
	}
}
func (c StreamCallbacks) bytesConsumed(n int) {
	if c.OnBytesConsumed != nil {
		c.OnBytesConsumed(n)
	}
}
func (c StreamCallbacks) exception(err error) {
	if c.OnException != nil {
		c.OnException(err)
	}
}

// Stream is one ordered input source feeding a Channel. Invariant:
// 0 <= BytesOffset <= BytesTotal; once BytesOffset == BytesTotal the
// stream is exhausted and is unlinked from its Channel unless Preserve.
// Mirrors mk_stream.h's struct mk_stream.
type Stream struct {
	Type StreamType

	// RAW/PTR source.
	Buffer []byte
	// IOV source: each element is written in order, contiguous with the
	// byte accounting of BytesTotal/BytesOffset across the whole set.
	IOV [][]byte
	// FILE source.
	File   *os.File
	FileFD int

	BytesTotal  int64
	BytesOffset int64

	Preserve bool
	UserData interface{}

	Callbacks StreamCallbacks

	// pooled marks a Stream obtained from the package pool, so Channel
	// knows to return it after delivery (mirrors gaio's aiocbPool use).
	pooled bool
}

var streamPool = sync.Pool{New: func() interface{} { return new(Stream) }}

// NewRawStream returns a pooled Stream wrapping buf as a RAW source.
func NewRawStream(buf []byte, cb StreamCallbacks) *Stream {
	s := streamPool.Get().(*Stream)
	*s = Stream{Type: StreamRAW, Buffer: buf, BytesTotal: int64(len(buf)), Callbacks: cb, pooled: true}
	return s
}

// NewIOVStream returns a pooled Stream wrapping a scatter/gather vector.
func NewIOVStream(iov [][]byte, cb StreamCallbacks) *Stream {
	var total int64
	for _, b := range iov {
		total += int64(len(b))
	}
	s := streamPool.Get().(*Stream)
	*s = Stream{Type: StreamIOV, IOV: iov, BytesTotal: total, Callbacks: cb, pooled: true}
	return s
}

// NewFileStream returns a pooled Stream that transfers size bytes from f
// starting at file offset 0; reads go through ReadAt, so f's own read
// offset is neither used nor moved.
func NewFileStream(f *os.File, size int64, cb StreamCallbacks) *Stream {
	s := streamPool.Get().(*Stream)
	*s = Stream{Type: StreamFile, File: f, FileFD: int(f.Fd()), BytesTotal: size, Callbacks: cb, pooled: true}
	return s
}

func (s *Stream) exhausted() bool { return s.BytesOffset >= s.BytesTotal }

func (s *Stream) release() {
	if s.pooled {
		*s = Stream{}
		streamPool.Put(s)
	}
}

// rawRemaining returns the remaining slice of Buffer to write, starting
// at BytesOffset (RAW/PTR/SOCKET streams; IOV streams use iovAt).
func (s *Stream) rawRemaining() []byte {
	if int64(len(s.Buffer)) < s.BytesOffset {
		return nil
	}
	return s.Buffer[s.BytesOffset:]
}

// iovAt walks the scatter/gather vector and returns the slices still to
// be written, starting at the byte offset given by BytesOffset, trimming
// the head entry so the first returned slice begins exactly there.
func (s *Stream) iovAt() [][]byte {
	remaining := s.BytesOffset
	for i, b := range s.IOV {
		if remaining < int64(len(b)) {
			rest := make([][]byte, 0, len(s.IOV)-i)
			rest = append(rest, b[remaining:])
			rest = append(rest, s.IOV[i+1:]...)
			return rest
		}
		remaining -= int64(len(b))
	}
	return nil
}
