package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRawStreamTracksTotal(t *testing.T) {
	s := NewRawStream([]byte("hello"), StreamCallbacks{})
	defer s.release()

	require.Equal(t, StreamRAW, s.Type)
	require.EqualValues(t, 5, s.BytesTotal)
	require.False(t, s.exhausted())

	s.BytesOffset = 5
	require.True(t, s.exhausted())
}

func TestNewIOVStreamSumsAllEntries(t *testing.T) {
	s := NewIOVStream([][]byte{[]byte("ab"), []byte("cde"), []byte("f")}, StreamCallbacks{})
	defer s.release()

	require.EqualValues(t, 6, s.BytesTotal)
}

func TestIovAtTrimsHeadEntry(t *testing.T) {
	s := NewIOVStream([][]byte{[]byte("abc"), []byte("defg"), []byte("h")}, StreamCallbacks{})
	defer s.release()

	s.BytesOffset = 5 // 3 ("abc") + 2 into "defg"
	rest := s.iovAt()
	require.Len(t, rest, 2)
	require.Equal(t, "fg", string(rest[0]))
	require.Equal(t, "h", string(rest[1]))
}

func TestIovAtAtExactBoundaryStartsNextEntry(t *testing.T) {
	s := NewIOVStream([][]byte{[]byte("abc"), []byte("def")}, StreamCallbacks{})
	defer s.release()

	s.BytesOffset = 3
	rest := s.iovAt()
	require.Len(t, rest, 1)
	require.Equal(t, "def", string(rest[0]))
}

func TestIovAtPastEndReturnsNil(t *testing.T) {
	s := NewIOVStream([][]byte{[]byte("abc")}, StreamCallbacks{})
	defer s.release()

	s.BytesOffset = 3
	require.Nil(t, s.iovAt())
}

func TestRawRemainingSlicesFromOffset(t *testing.T) {
	s := NewRawStream([]byte("abcdef"), StreamCallbacks{})
	defer s.release()

	s.BytesOffset = 2
	require.Equal(t, "cdef", string(s.rawRemaining()))
}

func TestStreamReleaseResetsPooledInstance(t *testing.T) {
	s := NewRawStream([]byte("x"), StreamCallbacks{})
	s.BytesOffset = 1
	s.release()

	reused := streamPool.Get().(*Stream)
	require.Equal(t, Stream{}, *reused)
	streamPool.Put(reused)
}

func TestStreamCallbacksNilSafe(t *testing.T) {
	var cb StreamCallbacks
	require.NotPanics(t, func() {
		cb.finished()
		cb.ok()
		cb.bytesConsumed(3)
		cb.exception(nil)
	})
}

func TestStreamCallbacksFire(t *testing.T) {
	var gotN int
	var gotErr error
	finishedCalled := false
	okCalled := false

	cb := StreamCallbacks{
		OnFinished:      func() { finishedCalled = true },
		OnOK:            func() { okCalled = true },
		OnBytesConsumed: func(n int) { gotN = n },
		OnException:     func(err error) { gotErr = err },
	}

	cb.finished()
	cb.ok()
	cb.bytesConsumed(42)
	sentinel := require.AnError
	cb.exception(sentinel)

	require.True(t, finishedCalled)
	require.True(t, okCalled)
	require.Equal(t, 42, gotN)
	require.Equal(t, sentinel, gotErr)
}
