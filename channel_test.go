package engine

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func socketPair(t *testing.T) (a, b *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	server := <-accepted
	return client.(*net.TCPConn), server.(*net.TCPConn)
}

func fd(c *net.TCPConn) int {
	raw, _ := c.SyscallConn()
	var out int
	raw.Control(func(fd uintptr) { out = int(fd) })
	return out
}

func TestChannelWriteRawExactFit(t *testing.T) {
	client, server := socketPair(t)
	defer client.Close()
	defer server.Close()

	ch := NewChannel(fd(server))
	var finished bool
	ch.Append(NewRawStream([]byte("hello"), StreamCallbacks{OnFinished: func() { finished = true }}))

	status, err := ch.Write()
	require.NoError(t, err)
	require.Equal(t, ChannelDone, status)
	require.True(t, finished)

	buf := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestChannelWriteEmptyQueue(t *testing.T) {
	_, server := socketPair(t)
	defer server.Close()

	ch := NewChannel(fd(server))
	status, err := ch.Write()
	require.NoError(t, err)
	require.Equal(t, ChannelEmpty, status)
}

func TestChannelPreservesOrderAcrossStreams(t *testing.T) {
	client, server := socketPair(t)
	defer client.Close()
	defer server.Close()

	ch := NewChannel(fd(server))
	ch.Append(NewRawStream([]byte("one-"), StreamCallbacks{}))
	ch.Append(NewRawStream([]byte("two"), StreamCallbacks{}))

	for ch.Pending() {
		status, err := ch.Write()
		require.NoError(t, err)
		if status == ChannelFlush {
			time.Sleep(time.Millisecond)
		}
	}

	buf := make([]byte, 7)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := readFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, "one-two", string(buf[:n]))
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestChannelCloseReleasesQueue(t *testing.T) {
	_, server := socketPair(t)
	defer server.Close()

	ch := NewChannel(fd(server))
	ch.Append(NewRawStream([]byte("x"), StreamCallbacks{}))
	ch.Close()
	require.False(t, ch.Pending())
}
