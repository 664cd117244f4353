package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubCodec struct {
	results []ParseResult
}

func (s *stubCodec) Parse(buf []byte) ParseResult {
	if len(s.results) == 0 {
		return ParseResult{Status: ParseIncomplete}
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

func (s *stubCodec) RenderHeaders(resp *Request) [][]byte { return nil }

func newTestConnection(codec Codec, h Handler) *Connection {
	return NewConnection(-1, codec, h, 100)
}

func TestAppendBodyStaysInlineAt4096(t *testing.T) {
	c := newTestConnection(&stubCodec{}, nil)
	buf := make([]byte, inlineBodyCap)
	for i := range buf {
		buf[i] = byte(i)
	}
	c.appendBody(buf)
	require.Nil(t, c.heap)
	require.Equal(t, inlineBodyCap, c.bodyLen)
	require.Equal(t, buf, c.body())
}

func TestAppendBodyPromotesAt4097WithoutLoss(t *testing.T) {
	c := newTestConnection(&stubCodec{}, nil)
	buf := make([]byte, inlineBodyCap+1)
	for i := range buf {
		buf[i] = byte(i)
	}
	c.appendBody(buf)
	require.NotNil(t, c.heap)
	require.Equal(t, len(buf), c.bodyLen)
	require.Equal(t, buf, c.body())
}

func TestAppendBodyAcrossTwoWritesPromotes(t *testing.T) {
	c := newTestConnection(&stubCodec{}, nil)
	first := make([]byte, inlineBodyCap-1)
	second := []byte("xx")
	c.appendBody(first)
	require.Nil(t, c.heap)
	c.appendBody(second)
	require.NotNil(t, c.heap)
	require.Equal(t, len(first)+len(second), c.bodyLen)
}

func TestParsePendingHandlesPipelinedRequests(t *testing.T) {
	var handled []*Request
	req1 := &Request{Method: "GET", URIRaw: "/one"}
	req2 := &Request{Method: "GET", URIRaw: "/two"}
	codec := &stubCodec{results: []ParseResult{
		{Status: ParseComplete, Request: req1, Consumed: 5},
		{Status: ParseComplete, Request: req2, Consumed: 5},
		{Status: ParseIncomplete},
	}}
	c := newTestConnection(codec, func(conn *Connection, r *Request) {
		handled = append(handled, r)
	})
	c.appendBody([]byte("01234567890123456789"))

	err := c.parsePending()
	require.NoError(t, err)
	require.Equal(t, []*Request{req1, req2}, handled)
	require.Equal(t, 99, req1.KeepAliveLeft)
	require.Equal(t, 98, req2.KeepAliveLeft)
}

func TestParsePendingOnErrorQueuesSyntheticResponse(t *testing.T) {
	codec := &stubCodec{results: []ParseResult{
		{Status: ParseError, ErrorCode: 400},
	}}
	c := newTestConnection(codec, nil)
	c.appendBody([]byte("garbage"))

	err := c.parsePending()
	require.NoError(t, err)
	require.Equal(t, StateClosing, c.State)
	require.True(t, c.channel.Pending())
}

func TestExpiredOnlyInReadingOrKeepalive(t *testing.T) {
	c := newTestConnection(&stubCodec{}, nil)
	c.State = StateResponding
	c.LastActivity = c.LastActivity.Add(-time.Hour)
	require.False(t, c.Expired(time.Now(), time.Second))

	c.State = StateKeepalive
	require.True(t, c.Expired(time.Now(), time.Second))
}
