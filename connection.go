package engine

import (
	"time"

	"golang.org/x/sys/unix"
)

// ConnState is client_session.status: NEW/READING/PROCESSING/RESPONDING/
// KEEPALIVE/CLOSING.
type ConnState int

const (
	StateNew ConnState = iota
	StateReading
	StateProcessing
	StateResponding
	StateKeepalive
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateReading:
		return "READING"
	case StateProcessing:
		return "PROCESSING"
	case StateResponding:
		return "RESPONDING"
	case StateKeepalive:
		return "KEEPALIVE"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// inlineBodyCap is the size of a Connection's fixed inline body buffer;
// a body that outgrows it is promoted to a heap-allocated buffer and
// the inline array is abandoned.
const inlineBodyCap = 4096

// Handler processes a fully parsed Request and must append its response
// Streams to c.Channel() (directly or through c.QueueResponse) before
// returning. The Worker arms WRITE interest only when Streams are pending
// right after OnReadable returns, so Streams queued after the handler
// has returned are not written until a later READ event arms it. This
// is the engine's hook into the otherwise-external HTTP
// handling/static/plugin layers.
type Handler func(c *Connection, r *Request)

// Connection is client_session: one accepted socket's full lifecycle,
// owned by exactly one Worker between accept and close.
type Connection struct {
	FD    int
	State ConnState

	inline     [inlineBodyCap]byte
	heap       []byte // non-nil once promoted past inlineBodyCap
	bodyLen    int

	InitTime     time.Time
	LastActivity time.Time

	RequestsServed       int
	MaxKeepAliveRequests int

	requestList       []*Request
	requestIncomplete *Request

	channel *Channel
	codec   Codec
	handler Handler

	closeReason CloseReason

	// deadlineGen invalidates stale entries in the owning Worker's
	// timeout heap; bumped each time the Worker schedules a fresh
	// deadline for this Connection and again when it closes it.
	deadlineGen int64
}

// NewConnection wraps fd into a fresh Connection in state NEW, ready to
// be registered with READ interest by the accepting Worker.
func NewConnection(fd int, codec Codec, handler Handler, maxKeepAliveRequests int) *Connection {
	now := time.Now()
	return &Connection{
		FD:                   fd,
		State:                StateNew,
		InitTime:             now,
		LastActivity:         now,
		MaxKeepAliveRequests: maxKeepAliveRequests,
		channel:              NewChannel(fd),
		codec:                codec,
		handler:              handler,
	}
}

// Channel returns the Connection's single outbound stream pipeline.
func (c *Connection) Channel() *Channel { return c.channel }

func (c *Connection) touch() { c.LastActivity = time.Now() }

// body returns the currently active body buffer view, whichever of
// inline/heap is in effect.
func (c *Connection) body() []byte {
	if c.heap != nil {
		return c.heap[:c.bodyLen]
	}
	return c.inline[:c.bodyLen]
}

// appendBody grows the body buffer by buf, promoting to a heap
// allocation the moment the inline capacity would be exceeded. No bytes
// are lost across the promotion.
func (c *Connection) appendBody(buf []byte) {
	if c.heap == nil && c.bodyLen+len(buf) <= inlineBodyCap {
		copy(c.inline[c.bodyLen:], buf)
		c.bodyLen += len(buf)
		return
	}
	if c.heap == nil {
		c.heap = make([]byte, 0, c.bodyLen+len(buf)+inlineBodyCap)
		c.heap = append(c.heap, c.inline[:c.bodyLen]...)
	}
	c.heap = append(c.heap, buf...)
	c.bodyLen = len(c.heap)
}

// resetBody discards the first consumed bytes (already parsed), sliding
// any pipelined remainder to the front.
func (c *Connection) resetBody(consumed int) {
	remaining := c.body()[consumed:]
	c.bodyLen = len(remaining)
	if c.heap != nil {
		if c.bodyLen <= inlineBodyCap {
			copy(c.inline[:c.bodyLen], remaining)
			c.heap = nil
		} else {
			c.heap = append(c.heap[:0], remaining...)
		}
	} else {
		copy(c.inline[:c.bodyLen], remaining)
	}
}

// OnReadable is invoked by the Worker when the socket reports READ
// readiness. It drains as much as the socket currently offers, then
// parses as many complete requests as the buffer holds — satisfying the
// "one READ event may produce two complete parses" pipelining scenario.
func (c *Connection) OnReadable() error {
	if c.State == StateKeepalive {
		c.State = StateReading
	}
	c.touch()

	buf := make([]byte, 64*1024)
	for {
		n, err := unix.Read(c.FD, buf)
		if n > 0 {
			c.appendBody(buf[:n])
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			return err
		}
		if n == 0 {
			c.closeReason = ReasonSocketClosed
			c.State = StateClosing
			return nil
		}
		if n < len(buf) {
			break
		}
	}

	return c.parsePending()
}

// parsePending runs the codec over the current body buffer until it
// stops yielding complete requests, queuing each one for processing in
// arrival order.
func (c *Connection) parsePending() error {
	for {
		body := c.body()
		if len(body) == 0 {
			return nil
		}
		result := c.codec.Parse(body)
		switch result.Status {
		case ParseIncomplete:
			c.State = StateReading
			return nil
		case ParseError:
			c.State = StateClosing
			c.channel.Append(NewIOVStream(renderErrorPage(result.ErrorCode, "malformed request"), StreamCallbacks{}))
			return nil
		case ParseComplete:
			req := result.Request
			c.resetBody(result.Consumed)
			c.RequestsServed++
			req.KeepAliveLeft = c.MaxKeepAliveRequests - c.RequestsServed
			c.requestList = append(c.requestList, req)
			c.State = StateProcessing
			if c.handler != nil {
				c.handler(c, req)
			}
			c.State = StateResponding
		}
	}
}

// QueueResponse appends a Request's response Streams to the Channel;
// Handlers call this (directly or via a stored callback) once they have
// rendered headers and body.
func (c *Connection) QueueResponse(streams ...*Stream) {
	for _, s := range streams {
		c.channel.Append(s)
	}
}

// OnWritable is invoked by the Worker when the socket reports WRITE
// readiness; it drains the Channel and applies the post-drain state
// transition (RESPONDING -- channel DONE --> KEEPALIVE or CLOSING).
func (c *Connection) OnWritable() (arm bool, err error) {
	c.touch()
	status, err := c.channel.Write()
	switch status {
	case ChannelFlush:
		return true, nil
	case ChannelError:
		c.closeReason = ReasonSocketError
		c.State = StateClosing
		return false, err
	case ChannelEmpty:
		return false, nil
	case ChannelDone:
		return c.afterResponseDrained(), nil
	}
	return false, nil
}

// afterResponseDrained decides KEEPALIVE vs CLOSING once a response has
// fully drained, honoring the last request's wantsClose verdict
// (including KeepAliveLeft exhaustion).
func (c *Connection) afterResponseDrained() bool {
	if c.State == StateClosing {
		return false
	}
	var last *Request
	if n := len(c.requestList); n > 0 {
		last = c.requestList[n-1]
		c.requestList = c.requestList[:n-1]
	}
	if last != nil && last.wantsClose() {
		c.State = StateClosing
		return false
	}
	c.State = StateKeepalive
	return false
}

// Expired reports whether the Connection has been idle past timeout
// while in a state the Timeout Manager is allowed to reclaim.
func (c *Connection) Expired(now time.Time, timeout time.Duration) bool {
	if c.State != StateReading && c.State != StateKeepalive {
		return false
	}
	return now.Sub(c.LastActivity) > timeout
}

// Close finalizes the Connection, releasing its Channel's pending
// Streams and closing the socket.
func (c *Connection) Close(reason CloseReason) error {
	c.closeReason = reason
	c.State = StateClosing
	if c.channel != nil {
		c.channel.Close()
	}
	return unix.Close(c.FD)
}
