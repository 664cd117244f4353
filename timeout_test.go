package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, timeout time.Duration) *Worker {
	t.Helper()
	w, err := NewWorker(0, echoCodec{}, nil, 100, timeout, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.loop.Close() })
	return w
}

func TestScheduleDeadlineIncrementsGenerationAndPushes(t *testing.T) {
	w := newTestWorker(t, time.Minute)
	_, server := socketPair(t)
	defer server.Close()
	c := NewConnection(fd(server), echoCodec{}, nil, 100)

	w.scheduleDeadline(c)
	require.EqualValues(t, 1, c.deadlineGen)
	require.Equal(t, 1, w.deadlines.Len())

	w.scheduleDeadline(c)
	require.EqualValues(t, 2, c.deadlineGen)
	require.Equal(t, 2, w.deadlines.Len())
}

func TestSweepTimeoutsDiscardsStaleGeneration(t *testing.T) {
	w := newTestWorker(t, time.Minute)
	_, server := socketPair(t)
	defer server.Close()
	c := NewConnection(fd(server), echoCodec{}, nil, 100)
	w.connections[c.FD] = c

	w.scheduleDeadline(c) // gen 1, now stale
	w.scheduleDeadline(c) // gen 2, current

	// Force both entries into the past so the sweep considers them.
	for _, e := range w.deadlines {
		e.deadline = time.Now().Add(-time.Second)
	}
	c.State = StateKeepalive
	c.LastActivity = time.Now().Add(-time.Hour)

	w.sweepTimeouts()

	// Both entries popped: the stale gen-1 entry discarded, the current
	// gen-2 entry closed the (expired) connection exactly once.
	require.Equal(t, 0, w.deadlines.Len())
	require.EqualValues(t, 1, w.Closed())
	_, stillTracked := w.connections[c.FD]
	require.False(t, stillTracked)
}

func TestSweepTimeoutsReschedulesStillActiveConnection(t *testing.T) {
	w := newTestWorker(t, time.Hour)
	_, server := socketPair(t)
	defer server.Close()
	c := NewConnection(fd(server), echoCodec{}, nil, 100)
	w.connections[c.FD] = c

	w.scheduleDeadline(c)
	w.deadlines[0].deadline = time.Now().Add(-time.Second)
	c.State = StateKeepalive
	c.LastActivity = time.Now() // not idle past the hour-long timeout

	w.sweepTimeouts()

	require.Equal(t, 1, w.deadlines.Len(), "still-active connection should be rescheduled, not dropped")
	require.EqualValues(t, 0, w.Closed())
	_, stillTracked := w.connections[c.FD]
	require.True(t, stillTracked)
}

func TestClosedConnectionDeadlineEntryIsDiscardedNotResurrected(t *testing.T) {
	w := newTestWorker(t, time.Minute)
	_, server := socketPair(t)
	c := NewConnection(fd(server), echoCodec{}, nil, 100)
	w.connections[c.FD] = c

	w.scheduleDeadline(c)

	// Simulate a peer-close/socket-error path closing the connection
	// outside of sweepTimeouts, leaving its trailing heap entry behind.
	c.State = StateClosing
	w.closeConnection(c, ReasonSocketClosed)
	require.EqualValues(t, 1, w.Closed())

	w.deadlines[0].deadline = time.Now().Add(-time.Second)
	w.sweepTimeouts()

	// The stale entry must be discarded, not rescheduled: a resurrected
	// entry would pin the closed *Connection forever and grow the heap
	// by one entry per connection ever closed this way.
	require.Equal(t, 0, w.deadlines.Len())
	require.EqualValues(t, 1, w.Closed(), "sweepTimeouts must not re-close or reschedule an already-closed connection")
}

func TestSweepTimeoutsLeavesFutureEntriesAlone(t *testing.T) {
	w := newTestWorker(t, time.Minute)
	_, server := socketPair(t)
	defer server.Close()
	c := NewConnection(fd(server), echoCodec{}, nil, 100)
	w.connections[c.FD] = c

	w.scheduleDeadline(c) // deadline ~1 minute out, untouched

	w.sweepTimeouts()

	require.Equal(t, 1, w.deadlines.Len())
	require.EqualValues(t, 0, w.Closed())
}
