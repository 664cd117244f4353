package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Signal opcodes carried over a Worker's 8-byte signal channel.
const (
	SignalStart uint64 = iota + 1
	SignalSyncCounters
	SignalFreeAll
)

// Worker owns one event loop, one signal channel, one timer fd and its
// connection map. Mirrors sched_list_node; grounded on socket515-gaio's
// watcher.loop() for the wait/dispatch shape, re-targeted at this
// package's Connection/Channel model instead of raw aiocbs.
type Worker struct {
	Idx int

	loop       *Loop
	signalR    int
	timerFD    int
	timeout    time.Duration

	connections map[int]*Connection
	deadlines   deadlineHeap

	accepted int64 // atomic
	closed   int64 // atomic

	initialized int32 // atomic bool, polled by the Scheduler boot handshake

	codec   Codec
	handler Handler

	maxKeepAliveRequests int

	logger *log.Logger

	acceptFn func(w *Worker, fd int) // set by the Scheduler/Acceptor for listener fds

	mu      sync.Mutex
	started bool
}

// NewWorker allocates a Worker with its own Loop, signal channel, and
// periodic timer registered for the given timeout tick.
func NewWorker(idx int, codec Codec, handler Handler, maxKeepAliveRequests int, timeout time.Duration, logger *log.Logger) (*Worker, error) {
	loop, err := LoopCreate(1024)
	if err != nil {
		return nil, errors.Wrap(err, "engine: worker loop")
	}
	r, _, err := loop.ChannelCreate()
	if err != nil {
		loop.Close()
		return nil, errors.Wrap(err, "engine: worker signal channel")
	}
	tickSeconds := int(timeout.Seconds())
	if tickSeconds < 1 {
		tickSeconds = 1
	}
	timerFD, err := loop.TimeoutCreate(tickSeconds)
	if err != nil {
		loop.Close()
		return nil, errors.Wrap(err, "engine: worker timer")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		Idx:                  idx,
		loop:                 loop,
		signalR:              r,
		timerFD:              timerFD,
		timeout:              timeout,
		connections:          make(map[int]*Connection),
		codec:                codec,
		handler:              handler,
		maxKeepAliveRequests: maxKeepAliveRequests,
		logger:               logger,
	}, nil
}

// Signal posts an opcode to this Worker's signal channel, waking its
// blocked Wait.
func (w *Worker) Signal(opcode uint64) error {
	return w.loop.Wakeup(opcode)
}

// Initialized reports whether Run has been entered at least once; the
// Scheduler's boot handshake polls this before declaring startup
// complete.
func (w *Worker) Initialized() bool {
	return atomic.LoadInt32(&w.initialized) != 0
}

// Started reports whether this worker has received SignalStart, the
// REUSEPORT-mode gate on accepting.
func (w *Worker) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// ActiveConnections is accepted-closed, the Scheduler's load metric.
// Racy reads from another goroutine are intentional and benign.
func (w *Worker) ActiveConnections() int64 {
	return atomic.LoadInt64(&w.accepted) - atomic.LoadInt64(&w.closed)
}

// Accepted/Closed expose the monotonic counters for SYNC_COUNTERS
// snapshots.
func (w *Worker) Accepted() int64 { return atomic.LoadInt64(&w.accepted) }
func (w *Worker) Closed() int64   { return atomic.LoadInt64(&w.closed) }

// Adopt registers an already-accepted Connection in this Worker's loop
// and map, incrementing accepted_connections. Called by the Acceptor
// once it has handed a new fd to its chosen Worker.
func (w *Worker) Adopt(c *Connection) error {
	if err := w.loop.Add(c.FD, EventRead, c.FD); err != nil {
		return err
	}
	w.connections[c.FD] = c
	atomic.AddInt64(&w.accepted, 1)
	w.scheduleDeadline(c)
	return nil
}

// RegisterListener marks fd as a listening socket this Worker should
// hand to acceptFn on READ readiness (used by both scheduler modes:
// only the balancer worker in FAIR_BALANCING, every worker in
// REUSEPORT). Listener fds carry nil user_data, the same as the timer
// and signal fds, and are told apart from those in Run's dispatch by
// fd equality checked first.
func (w *Worker) RegisterListener(fd int, accept func(w *Worker, fd int)) error {
	w.acceptFn = accept
	return w.loop.Add(fd, EventRead, nil)
}

// Run is the Worker's main routine: block on wait, dispatch
// each ready (fd, mask) pair, repeat until FREE_ALL.
func (w *Worker) Run() {
	atomic.StoreInt32(&w.initialized, 1)
	for {
		if _, err := w.loop.Wait(); err != nil {
			w.logger.Printf("engine: worker %d wait error: %v", w.Idx, err)
			return
		}
		stop := false
		w.loop.Foreach(func(fd int, mask EventMask, userData interface{}) {
			switch {
			case fd == w.signalR:
				if w.handleSignal() {
					stop = true
				}
			case fd == w.timerFD:
				w.handleTimerTick()
			case userData == nil && fd != w.signalR:
				w.handleListener(fd)
			default:
				w.handleConnectionEvent(fd, mask)
			}
		})
		if stop {
			return
		}
	}
}

func (w *Worker) handleSignal() (stop bool) {
	for {
		opcode, ok := readWakeup(w.signalR)
		if !ok {
			return false
		}
		switch opcode {
		case SignalStart:
			w.mu.Lock()
			w.started = true
			w.mu.Unlock()
		case SignalSyncCounters:
			// counters are already atomics; nothing further to publish
			// here, the Scheduler reads them directly.
		case SignalFreeAll:
			w.shutdown()
			return true
		}
	}
}

func (w *Worker) handleTimerTick() {
	drainTimer(w.timerFD)
	w.sweepTimeouts()
}

func (w *Worker) handleListener(fd int) {
	if w.acceptFn != nil {
		w.acceptFn(w, fd)
	}
}

func (w *Worker) handleConnectionEvent(fd int, mask EventMask) {
	c, ok := w.connections[fd]
	if !ok {
		return
	}
	if mask.has(EventClose) {
		w.closeConnection(c, ReasonSocketClosed)
		return
	}
	if mask.has(EventRead) {
		if err := c.OnReadable(); err != nil {
			w.closeConnection(c, ReasonSocketError)
			return
		}
		w.scheduleDeadline(c)
		if c.channel.Pending() {
			w.armWrite(c)
		}
	}
	if c.State == StateClosing {
		if !c.channel.Pending() {
			w.closeConnection(c, c.closeReason)
		}
		return
	}
	if mask.has(EventWrite) {
		arm, err := c.OnWritable()
		if err != nil {
			w.closeConnection(c, ReasonSocketError)
			return
		}
		if !arm {
			w.disarmWrite(c)
		}
		if c.State == StateClosing && !c.channel.Pending() {
			w.closeConnection(c, c.closeReason)
			return
		}
		if c.State == StateKeepalive {
			w.scheduleDeadline(c)
		}
	}
}

func (w *Worker) armWrite(c *Connection) {
	_ = w.loop.Add(c.FD, EventRead|EventWrite, c.FD)
}

func (w *Worker) disarmWrite(c *Connection) {
	_ = w.loop.Add(c.FD, EventRead, c.FD)
}

func (w *Worker) closeConnection(c *Connection, reason CloseReason) {
	delete(w.connections, c.FD)
	_ = w.loop.Del(c.FD)
	_ = c.Close(reason)
	// Bump past whatever generation is still sitting in the heap so any
	// trailing deadlineEntry for this connection is discarded as stale
	// by sweepTimeouts instead of being treated as live and rescheduled
	// forever.
	c.deadlineGen++
	atomic.AddInt64(&w.closed, 1)
}

// shutdown drains and frees every Connection this Worker owns, per
// FREE_ALL.
func (w *Worker) shutdown() {
	for fd, c := range w.connections {
		_ = c.Close(ReasonShutdown)
		_ = w.loop.Del(fd)
		atomic.AddInt64(&w.closed, 1)
	}
	w.connections = make(map[int]*Connection)
	_ = w.loop.Close()
}
