package engine

import (
	"sync"

	"github.com/pkg/errors"
)

// backend is the portable contract each concrete multiplexer (epoll,
// kqueue) must satisfy. A Loop delegates to exactly one backend for its
// entire lifetime. Mirrors mk_event.h's mk_event_add/del/wait/translate
// family, kept OS-agnostic the way mk_event.h switches on
// mk_event_epoll.h vs mk_event_kqueue.h.
type backend interface {
	// add registers or modifies fd with mask. Re-registering an already
	// known fd is a modification, not an error.
	add(fd int, mask EventMask) error
	// del removes fd. Idempotent for unknown fds.
	del(fd int) error
	// wait blocks until one or more fds are ready, filling buf and
	// returning the number of events. No timeout parameter: callers
	// cancel a wait via a timer fd or the wakeup channel, never by
	// racing a deadline against this call.
	wait(buf []rawEvent) (int, error)
	// close releases backend resources (epoll/kqueue fd).
	close() error
}

// rawEvent is what a backend fills per ready fd before Loop normalizes
// it against the EFDT and appends an Event to the loop's public batch.
type rawEvent struct {
	fd   int
	mask EventMask
}

// Loop is a single-threaded event loop handle: one backend instance, one
// EFDT share, and a scratch buffer for the most recent Wait. Mirrors
// mk_event_loop_t: {size, n_events, events[size], backend_ctx}.
type Loop struct {
	size int

	be  backend
	fdt *efdt

	rawBuf []rawEvent
	events []Event // last Wait's normalized batch, reused across calls

	mu     sync.Mutex
	closed bool

	wakeR, wakeW int // signal-channel fd pair, see wakeup_*.go
	timerFD      int // periodic timer fd, 0 if none created
}

// LoopCreate allocates a loop with scratch space for up to size ready
// events per Wait call. Mirrors mk_event_loop_create.
func LoopCreate(size int) (*Loop, error) {
	if size <= 0 {
		size = 256 // MK_EVENT_QUEUE_SIZE
	}
	be, err := newBackend()
	if err != nil {
		return nil, errors.Wrap(err, "engine: create backend")
	}
	l := &Loop{
		size:   size,
		be:     be,
		fdt:    newEFDT(size),
		rawBuf: make([]rawEvent, size),
		events: make([]Event, 0, size),
	}
	return l, nil
}

// Add registers or modifies fd in the loop with mask, recording userData
// in the EFDT. Mirrors mk_event_add.
func (l *Loop) Add(fd int, mask EventMask, userData interface{}) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := l.be.add(fd, mask); err != nil {
		return err
	}
	l.fdt.set(fd, mask, userData)
	return nil
}

// Del removes fd from the loop and clears its EFDT entry. Two
// consecutive calls for the same fd are both valid: the second is a
// no-op.
func (l *Loop) Del(fd int) error {
	if fd < 0 {
		return nil
	}
	_ = l.be.del(fd) // backend removal is best-effort/idempotent
	l.fdt.clear(fd)
	return nil
}

// State returns the EFDT's view of fd, for read-only cross-thread
// inspection.
func (l *Loop) State(fd int) (mask EventMask, userData interface{}, ok bool) {
	st, ok := l.fdt.get(fd)
	return st.mask, st.userData, ok
}

// Wait blocks until readiness, filling the loop's internal batch.
// Returns the number of ready (fd, mask) pairs; iterate them with
// Foreach. Mirrors mk_event_wait + mk_event_translate.
func (l *Loop) Wait() (int, error) {
	n, err := l.be.wait(l.rawBuf)
	if err != nil {
		return 0, err
	}
	l.events = l.events[:0]
	for i := 0; i < n; i++ {
		re := l.rawBuf[i]
		st, _ := l.fdt.get(re.fd)
		l.events = append(l.events, Event{FD: re.fd, Mask: re.mask, UserData: st.userData})
	}
	return len(l.events), nil
}

// Foreach iterates the (fd, mask) pairs from the most recent Wait.
func (l *Loop) Foreach(fn func(fd int, mask EventMask, userData interface{})) {
	for _, e := range l.events {
		fn(e.FD, e.Mask, e.UserData)
	}
}

// ChannelCreate returns a pair of fds usable for cross-thread wakeups:
// writes to w are readable on r. The read end is registered in the loop
// with READ interest. Mirrors mk_event_channel_create.
func (l *Loop) ChannelCreate() (r, w int, err error) {
	r, w, err = createWakeup()
	if err != nil {
		return 0, 0, errors.Wrap(err, "engine: create wakeup channel")
	}
	if err := l.Add(r, EventRead, nil); err != nil {
		closeWakeup(r, w)
		return 0, 0, err
	}
	l.wakeR, l.wakeW = r, w
	return r, w, nil
}

// Wakeup writes an 8-byte opcode to the loop's signal channel, waking a
// blocked Wait.
func (l *Loop) Wakeup(opcode uint64) error {
	return writeWakeup(l.wakeW, opcode)
}

func (l *Loop) closeWakeup() {
	if l.wakeR == 0 && l.wakeW == 0 {
		return
	}
	closeWakeup(l.wakeR, l.wakeW)
	l.wakeR, l.wakeW = 0, 0
}

// timerCreator is implemented by backends that can register a periodic
// timer fd (both epollBackend and kqueueBackend do, by different means).
type timerCreator interface {
	createTimer(seconds int) (int, error)
}

type timerCloser interface {
	closeTimer(fd int) error
}

// TimeoutCreate registers a monotonic periodic timer firing every
// seconds; its readability indicates one or more elapsed ticks. Mirrors
// mk_event_timeout_create.
func (l *Loop) TimeoutCreate(seconds int) (int, error) {
	tc, ok := l.be.(timerCreator)
	if !ok {
		return 0, errors.New("engine: backend does not support timers")
	}
	fd, err := tc.createTimer(seconds)
	if err != nil {
		return 0, errors.Wrap(err, "engine: create timer")
	}
	l.timerFD = fd
	l.fdt.set(fd, EventRead, nil)
	return fd, nil
}

func (l *Loop) closeTimer() {
	if l.timerFD == 0 {
		return
	}
	if tc, ok := l.be.(timerCloser); ok {
		_ = tc.closeTimer(l.timerFD)
	}
	l.fdt.clear(l.timerFD)
	l.timerFD = 0
}

// Close tears down the backend and any timer/wakeup fds it owns.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.closeTimer()
	l.closeWakeup()
	return l.be.close()
}
