package engine

import "errors"

// Sentinel errors surfaced by the public API. Internal, per-connection
// failures (would-block, peer reset, parse errors) never reach this
// surface — they are confined to the Connection that produced them.
var (
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("engine: closed")

	// ErrFDOutOfRange is returned by Loop.Add for a negative file
	// descriptor. Large descriptors are accepted: the EFDT grows on
	// demand.
	ErrFDOutOfRange = errors.New("engine: fd out of range")

	// ErrEmptyBuffer names an empty-buffer condition. No function in
	// this package returns it; the Stream constructors accept
	// zero-length buffers and return no error.
	ErrEmptyBuffer = errors.New("engine: empty buffer")

	// ErrOverCapacity names the condition of every worker being at
	// server_capacity. No function in this package returns it; the
	// Scheduler's accept paths close an over-capacity connection and log
	// a warning instead.
	ErrOverCapacity = errors.New("engine: over capacity")

	// ErrUnknownListener names an event arriving on an fd that is not in
	// the listener set. No function in this package returns it; the
	// Worker hands every ready fd with nil user_data (other than its
	// signal and timer fds) to its accept function without checking it
	// against a listener set.
	ErrUnknownListener = errors.New("engine: fd is not a known listener")

	// ErrNoWorkers is returned by NewScheduler when asked to build a
	// scheduler with zero workers.
	ErrNoWorkers = errors.New("engine: scheduler requires at least one worker")
)

// CloseReason records why a Connection transitioned to CLOSING, for
// counters and logging.
type CloseReason int

const (
	ReasonSocketClosed CloseReason = iota
	ReasonSocketError
	ReasonTimeout
	ReasonParseError
	ReasonShutdown
)

func (r CloseReason) String() string {
	switch r {
	case ReasonSocketClosed:
		return "socket_closed"
	case ReasonSocketError:
		return "socket_error"
	case ReasonTimeout:
		return "timeout"
	case ReasonParseError:
		return "parse_error"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
