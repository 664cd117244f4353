// Package engine implements the concurrency and I/O core of an HTTP/1.1
// server: a portable readiness-event multiplexer, a multi-worker scheduler,
// a per-connection state machine with an ordered stream-writing channel,
// and a timeout/keep-alive manager.
//
// The package acts as a reactor: callers register file descriptors for
// readiness and the Worker event loop drives Connections to completion
// through non-blocking reads and writes. HTTP parsing, TLS, virtual-host
// resolution, static file access, and plugin dispatch are external
// collaborators described by the interfaces in codec.go, static.go and
// plugin.go — their implementations live outside this package.
package engine
