package engine

import "time"

// SchedulerMode selects how accepted connections are distributed across
// workers.
type SchedulerMode int

const (
	FairBalancing SchedulerMode = iota
	Reuseport
)

// ListenerConfig is one entry of the configured listener set.
type ListenerConfig struct {
	Address string
	Port    int
}

// Config is the externally supplied configuration surface; loading it
// from a file or flags is out of scope for this package.
type Config struct {
	Workers              int
	Timeout              time.Duration
	KeepAlive            bool
	MaxKeepAliveRequests int
	FDLimit              int
	SchedulerMode        SchedulerMode
	Listeners            []ListenerConfig
}
