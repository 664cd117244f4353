package engine

import (
	"log"
	"time"

	"github.com/pkg/errors"
)

// Server is the top-level wiring of Scheduler, Workers and Acceptor
// into one process-wide handle, mirroring mk_server.c's
// mk_server_loop/mk_server_launch_workers entry points.
type Server struct {
	cfg       Config
	scheduler *Scheduler
	Logger    *log.Logger
}

// NewServer builds (but does not start) a Server from cfg, wiring codec
// and handler as the collaborators invoked per Connection.
func NewServer(cfg Config, codec Codec, handler Handler, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	sched, err := NewScheduler(cfg, codec, handler, logger)
	if err != nil {
		return nil, errors.Wrap(err, "engine: new server")
	}
	return &Server{cfg: cfg, scheduler: sched, Logger: logger}, nil
}

// ListenAndServe binds every configured listener and launches the
// worker pool (and balancer, in FAIR_BALANCING mode). It returns once
// startup is complete; Workers continue running in their own
// goroutines.
func (srv *Server) ListenAndServe() error {
	if err := srv.scheduler.Start(); err != nil {
		return errors.Wrap(err, "engine: start")
	}
	srv.Logger.Printf("engine: listening on %d address(es) with %d worker(s), mode=%v",
		len(srv.cfg.Listeners), srv.cfg.Workers, srv.cfg.SchedulerMode)
	return nil
}

// Shutdown posts FREE_ALL to every worker and then sleeps for grace
// before returning; it does not join the worker goroutines or check
// that they have exited.
func (srv *Server) Shutdown(grace time.Duration) {
	srv.scheduler.Shutdown(grace)
}
