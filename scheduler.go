package engine

import (
	"log"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Scheduler owns the fixed pool of Workers and, in FAIR_BALANCING mode,
// a dedicated balancer that accepts on behalf of all of them. Mirrors
// mk_server.c's launch/balance/worker-loop split, generalized to the two
// selectable modes.
type Scheduler struct {
	mode     SchedulerMode
	workers  []*Worker
	balancer *Worker // non-nil only in FAIR_BALANCING mode

	capacity        int // server_capacity
	perWorkerCap    int

	listeners []ListenerConfig

	codec   Codec
	handler Handler
	logger  *log.Logger
}

// serverCapacity computes min(configured fd limit, RLIMIT_NOFILE).
func serverCapacity(configured int) int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return configured
	}
	hard := int(rl.Cur)
	if configured <= 0 || hard < configured {
		return hard
	}
	return configured
}

// NewScheduler builds a Scheduler with cfg.Workers Workers, each with
// its own Loop, signal channel and timer. Listeners are not yet bound;
// call Start to bind and begin accepting.
func NewScheduler(cfg Config, codec Codec, handler Handler, logger *log.Logger) (*Scheduler, error) {
	if cfg.Workers <= 0 {
		return nil, ErrNoWorkers
	}
	if logger == nil {
		logger = log.Default()
	}
	capacity := serverCapacity(cfg.FDLimit)
	perWorker := (capacity + cfg.Workers - 1) / cfg.Workers

	s := &Scheduler{
		mode:         cfg.SchedulerMode,
		capacity:     capacity,
		perWorkerCap: perWorker,
		listeners:    cfg.Listeners,
		codec:        codec,
		handler:      handler,
		logger:       logger,
	}

	for i := 0; i < cfg.Workers; i++ {
		w, err := NewWorker(i, codec, handler, cfg.MaxKeepAliveRequests, cfg.Timeout, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "engine: build worker %d", i)
		}
		s.workers = append(s.workers, w)
	}

	if s.mode == FairBalancing {
		b, err := NewWorker(-1, codec, handler, cfg.MaxKeepAliveRequests, cfg.Timeout, logger)
		if err != nil {
			return nil, errors.Wrap(err, "engine: build balancer")
		}
		s.balancer = b
	}

	return s, nil
}

// pickWorker selects the worker with the lowest active_connections,
// ties broken by worker index. Returns nil if every worker is already
// at its per-worker capacity.
func (s *Scheduler) pickWorker() *Worker {
	var best *Worker
	var bestLoad int64
	for _, w := range s.workers {
		load := w.ActiveConnections()
		if load >= int64(s.perWorkerCap) {
			continue
		}
		if best == nil || load < bestLoad {
			best, bestLoad = w, load
		}
	}
	return best
}

// Start binds every configured listener, wires the accept path for the
// selected mode, and launches every Worker (and the balancer, if any) in
// its own goroutine.
func (s *Scheduler) Start() error {
	reuse := s.mode == Reuseport

	if reuse {
		for i, w := range s.workers {
			for _, lc := range s.listeners {
				ln, err := bindListener(lc, true)
				if err != nil {
					return err
				}
				fd, err := listenerFD(ln)
				if err != nil {
					return err
				}
				if err := tryDeferAccept(fd); err != nil {
					s.logger.Printf("engine: TCP_DEFER_ACCEPT unsupported for worker %d: %v", i, err)
				}
				if err := w.RegisterListener(fd, s.acceptSelf); err != nil {
					return err
				}
			}
		}
		for _, w := range s.workers {
			go w.Run()
		}
		for _, w := range s.workers {
			waitInitialized(w)
			_ = w.Signal(SignalStart)
		}
		return nil
	}

	for _, lc := range s.listeners {
		ln, err := bindListener(lc, false)
		if err != nil {
			return err
		}
		fd, err := listenerFD(ln)
		if err != nil {
			return err
		}
		if err := tryDeferAccept(fd); err != nil {
			s.logger.Printf("engine: TCP_DEFER_ACCEPT unsupported: %v", err)
		}
		if err := s.balancer.RegisterListener(fd, s.acceptDispatch); err != nil {
			return err
		}
	}
	for _, w := range s.workers {
		go w.Run()
	}
	go s.balancer.Run()
	waitInitialized(s.balancer)
	_ = s.balancer.Signal(SignalStart)
	return nil
}

// waitInitialized spin-polls a worker's boot flag, the "only mutex
// covers worker-boot handshake" pattern: a brief, cheap poll rather
// than a condition variable so startup never adds a suspension point
// to the steady-state loop.
func waitInitialized(w *Worker) {
	for !w.Initialized() {
		time.Sleep(time.Millisecond)
	}
}

// acceptSelf is the REUSEPORT accept path: the worker that owns the
// ready listener accepts and adopts the connection itself.
func (s *Scheduler) acceptSelf(w *Worker, listenFD int) {
	if !w.Started() {
		return
	}
	for {
		fd, transient, err := acceptOne(listenFD)
		if transient {
			return
		}
		if err != nil {
			s.logger.Printf("engine: accept error on worker %d: %v", w.Idx, err)
			return
		}
		if w.ActiveConnections() >= int64(s.perWorkerCap) {
			_ = unix.Close(fd)
			s.logger.Printf("engine: worker %d over capacity, rejecting accept", w.Idx)
			continue
		}
		if err := acceptAndAdopt(w, fd); err != nil {
			s.logger.Printf("engine: adopt failed: %v", err)
		}
	}
}

// acceptDispatch is the FAIR_BALANCING accept path: the balancer
// accepts and hands the fd to whichever worker is least loaded.
func (s *Scheduler) acceptDispatch(_ *Worker, listenFD int) {
	for {
		fd, transient, err := acceptOne(listenFD)
		if transient {
			return
		}
		if err != nil {
			s.logger.Printf("engine: balancer accept error: %v", err)
			return
		}
		target := s.pickWorker()
		if target == nil {
			_ = unix.Close(fd)
			s.logger.Printf("engine: over capacity, rejecting accept")
			continue
		}
		if err := acceptAndAdopt(target, fd); err != nil {
			s.logger.Printf("engine: adopt failed: %v", err)
		}
	}
}

// Shutdown posts FREE_ALL to every worker (and the balancer) and then
// sleeps for the whole grace period; it does not wait for the workers
// to confirm that they have exited.
func (s *Scheduler) Shutdown(grace time.Duration) {
	for _, w := range s.workers {
		_ = w.Signal(SignalFreeAll)
	}
	if s.balancer != nil {
		_ = s.balancer.Signal(SignalFreeAll)
	}
	time.Sleep(grace)
}
