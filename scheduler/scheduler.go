// Package scheduler owns the worker pool(s) that run posted tasks,
// tracks an active-user refcount so shutdown can wait for every
// subsystem that asked to stay alive, and exposes a reactor handle a
// connection can pin itself to for its lifetime.
//
// A "reactor" here is a goroutine draining a task channel, and
// "posting" a task is a channel send — Go's runtime already
// multiplexes blocking I/O across OS threads for free, so this
// package's job is purely to model the ordering/affinity guarantees a
// connection needs (serial execution per connection, an explicit
// active-user refcount for graceful shutdown), not to implement
// epoll/kqueue by hand.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Mode selects between the two worker-pool topologies of spec §4.1.
type Mode int

const (
	// SingleService is one shared task queue drained by N workers.
	SingleService Mode = iota
	// OneToOne is N independent task queues, each drained by exactly
	// one worker; Reactor handles returned by AcquireIO are assigned
	// round-robin and pin a connection to one queue for its life.
	OneToOne
)

// keepAliveInterval is how often each worker's keep-alive ticker
// fires. Go's channel
// receive loop does not need prodding to stay alive the way an idle
// asio io_service does; the ticker only wakes the worker's select loop,
// which then does nothing. Sleep and Stop do not depend on it: both
// observe stopCh.
const keepAliveInterval = 5 * time.Second

// Scheduler is the spec §4.1 contract: start/stop a worker pool, post
// tasks, acquire a pinned reactor handle, and track active users.
type Scheduler struct {
	mode    Mode
	log     logrus.FieldLogger
	workers []*reactor

	mu      sync.Mutex
	running bool
	active  int64

	noMoreActiveUsers *sync.Cond
	stopped           *sync.Cond

	rr uint64 // round-robin cursor for OneToOne AcquireIO

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// reactor is one worker's task queue plus the goroutine draining it.
type reactor struct {
	id    int
	tasks chan func()
}

// New creates a Scheduler in the given mode. log may be nil, in which
// case logrus.StandardLogger() is used (ambient logging stack, see
// SPEC_FULL.md).
func New(mode Mode, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Scheduler{mode: mode, log: log}
	s.noMoreActiveUsers = sync.NewCond(&s.mu)
	s.stopped = sync.NewCond(&s.mu)
	return s
}

// Start spawns n worker goroutines (n reactors in OneToOne mode, n
// workers sharing one reactor in SingleService mode) and installs the
// keep-alive ticker.
func (s *Scheduler) Start(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	switch s.mode {
	case SingleService:
		shared := &reactor{id: 0, tasks: make(chan func(), 256)}
		s.workers = []*reactor{shared}
		for i := 0; i < n; i++ {
			s.wg.Add(1)
			go s.runWorker(shared)
		}
	case OneToOne:
		s.workers = make([]*reactor, n)
		for i := 0; i < n; i++ {
			r := &reactor{id: i, tasks: make(chan func(), 256)}
			s.workers[i] = r
			s.wg.Add(1)
			go s.runWorker(r)
		}
	}
	s.mu.Unlock()
}

// runWorker is one reactor's loop: drain tasks, recover from panics,
// and exit once stopCh closes and the queue has drained.
func (s *Scheduler) runWorker(r *reactor) {
	defer s.wg.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case task, ok := <-r.tasks:
			if !ok {
				return
			}
			s.runTask(task)
		case <-ticker.C:
			// keep-reactor-alive: nothing to do, just loop.
		case <-s.stopCh:
			s.drain(r)
			return
		}
	}
}

// drain runs any tasks already queued before exiting, so a Stop()
// call doesn't strand posted work.
func (s *Scheduler) drain(r *reactor) {
	for {
		select {
		case task := <-r.tasks:
			s.runTask(task)
		default:
			return
		}
	}
}

func (s *Scheduler) runTask(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.WithField("panic", rec).Error("scheduler: task panicked")
		}
	}()
	task()
}

// Stop cancels all reactors, drains pending tasks and joins every
// worker goroutine. It does not wait for active users to reach zero;
// callers that need that guarantee call WaitIdle first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.workers = nil
	s.stopped.Broadcast()
	s.mu.Unlock()
}

// WaitIdle blocks until the active-user refcount drops to zero.
func (s *Scheduler) WaitIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.active > 0 {
		s.noMoreActiveUsers.Wait()
	}
}

// AddActiveUser increments the refcount that must reach zero before
// WaitIdle returns.
func (s *Scheduler) AddActiveUser() { atomic.AddInt64(&s.active, 1) }

// RemoveActiveUser decrements the refcount, waking WaitIdle if it
// reaches zero.
func (s *Scheduler) RemoveActiveUser() {
	if atomic.AddInt64(&s.active, -1) == 0 {
		s.mu.Lock()
		s.noMoreActiveUsers.Broadcast()
		s.mu.Unlock()
	}
}

// Post enqueues a zero-arg task and returns immediately (spec §4.1
// "post(task)"). In OneToOne mode this round-robins across reactors;
// use a Reactor handle from AcquireIO to pin work to one queue.
func (s *Scheduler) Post(task func()) {
	s.AcquireIO().Post(task)
}

// Reactor is a stable handle to one of the scheduler's task queues,
// used to pin a connection's continuations to a single worker for its
// lifetime.
type Reactor struct {
	id    int
	tasks chan func()
}

// Post enqueues task onto this specific reactor's queue.
func (r *Reactor) Post(task func()) {
	select {
	case r.tasks <- task:
	default:
		// Queue briefly full: block rather than drop, since dropping
		// a connection's continuation would strand it mid-request.
		r.tasks <- task
	}
}

// AcquireIO returns a reactor handle (spec §4.1 "acquire_io()"). In
// OneToOne mode this round-robins across the N reactors; in
// SingleService mode every call returns the one shared reactor.
func (s *Scheduler) AcquireIO() *Reactor {
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()
	if len(workers) == 0 {
		return &Reactor{}
	}
	if s.mode == SingleService {
		return &Reactor{id: workers[0].id, tasks: workers[0].tasks}
	}
	idx := int(atomic.AddUint64(&s.rr, 1)-1) % len(workers)
	w := workers[idx]
	return &Reactor{id: w.id, tasks: w.tasks}
}

// Sleep parks the calling goroutine for d, or until the scheduler
// stops, whichever comes first (spec §4.1 "sleep(duration)").
func (s *Scheduler) Sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.stopCh:
	}
}
