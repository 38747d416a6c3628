package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPostRunsTask(t *testing.T) {
	s := New(SingleService, nil)
	s.Start(2)
	defer s.Stop()

	done := make(chan struct{})
	s.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("posted task never ran")
	}
}

func TestOneToOneRoundRobinIsStable(t *testing.T) {
	s := New(OneToOne, nil)
	s.Start(3)
	defer s.Stop()

	r1 := s.AcquireIO()
	var ran int32
	r1.Post(func() { atomic.AddInt32(&ran, 1) })
	r1.Post(func() { atomic.AddInt32(&ran, 1) })

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&ran) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt32(&ran); got != 2 {
		t.Fatalf("got %d tasks run on the pinned reactor, want 2", got)
	}
}

func TestActiveUserRefcountGatesWaitIdle(t *testing.T) {
	s := New(SingleService, nil)
	s.Start(1)
	defer s.Stop()

	s.AddActiveUser()
	idleReached := make(chan struct{})
	go func() {
		s.WaitIdle()
		close(idleReached)
	}()

	select {
	case <-idleReached:
		t.Fatalf("WaitIdle returned before the active user released")
	case <-time.After(50 * time.Millisecond):
	}

	s.RemoveActiveUser()

	select {
	case <-idleReached:
	case <-time.After(time.Second):
		t.Fatalf("WaitIdle did not return after the active user released")
	}
}

func TestTaskPanicDoesNotKillReactor(t *testing.T) {
	s := New(SingleService, nil)
	s.Start(1)
	defer s.Stop()

	s.Post(func() { panic("boom") })

	done := make(chan struct{})
	s.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reactor did not survive a panicking task")
	}
}

func TestStopJoinsWorkers(t *testing.T) {
	s := New(SingleService, nil)
	s.Start(4)

	var wg sync.WaitGroup
	wg.Add(1)
	s.Post(func() {
		defer wg.Done()
	})
	wg.Wait()

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("Stop did not return")
	}
}
