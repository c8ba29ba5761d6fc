// Package pump decouples frame production from paced delivery.
//
// A [Pump] pulls frames from its producer on a shared [Scheduler] and hands
// them to the transport through a bounded queue. The transport polls the
// queue on its own clock and never waits for production.
package pump

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Scheduler runs short tasks with bounded parallelism. Tasks never block
// each other beyond waiting for a free worker slot.
type Scheduler struct {
	sem     *semaphore.Weighted
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add against Close.
	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

// NewScheduler creates a scheduler running at most workers tasks at once.
// A non-positive value uses GOMAXPROCS.
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[*time.Timer]struct{}),
	}
}

// Workers returns the parallelism limit.
func (s *Scheduler) Workers() int { return s.workers }

// Submit runs fn as soon as a worker slot is free. Tasks submitted after
// [Scheduler.Close] are dropped.
func (s *Scheduler) Submit(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		fn()
	}()
}

// After submits fn once d has elapsed. Timers still pending when the
// scheduler closes never fire.
func (s *Scheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.Submit(fn)
	})
	s.timers[t] = struct{}{}
}

// Close stops accepting tasks, cancels pending timers and waits for running
// tasks to finish. It is safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
