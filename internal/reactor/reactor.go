// Package reactor runs commands and light periodic work on one goroutine.
//
// Everything that mutates player state is funneled through a [Loop], so
// operations on a session are serialized without per-player locks.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned for calls submitted after the loop stopped.
	ErrClosed = errors.New("reactor: loop closed")

	// ErrPanic wraps a panic recovered from a called function.
	ErrPanic = errors.New("reactor: task panicked")
)

// DefaultQueue is the command queue length.
const DefaultQueue = 256

type task struct {
	fn   func()
	done chan struct{}
	err  *error
}

// Loop executes submitted functions in order on a single goroutine.
type Loop struct {
	log   *slog.Logger
	tasks chan task

	beat    atomic.Int64 // unix nanos of the last processed task or tick
	running atomic.Bool

	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// New creates a loop. Call [Loop.Run] to start it.
func New(log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		log:   log,
		tasks: make(chan task, DefaultQueue),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled or [Loop.Stop] is called.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer func() {
		l.running.Store(false)
		close(l.done)
	}()
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()
	l.beat.Store(time.Now().UnixNano())

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return nil
		case <-l.quit:
			return nil
		case t := <-l.tasks:
			l.exec(t)
		case now := <-heartbeat.C:
			l.beat.Store(now.UnixNano())
		}
	}
}

func (l *Loop) exec(t task) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("reactor: task panicked", "err", fmt.Sprint(r))
			if t.err != nil {
				*t.err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}
		if t.done != nil {
			close(t.done)
		}
	}()
	t.fn()
	l.beat.Store(time.Now().UnixNano())
}

// Stop ends Run. Pending tasks are dropped and their callers get ErrClosed.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

// Done is closed when Run returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post queues fn without waiting for it.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.quit:
		return ErrClosed
	default:
	}
	select {
	case l.tasks <- task{fn: fn}:
		return nil
	case <-l.quit:
		return ErrClosed
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	var perr error
	t := task{fn: fn, done: make(chan struct{}), err: &perr}
	select {
	case <-l.quit:
		return ErrClosed
	default:
	}
	select {
	case l.tasks <- t:
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return perr
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the loop and returns its result.
func Do[T any](ctx context.Context, l *Loop, fn func() (T, error)) (T, error) {
	var (
		res T
		err error
	)
	if cerr := l.Call(ctx, func() { res, err = fn() }); cerr != nil {
		var zero T
		return zero, cerr
	}
	return res, err
}

// Every posts fn every d until the returned cancel function is called or
// the loop stops.
func (l *Loop) Every(d time.Duration, fn func()) (cancel func()) {
	t := time.NewTicker(d)
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := l.Post(fn); err != nil {
					return
				}
			case <-stop:
				return
			case <-l.quit:
				return
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

// Alive reports whether the loop is running and processed something within
// maxLag.
func (l *Loop) Alive(maxLag time.Duration) bool {
	if !l.running.Load() {
		return false
	}
	return time.Since(time.Unix(0, l.beat.Load())) <= maxLag
}
