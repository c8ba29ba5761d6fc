package pump

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler(2)
	t.Cleanup(s.Close)
	return s
}

func TestPump_DeliversInOrder(t *testing.T) {
	t.Parallel()

	var next atomic.Int32
	p := New(newScheduler(t), func() ([]byte, error) {
		n := next.Add(1)
		if n > 5 {
			return nil, nil
		}
		return []byte{byte(n)}, nil
	}, WithRetry(time.Millisecond))
	p.Start()

	var got []byte
	ok := waitFor(t, 2*time.Second, func() bool {
		if f, ok := p.Poll(); ok {
			got = append(got, f[0])
		}
		return len(got) == 5
	})
	if !ok {
		t.Fatalf("received %v, want 5 frames", got)
	}
	for i, b := range got {
		if int(b) != i+1 {
			t.Fatalf("frames = %v, want [1 2 3 4 5]", got)
		}
	}
	if _, ok := p.Poll(); ok {
		t.Error("Poll returned a frame after the producer ran dry")
	}
}

func TestPump_BackpressureFillsToCapacity(t *testing.T) {
	t.Parallel()

	var full atomic.Int32
	p := New(newScheduler(t), func() ([]byte, error) {
		return []byte{1}, nil
	}, WithCapacity(20), WithRetry(time.Millisecond), WithBackpressureHook(func() { full.Add(1) }))
	p.Start()

	if !waitFor(t, 2*time.Second, func() bool { return p.Len() == 20 && full.Load() > 0 }) {
		t.Fatalf("backlog = %d, backpressure hits = %d", p.Len(), full.Load())
	}
	if _, ok := p.Poll(); !ok {
		t.Fatal("Poll on a full backlog returned nothing")
	}
	if !waitFor(t, 2*time.Second, func() bool { return p.Len() == 20 }) {
		t.Errorf("backlog not refilled, len = %d", p.Len())
	}
}

func TestPump_CopiesFrames(t *testing.T) {
	t.Parallel()

	shared := make([]byte, 4)
	var n atomic.Int32
	p := New(newScheduler(t), func() ([]byte, error) {
		v := n.Add(1)
		if v > 2 {
			return nil, nil
		}
		for i := range shared {
			shared[i] = byte(v)
		}
		return shared, nil
	}, WithRetry(time.Millisecond))
	p.Start()

	var frames [][]byte
	waitFor(t, 2*time.Second, func() bool {
		if f, ok := p.Poll(); ok {
			frames = append(frames, f)
		}
		return len(frames) == 2
	})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0][0] != 1 || frames[1][0] != 2 {
		t.Errorf("frames = %v, want distinct copies [1...] [2...]", frames)
	}
}

func TestPump_StopEndsProduction(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := New(newScheduler(t), func() ([]byte, error) {
		calls.Add(1)
		return nil, nil
	}, WithRetry(time.Millisecond))
	p.Start()

	waitFor(t, 2*time.Second, func() bool { return calls.Load() > 3 })
	p.Stop()
	// Let a run already in flight finish.
	time.Sleep(20 * time.Millisecond)
	before := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if after := calls.Load(); after != before {
		t.Errorf("producer called %d more times after Stop", after-before)
	}
	if !p.Stopped() {
		t.Error("Stopped = false after Stop")
	}
	if _, ok := p.Poll(); ok {
		t.Error("Poll returned a frame after Stop")
	}
}

func TestPump_ProducerFailureIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("decoder exploded")
	tests := []struct {
		name    string
		produce Producer
		want    error
	}{
		{"error", func() ([]byte, error) { return nil, boom }, boom},
		{"panic", func() ([]byte, error) { panic("bad frame") }, ErrProducerPanic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var hooked atomic.Int32
			p := New(newScheduler(t), tt.produce, WithErrorHook(func(error) { hooked.Add(1) }))
			p.Start()

			if !waitFor(t, 2*time.Second, p.Stopped) {
				t.Fatal("pump still running after producer failure")
			}
			if !errors.Is(p.Err(), tt.want) {
				t.Errorf("Err = %v, want %v", p.Err(), tt.want)
			}
			if hooked.Load() != 1 {
				t.Errorf("error hook called %d times, want 1", hooked.Load())
			}
		})
	}
}

func TestScheduler_BoundsParallelism(t *testing.T) {
	t.Parallel()

	s := NewScheduler(2)
	defer s.Close()

	var running, peak atomic.Int32
	done := make(chan struct{}, 8)
	for range 8 {
		s.Submit(func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			done <- struct{}{}
		})
	}
	for range 8 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("tasks did not finish")
		}
	}
	if peak.Load() > 2 {
		t.Errorf("peak parallelism = %d, want <= 2", peak.Load())
	}
}

func TestScheduler_DropsAfterClose(t *testing.T) {
	t.Parallel()

	s := NewScheduler(1)
	s.Close()
	var ran atomic.Bool
	s.Submit(func() { ran.Store(true) })
	s.After(time.Millisecond, func() { ran.Store(true) })
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Error("task ran after Close")
	}
}

func TestScheduler_CloseCancelsPendingTimers(t *testing.T) {
	t.Parallel()

	s := NewScheduler(1)
	var ran atomic.Bool
	s.After(time.Hour, func() { ran.Store(true) })

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close waited on a pending timer")
	}
	if ran.Load() {
		t.Error("pending timer fired after Close")
	}
}

func TestScheduler_CloseWhileSubmitting(t *testing.T) {
	t.Parallel()

	s := NewScheduler(2)
	var (
		ran     atomic.Int64
		stop    atomic.Bool
		started = make(chan struct{})
		done    = make(chan struct{})
	)
	const submitters = 8
	for i := range submitters {
		go func() {
			defer func() { done <- struct{}{} }()
			if i == 0 {
				close(started)
			}
			for !stop.Load() {
				s.Submit(func() { ran.Add(1) })
				s.After(0, func() { ran.Add(1) })
				s.After(time.Millisecond, func() { ran.Add(1) })
			}
		}()
	}

	<-started
	time.Sleep(5 * time.Millisecond)
	s.Close()
	afterClose := ran.Load()

	time.Sleep(20 * time.Millisecond)
	stop.Store(true)
	for range submitters {
		<-done
	}
	if got := ran.Load(); got != afterClose {
		t.Errorf("%d tasks ran after Close returned", got-afterClose)
	}
	s.Close()
}
