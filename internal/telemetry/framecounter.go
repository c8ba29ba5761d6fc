package telemetry

import (
	"sync"
	"time"
)

const (
	// WindowSeconds is the number of one-second slots kept per counter.
	WindowSeconds = 60

	// AcceptableTrackSwitch is the longest gap between a track ending and
	// the next one starting that still counts as continuous playback.
	AcceptableTrackSwitch = 100 * time.Millisecond
)

// Window is a read-only snapshot of one counter's slots, oldest first.
type Window []int

// Sum returns the total number of frames in the window.
func (w Window) Sum() int {
	s := 0
	for _, v := range w {
		s += v
	}
	return s
}

// FrameLossCounter counts delivered and lost frames per second over the last
// minute. One of OnSuccess or OnFail is called per delivery tick; the counts
// of the running second are flushed into the ring buffers once that second
// has elapsed.
//
// All methods are safe for concurrent use.
type FrameLossCounter struct {
	now func() time.Time

	mu         sync.Mutex
	success    *RingBuffer[int]
	loss       *RingBuffer[int]
	curSecond  int64
	started    bool
	curSuccess int
	curLoss    int
	continuous int // seconds flushed since the last gap

	lastTrackStart time.Time
	lastTrackEnd   time.Time
}

// CounterOption configures a [FrameLossCounter].
type CounterOption func(*FrameLossCounter)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) CounterOption {
	return func(c *FrameLossCounter) { c.now = now }
}

// NewFrameLossCounter creates an empty counter.
func NewFrameLossCounter(opts ...CounterOption) *FrameLossCounter {
	c := &FrameLossCounter{
		now:     time.Now,
		success: NewRingBuffer[int](WindowSeconds),
		loss:    NewRingBuffer[int](WindowSeconds),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnSuccess records a delivered frame.
func (c *FrameLossCounter) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkTime()
	c.curSuccess++
}

// OnFail records a tick where a frame was expected but none was available.
func (c *FrameLossCounter) OnFail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkTime()
	c.curLoss++
}

// OnTrackStart records the start of a track.
func (c *FrameLossCounter) OnTrackStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTrackStart = c.now()
}

// OnTrackEnd records the end of a track.
func (c *FrameLossCounter) OnTrackEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTrackEnd = c.now()
}

// IsDataUsable reports whether the last minute of data reflects real loss:
// a full window of continuous accumulation, and no deliberate gap between
// the last track ending and the next one starting.
func (c *FrameLossCounter) IsDataUsable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkTime()
	if !c.lastTrackEnd.IsZero() && c.lastTrackStart.Sub(c.lastTrackEnd) > AcceptableTrackSwitch {
		return false
	}
	return c.continuous >= WindowSeconds
}

// LastMinuteSuccess returns the per-second delivered frame counts.
func (c *FrameLossCounter) LastMinuteSuccess() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkTime()
	return Window(c.success.Slice())
}

// LastMinuteLoss returns the per-second lost frame counts.
func (c *FrameLossCounter) LastMinuteLoss() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkTime()
	return Window(c.loss.Slice())
}

// checkTime flushes the running second if it has elapsed. Seconds without
// any tick are recorded as empty slots and break continuity. Must be called
// with c.mu held.
func (c *FrameLossCounter) checkTime() {
	sec := c.now().Unix()
	if !c.started {
		c.started = true
		c.curSecond = sec
		return
	}
	if sec <= c.curSecond {
		return
	}

	c.success.Put(c.curSuccess)
	c.loss.Put(c.curLoss)
	c.continuous++

	if gap := sec - c.curSecond - 1; gap > 0 {
		for range min(gap, WindowSeconds) {
			c.success.Put(0)
			c.loss.Put(0)
		}
		c.continuous = 0
	}
	c.curSuccess, c.curLoss = 0, 0
	c.curSecond = sec
}
