package pump

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/natanbc/andesite/pkg/audio"
)

var _ audio.FrameSource = (*Pump)(nil)

const (
	// DefaultCapacity is the backlog size in frames.
	DefaultCapacity = 20

	// DefaultRetry is the delay before retrying after an empty pull or a
	// full backlog.
	DefaultRetry = 40 * time.Millisecond
)

// ErrProducerPanic wraps a recovered producer panic.
var ErrProducerPanic = errors.New("pump: producer panicked")

// Producer returns the next encoded frame, or nil when none is available
// yet. The returned slice may be reused by the producer after the call. An
// error stops the pump for good.
type Producer func() ([]byte, error)

// Option configures a [Pump].
type Option func(*Pump)

// WithCapacity sets the backlog size.
func WithCapacity(n int) Option {
	return func(p *Pump) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithRetry sets the backoff delay.
func WithRetry(d time.Duration) Option {
	return func(p *Pump) {
		if d > 0 {
			p.retry = d
		}
	}
}

// WithLogger sets the logger used for producer failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pump) { p.log = l }
}

// WithBackpressureHook registers fn to be called each time a produced frame
// finds the backlog full.
func WithBackpressureHook(fn func()) Option {
	return func(p *Pump) { p.onBackpressure = fn }
}

// WithErrorHook registers fn to be called once when the producer fails.
func WithErrorHook(fn func(error)) Option {
	return func(p *Pump) { p.onError = fn }
}

// Pump moves frames from a [Producer] into a bounded backlog.
//
// Each run pulls at most one frame. After a successful enqueue the next run
// is submitted immediately so the backlog stays full; an empty pull or a
// full backlog delays the next run by the retry interval. A frame that did
// not fit is held and offered again first.
type Pump struct {
	sched    *Scheduler
	produce  Producer
	capacity int
	retry    time.Duration
	log      *slog.Logger

	onBackpressure func()
	onError        func(error)

	frames  chan []byte
	stopped atomic.Bool
	started sync.Once

	held []byte // only touched by the single in-flight run
	err  atomic.Pointer[error]
}

// New creates a pump. It does nothing until [Pump.Start].
func New(sched *Scheduler, produce Producer, opts ...Option) *Pump {
	p := &Pump{
		sched:    sched,
		produce:  produce,
		capacity: DefaultCapacity,
		retry:    DefaultRetry,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.frames = make(chan []byte, p.capacity)
	return p
}

// Start submits the first run. Further calls are no-ops.
func (p *Pump) Start() {
	p.started.Do(func() { p.sched.Submit(p.run) })
}

// Stop makes the next run exit. It never interrupts a pull in progress.
// Frames already in the backlog are dropped by the next Poll.
func (p *Pump) Stop() { p.stopped.Store(true) }

// Stopped reports whether the pump was stopped or its producer failed.
func (p *Pump) Stopped() bool { return p.stopped.Load() }

// Err returns the producer failure that stopped the pump, if any.
func (p *Pump) Err() error {
	if e := p.err.Load(); e != nil {
		return *e
	}
	return nil
}

// Len returns the number of frames waiting in the backlog.
func (p *Pump) Len() int { return len(p.frames) }

// Capacity returns the backlog size.
func (p *Pump) Capacity() int { return p.capacity }

// Poll returns the next frame without blocking.
func (p *Pump) Poll() ([]byte, bool) {
	if p.stopped.Load() {
		return nil, false
	}
	select {
	case f := <-p.frames:
		return f, true
	default:
		return nil, false
	}
}

func (p *Pump) run() {
	if p.stopped.Load() {
		return
	}

	if p.held == nil {
		frame, err := p.pull()
		if err != nil {
			p.fail(err)
			return
		}
		if frame == nil {
			p.sched.After(p.retry, p.run)
			return
		}
		p.held = bytes.Clone(frame)
	}

	select {
	case p.frames <- p.held:
		p.held = nil
		p.sched.Submit(p.run)
	default:
		if p.onBackpressure != nil {
			p.onBackpressure()
		}
		p.sched.After(p.retry, p.run)
	}
}

func (p *Pump) pull() (frame []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
		}
	}()
	return p.produce()
}

func (p *Pump) fail(err error) {
	p.err.Store(&err)
	p.stopped.Store(true)
	p.log.Error("pump: producer failed, stopping", "err", err)
	if p.onError != nil {
		p.onError(err)
	}
}
