package event

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDetached is returned by [Subscriber.Send] while the connection is gone
// and nothing is buffered for it.
var ErrDetached = errors.New("event: connection detached")

// Buffer queues messages for a disconnected connection.
type Buffer struct {
	messages []any
	deadline time.Time
}

// Len returns the number of queued messages.
func (b *Buffer) Len() int { return len(b.messages) }

// Deadline returns when the buffer expires.
func (b *Buffer) Deadline() time.Time { return b.deadline }

// Subscriber is the stable sink of one connection id. Emitters hold it for
// as long as the connection or its buffer lives; it forwards to the live
// socket or queues while the connection is away.
type Subscriber struct {
	id string

	mu     sync.Mutex
	live   Sink
	buf    *Buffer
	stop   func() bool
	gen    int
	closed bool
}

// ID returns the connection id.
func (s *Subscriber) ID() string { return s.id }

// Send implements [Sink].
func (s *Subscriber) Send(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.live != nil:
		return s.live.Send(msg)
	case s.buf != nil:
		s.buf.messages = append(s.buf.messages, msg)
		return nil
	default:
		return ErrDetached
	}
}

// Attached reports whether a live connection is bound to s.
func (s *Subscriber) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live != nil
}

// Buffered returns the number of messages waiting for a resume.
func (s *Subscriber) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return 0
	}
	return s.buf.Len()
}

// AfterFunc schedules f after d and returns a function that cancels it,
// reporting whether the call was prevented.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Subscribers maps connection ids to their [Subscriber].
type Subscribers struct {
	now       func() time.Time
	afterFunc AfterFunc

	mu   sync.Mutex
	subs map[string]*Subscriber
}

// SubscribersOption configures [Subscribers].
type SubscribersOption func(*Subscribers)

// WithTimers overrides the clock and the timer used for buffer expiry.
func WithTimers(now func() time.Time, after AfterFunc) SubscribersOption {
	return func(r *Subscribers) {
		r.now = now
		r.afterFunc = after
	}
}

// NewSubscribers creates an empty registry.
func NewSubscribers(opts ...SubscribersOption) *Subscribers {
	r := &Subscribers{
		now:       time.Now,
		afterFunc: timeAfterFunc,
		subs:      make(map[string]*Subscriber),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Connect registers a new connection with a fresh id.
func (r *Subscribers) Connect(live Sink) *Subscriber {
	s := &Subscriber{id: uuid.NewString(), live: live}
	r.mu.Lock()
	r.subs[s.id] = s
	r.mu.Unlock()
	return s
}

// Resume reattaches a connection by id. Messages buffered while it was away
// are flushed to live in their original order before any new message. If
// the id is unknown or its buffer expired, a new connection is registered
// and false is returned.
func (r *Subscribers) Resume(id string, live Sink) (*Subscriber, bool) {
	r.mu.Lock()
	s, ok := r.subs[id]
	r.mu.Unlock()
	if !ok {
		return r.Connect(live), false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.buf == nil {
		return r.Connect(live), false
	}
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.gen++
	for _, msg := range s.buf.messages {
		if err := live.Send(msg); err != nil {
			break
		}
	}
	s.buf = nil
	s.live = live
	return s, true
}

// Get returns the subscriber of id.
func (r *Subscribers) Get(id string) (*Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	return s, ok
}

// Len returns the number of registered connections, live or buffering.
func (r *Subscribers) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Disconnect detaches s. With a positive timeout its messages are buffered
// until it resumes or the timeout passes; otherwise, or on expiry, s is
// removed and onExpire is called with its id so callers can drop its
// subscriptions.
func (r *Subscribers) Disconnect(s *Subscriber, timeout time.Duration, onExpire func(id string)) {
	s.mu.Lock()
	s.live = nil
	if timeout <= 0 {
		s.closed = true
		s.mu.Unlock()
		r.remove(s.id)
		if onExpire != nil {
			onExpire(s.id)
		}
		return
	}
	s.gen++
	gen := s.gen
	s.buf = &Buffer{deadline: r.now().Add(timeout)}
	s.stop = r.afterFunc(timeout, func() {
		s.mu.Lock()
		if s.gen != gen || s.closed {
			s.mu.Unlock()
			return
		}
		s.closed = true
		s.buf = nil
		s.mu.Unlock()
		r.remove(s.id)
		if onExpire != nil {
			onExpire(s.id)
		}
	})
	s.mu.Unlock()
}

func (r *Subscribers) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}
