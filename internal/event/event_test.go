package event

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

// capture is a sink recording messages.
type capture struct {
	mu   sync.Mutex
	msgs []any
	err  error
}

func (c *capture) Send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capture) got() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.msgs)
}

// manualTimers fires scheduled callbacks on demand.
type manualTimers struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualTimer
}

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualTimers() *manualTimers {
	return &manualTimers{now: time.Unix(1_700_000_000, 0)}
}

func (m *manualTimers) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{at: m.now.Add(d), f: f}
	m.pending = append(m.pending, t)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

func (m *manualTimers) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	var due []func()
	for _, t := range m.pending {
		if !t.fired && !t.stopped && !t.at.After(m.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	m.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func TestDispatcher_IsolatesListenerPanics(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var got []string
	d.OnPlayerCreated(func(ev PlayerEvent) { got = append(got, "first:"+ev.GuildID) })
	d.OnPlayerCreated(func(PlayerEvent) { panic("listener bug") })
	d.OnPlayerCreated(func(ev PlayerEvent) { got = append(got, "third:"+ev.GuildID) })

	d.PlayerCreated(PlayerEvent{UserID: "u", GuildID: "g"})

	want := []string{"first:g", "third:g"}
	if !slices.Equal(got, want) {
		t.Errorf("listeners ran = %v, want %v", got, want)
	}
}

func TestDispatcher_RoutesByKind(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var created, destroyed, closed int
	d.OnPlayerCreated(func(PlayerEvent) { created++ })
	d.OnPlayerDestroyed(func(PlayerEvent) { destroyed++ })
	d.OnWebSocketClosed(func(ev WebSocketClosed) {
		if ev.Code == 4014 {
			closed++
		}
	})

	d.PlayerDestroyed(PlayerEvent{})
	d.WebSocketClosed(WebSocketClosed{Code: 4014})
	d.WebSocketClosed(WebSocketClosed{Code: 4014})

	if created != 0 || destroyed != 1 || closed != 2 {
		t.Errorf("created/destroyed/closed = %d/%d/%d, want 0/1/2", created, destroyed, closed)
	}
}

func TestDispatcher_Unregister(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var got []string
	offA := d.OnPlayerDestroyed(func(PlayerEvent) { got = append(got, "a") })
	d.OnPlayerDestroyed(func(PlayerEvent) { got = append(got, "b") })
	offClosed := d.OnWebSocketClosed(func(WebSocketClosed) { got = append(got, "closed") })
	offCreated := d.OnPlayerCreated(func(PlayerEvent) { got = append(got, "created") })

	d.PlayerDestroyed(PlayerEvent{})
	offA()
	offA()
	offClosed()
	d.PlayerDestroyed(PlayerEvent{})
	d.WebSocketClosed(WebSocketClosed{Code: 4006})
	d.PlayerCreated(PlayerEvent{})
	offCreated()
	d.PlayerCreated(PlayerEvent{})

	want := []string{"a", "b", "b", "created"}
	if !slices.Equal(got, want) {
		t.Errorf("listeners ran = %v, want %v", got, want)
	}
}

func TestDispatcher_UnregisterDuringDispatch(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var calls int
	var off func()
	off = d.OnPlayerCreated(func(PlayerEvent) {
		calls++
		off()
	})
	d.OnPlayerCreated(func(PlayerEvent) { calls += 10 })

	d.PlayerCreated(PlayerEvent{})
	d.PlayerCreated(PlayerEvent{})

	if calls != 21 {
		t.Errorf("calls = %d, want 21", calls)
	}
}

func TestEmitter_FanOut(t *testing.T) {
	t.Parallel()

	e := NewEmitter(nil)
	a, b := &capture{}, &capture{err: errors.New("socket gone")}
	e.Subscribe("a", a)
	e.Subscribe("b", b)
	e.Emit("one")
	e.Unsubscribe("b")
	e.Emit("two")

	if got := a.got(); !slices.Equal(got, []any{"one", "two"}) {
		t.Errorf("a received %v", got)
	}
	if e.Len() != 1 || e.Subscribed("b") {
		t.Errorf("subscribers = %d, b subscribed = %v", e.Len(), e.Subscribed("b"))
	}
}

func TestSubscribers_ResumeWithinTimeout(t *testing.T) {
	t.Parallel()

	timers := newManualTimers()
	subs := NewSubscribers(WithTimers(timers.Now, timers.AfterFunc))
	e := NewEmitter(nil)

	first := &capture{}
	s := subs.Connect(first)
	e.Subscribe(s.ID(), s)
	e.Emit("live")

	expired := false
	subs.Disconnect(s, 10*time.Second, func(string) { expired = true })
	if s.Attached() {
		t.Fatal("subscriber still attached after disconnect")
	}
	e.Emit("a")
	e.Emit("b")
	e.Emit("c")
	if s.Buffered() != 3 {
		t.Fatalf("buffered = %d, want 3", s.Buffered())
	}

	timers.Advance(5 * time.Second)
	second := &capture{}
	resumed, ok := subs.Resume(s.ID(), second)
	if !ok || resumed != s {
		t.Fatalf("Resume = (%p, %v), want original subscriber", resumed, ok)
	}
	e.Emit("d")
	if !s.Attached() {
		t.Error("resumed subscriber not attached")
	}

	if got := second.got(); !slices.Equal(got, []any{"a", "b", "c", "d"}) {
		t.Errorf("resumed connection received %v, want [a b c d]", got)
	}
	if got := first.got(); !slices.Equal(got, []any{"live"}) {
		t.Errorf("old connection received %v", got)
	}

	timers.Advance(time.Minute)
	if expired {
		t.Error("expiry fired after a successful resume")
	}
}

func TestSubscribers_ResumeAfterTimeout(t *testing.T) {
	t.Parallel()

	timers := newManualTimers()
	subs := NewSubscribers(WithTimers(timers.Now, timers.AfterFunc))
	e := NewEmitter(nil)

	s := subs.Connect(&capture{})
	e.Subscribe(s.ID(), s)
	subs.Disconnect(s, 10*time.Second, e.Unsubscribe)
	e.Emit("lost")

	timers.Advance(11 * time.Second)
	if e.Subscribed(s.ID()) {
		t.Error("expired connection still subscribed")
	}

	fresh := &capture{}
	got, ok := subs.Resume(s.ID(), fresh)
	if ok {
		t.Fatal("Resume succeeded after expiry")
	}
	if got.ID() == s.ID() {
		t.Error("expired id reused")
	}
	if msgs := fresh.got(); len(msgs) != 0 {
		t.Errorf("replay after expiry = %v, want empty", msgs)
	}
}

func TestSubscribers_DisconnectWithoutBuffering(t *testing.T) {
	t.Parallel()

	subs := NewSubscribers()
	s := subs.Connect(&capture{})
	var removed string
	subs.Disconnect(s, 0, func(id string) { removed = id })

	if removed != s.ID() {
		t.Errorf("onExpire id = %q, want %q", removed, s.ID())
	}
	if subs.Len() != 0 {
		t.Errorf("registry size = %d, want 0", subs.Len())
	}
	if err := s.Send("x"); !errors.Is(err, ErrDetached) {
		t.Errorf("Send after disconnect err = %v, want ErrDetached", err)
	}
	if _, ok := subs.Resume(s.ID(), &capture{}); ok {
		t.Error("Resume succeeded without buffering")
	}
}
