// Package node is the command façade of the audio node. It owns the player
// registry and the reactor, runs every client command on the reactor,
// forwards player events to subscribed connections and performs periodic
// housekeeping.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/natanbc/andesite/internal/event"
	"github.com/natanbc/andesite/internal/observe"
	"github.com/natanbc/andesite/internal/player"
	"github.com/natanbc/andesite/internal/pump"
	"github.com/natanbc/andesite/internal/reactor"
	"github.com/natanbc/andesite/internal/resilience"
	"github.com/natanbc/andesite/pkg/audio"
	"github.com/natanbc/andesite/pkg/track"
)

// Defaults for [Config].
const (
	DefaultSearchPrefix  = "ytsearch:"
	DefaultStateInterval = 5 * time.Second
	DefaultSweepInterval = 30 * time.Second
	DefaultIdleTimeout   = 60 * time.Second
)

// DefaultSearchPrefixes are the identifier prefixes passed through untouched
// by track resolution.
var DefaultSearchPrefixes = []string{"ytsearch:", "ytmsearch:", "scsearch:"}

// Config holds the tunables of a [Node].
type Config struct {
	// AutoSearch prefixes plain identifiers with SearchPrefix.
	AutoSearch bool

	SearchPrefix   string
	SearchPrefixes []string

	// StateInterval is the period of player-update messages.
	StateInterval time.Duration

	// SweepInterval is the period of the idle player sweep.
	SweepInterval time.Duration

	// IdleTimeout is how long a playing player may go without producing a
	// frame before the sweep destroys it.
	IdleTimeout time.Duration

	// ReapAfter overrides [player.DefaultReapAfter].
	ReapAfter int

	PumpCapacity int
	PumpRetry    time.Duration
}

func (c *Config) applyDefaults() {
	if c.SearchPrefix == "" {
		c.SearchPrefix = DefaultSearchPrefix
	}
	if c.SearchPrefixes == nil {
		c.SearchPrefixes = DefaultSearchPrefixes
	}
	if c.StateInterval <= 0 {
		c.StateInterval = DefaultStateInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
}

// Option configures a [Node].
type Option func(*Node)

// WithConfig sets the node tunables.
func WithConfig(cfg Config) Option {
	return func(n *Node) { n.cfg = cfg }
}

// WithVoice sets the voice transport. Without it voice updates fail.
func WithVoice(p audio.Platform) Option {
	return func(n *Node) { n.voice = p }
}

// WithEncoder sets the wire encoder factory of new players.
func WithEncoder(f player.EncoderFactory) Option {
	return func(n *Node) { n.newEncoder = f }
}

// WithScheduler sets the pump scheduler shared by every player.
func WithScheduler(s *pump.Scheduler) Option {
	return func(n *Node) { n.sched = s }
}

// WithHooks appends command hooks.
func WithHooks(h ...Hook) Option {
	return func(n *Node) { n.hooks = append(n.hooks, h...) }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithBreaker guards track loading with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(n *Node) { n.breaker = cb }
}

// WithSubscribers sets the connection registry, e.g. to control its timers.
func WithSubscribers(s *event.Subscribers) Option {
	return func(n *Node) { n.subscribers = s }
}

// WithClock overrides time.Now for players, telemetry and the idle sweep.
func WithClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.log = l }
}

// Node is the audio node.
type Node struct {
	cfg         Config
	search      atomic.Pointer[Search]
	loop        *reactor.Loop
	registry    *Registry
	decoder     track.Decoder
	voice       audio.Platform
	sched       *pump.Scheduler
	ownSched    bool
	newEncoder  player.EncoderFactory
	hooks       []Hook
	dispatcher  *event.Dispatcher
	subscribers *event.Subscribers
	breaker     *resilience.CircuitBreaker
	metrics     *observe.Metrics
	cpu         cpuSampler
	now         func() time.Time
	started     time.Time
	log         *slog.Logger
}

// New creates a node resolving and decoding tracks with decoder. The node
// does nothing until [Node.Run] is called.
func New(decoder track.Decoder, opts ...Option) (*Node, error) {
	if decoder == nil {
		return nil, errors.New("node: decoder is required")
	}
	n := &Node{
		cfg:      Config{AutoSearch: true},
		registry: NewRegistry(),
		decoder:  decoder,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	n.cfg.applyDefaults()
	n.search.Store(&Search{
		AutoSearch: n.cfg.AutoSearch,
		Prefix:     n.cfg.SearchPrefix,
		Prefixes:   n.cfg.SearchPrefixes,
	})
	if n.newEncoder == nil {
		return nil, errors.New("node: encoder factory is required")
	}
	if n.sched == nil {
		n.sched = pump.NewScheduler(0)
		n.ownSched = true
	}
	if n.metrics == nil {
		n.metrics = observe.DefaultMetrics()
	}
	if n.breaker == nil {
		n.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "track-loader"})
	}
	if n.subscribers == nil {
		n.subscribers = event.NewSubscribers()
	}
	n.loop = reactor.New(n.log)
	n.dispatcher = event.NewDispatcher(n.log)
	n.started = n.now()
	return n, nil
}

// Search holds the identifier resolution settings, which may change while
// the node runs.
type Search struct {
	AutoSearch bool
	Prefix     string
	Prefixes   []string
}

// SetSearch replaces the identifier resolution settings. Empty prefixes
// fall back to the defaults.
func (n *Node) SetSearch(s Search) {
	if s.Prefix == "" {
		s.Prefix = DefaultSearchPrefix
	}
	if s.Prefixes == nil {
		s.Prefixes = DefaultSearchPrefixes
	}
	n.search.Store(&s)
}

// Dispatcher returns the lifecycle event dispatcher.
func (n *Node) Dispatcher() *event.Dispatcher { return n.dispatcher }

// Subscribers returns the connection registry.
func (n *Node) Subscribers() *event.Subscribers { return n.subscribers }

// Registry returns the player registry.
func (n *Node) Registry() *Registry { return n.registry }

// Breaker returns the track loading circuit breaker.
func (n *Node) Breaker() *resilience.CircuitBreaker { return n.breaker }

// Alive reports whether the reactor processed work within maxLag.
func (n *Node) Alive(maxLag time.Duration) bool { return n.loop.Alive(maxLag) }

// Run runs the reactor and the periodic tasks until ctx is cancelled, then
// destroys every player.
func (n *Node) Run(ctx context.Context) error {
	stopState := n.loop.Every(n.cfg.StateInterval, n.housekeep)
	stopSweep := n.loop.Every(n.cfg.SweepInterval, n.sweep)
	defer stopState()
	defer stopSweep()

	n.log.Info("node: started", "state_interval", n.cfg.StateInterval, "idle_timeout", n.cfg.IdleTimeout)
	err := n.loop.Run(ctx)

	for _, s := range n.registry.All() {
		n.teardown(context.Background(), s)
	}
	if n.ownSched {
		n.sched.Close()
	}
	n.log.Info("node: stopped")
	return err
}

// session returns the session of key, creating it if needed. Reactor only.
func (n *Node) session(key player.Key) (*Session, error) {
	s, created, err := n.registry.GetOrCreate(key, func() (*Session, error) {
		return n.newSession(key)
	})
	if err != nil {
		return nil, err
	}
	if created {
		n.metrics.ActivePlayers.Add(context.Background(), 1)
		n.log.Debug("node: player created", "user", key.UserID, "guild", key.GuildID)
		n.dispatcher.PlayerCreated(event.PlayerEvent{UserID: key.UserID, GuildID: key.GuildID})
	}
	return s, nil
}

func (n *Node) newSession(key player.Key) (*Session, error) {
	s := &Session{Key: key, Emitter: event.NewEmitter(n.log)}
	popts := []pump.Option{
		pump.WithBackpressureHook(func() { n.metrics.PumpBackpressure.Add(context.Background(), 1) }),
	}
	if n.cfg.PumpCapacity > 0 {
		popts = append(popts, pump.WithCapacity(n.cfg.PumpCapacity))
	}
	if n.cfg.PumpRetry > 0 {
		popts = append(popts, pump.WithRetry(n.cfg.PumpRetry))
	}
	p, err := player.New(key, player.Config{
		Scheduler:  n.sched,
		NewEncoder: n.newEncoder,
		Listener:   func(ev player.Event) { n.onTrackEvent(s, ev) },
		OnModeChange: func(player.MixerState) {
			_ = n.loop.Post(func() { n.emitState(s) })
		},
		OnFrame: func(delivered bool) {
			n.metrics.RecordFrame(context.Background(), delivered)
		},
		PumpOptions: popts,
		ReapAfter:   n.cfg.ReapAfter,
		Clock:       n.now,
		Logger:      n.log,
	})
	if err != nil {
		return nil, fmt.Errorf("node: create player: %w", err)
	}
	s.Player = p
	return s, nil
}

// teardown destroys the player of s and its voice connection. Reactor only,
// or after the reactor stopped.
func (n *Node) teardown(ctx context.Context, s *Session) {
	n.registry.Remove(s.Key)
	s.Player.Destroy()
	if s.voice != nil {
		if err := s.voice.Disconnect(); err != nil {
			n.log.Warn("node: voice disconnect failed", "guild", s.Key.GuildID, "err", err)
		}
		s.voice = nil
	} else if l, ok := n.voice.(audio.Leaver); ok {
		if err := l.Leave(ctx, s.Key.GuildID); err != nil {
			n.log.Warn("node: leave voice failed", "guild", s.Key.GuildID, "err", err)
		}
	}
	n.metrics.ActivePlayers.Add(ctx, -1)
	n.dispatcher.PlayerDestroyed(event.PlayerEvent{UserID: s.Key.UserID, GuildID: s.Key.GuildID})
}

// housekeep emits state updates of playing players and closes idle mixers.
func (n *Node) housekeep() {
	for _, s := range n.registry.All() {
		if s.Player.CloseMixerIfIdle() {
			n.log.Debug("node: closed idle mixer", "guild", s.Key.GuildID)
		}
		if s.Player.IsPlaying() {
			n.emitState(s)
		}
	}
}

// sweep destroys players that are nominally playing but stopped producing
// frames for longer than the idle timeout.
func (n *Node) sweep() {
	now := n.now()
	for _, s := range n.registry.All() {
		if !s.Player.IsPlaying() {
			continue
		}
		if idle := now.Sub(s.Player.LastUse()); idle > n.cfg.IdleTimeout {
			n.log.Info("node: destroying idle player", "user", s.Key.UserID, "guild", s.Key.GuildID, "idle", idle)
			n.teardown(context.Background(), s)
		}
	}
}

type subscriberKey struct{}

type ctxSubscriber struct {
	id   string
	sink event.Sink
}

// WithSubscriber returns a context under which commands subscribe sink to
// the player they address before changing it, so the sink sees the events
// the command itself causes.
func WithSubscriber(ctx context.Context, id string, sink event.Sink) context.Context {
	return context.WithValue(ctx, subscriberKey{}, ctxSubscriber{id: id, sink: sink})
}

func (n *Node) attach(ctx context.Context, s *Session) {
	if sub, ok := ctx.Value(subscriberKey{}).(ctxSubscriber); ok {
		s.Emitter.Subscribe(sub.id, sub.sink)
	}
}

// Subscribe attaches sink to the events of the player of key.
func (n *Node) Subscribe(key player.Key, id string, sink event.Sink) {
	if s, ok := n.registry.Get(key); ok {
		s.Emitter.Subscribe(id, sink)
	}
}

// Unsubscribe detaches connection id from every player.
func (n *Node) Unsubscribe(id string) {
	for _, s := range n.registry.All() {
		s.Emitter.Unsubscribe(id)
	}
}

func (n *Node) emitState(s *Session) {
	s.Emitter.Emit(PlayerUpdate{
		Op:      OpPlayerUpdate,
		UserID:  s.Key.UserID,
		GuildID: s.Key.GuildID,
		State:   s.Player.EncodeState(),
	})
}

func (n *Node) onTrackEvent(s *Session, ev player.Event) {
	msg := TrackEvent{
		Op:       OpEvent,
		Type:     string(ev.Type),
		UserID:   s.Key.UserID,
		GuildID:  s.Key.GuildID,
		MixerKey: ev.MixerKey,
	}
	if ev.Track != nil {
		if tok, err := n.decoder.Encode(ev.Track); err == nil {
			msg.Track = tok
		}
	}
	switch ev.Type {
	case player.EventTrackEnd:
		msg.Reason = string(ev.Reason)
		next := ev.Reason.MayStartNext()
		msg.MayStartNext = &next
	case player.EventTrackException:
		if ev.Err != nil {
			msg.Error = ev.Err.Error()
			msg.Exception = &Exception{Message: ev.Err.Error(), Severity: "FAULT"}
		}
	case player.EventTrackStuck:
		msg.ThresholdMs = ev.Threshold.Milliseconds()
	}
	n.metrics.RecordTrackEvent(context.Background(), msg.Type, msg.Reason)
	s.Emitter.Emit(msg)
}
