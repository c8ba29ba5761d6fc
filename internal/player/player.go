// Package player implements the per-session playback engine: the primary
// [AudioPlayer], the lazily created [Mixer] and the [Player] that switches
// between them and feeds the voice transport through a frame pump.
package player

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/natanbc/andesite/internal/filters"
	"github.com/natanbc/andesite/internal/pump"
	"github.com/natanbc/andesite/internal/telemetry"
	"github.com/natanbc/andesite/pkg/audio"
	"github.com/natanbc/andesite/pkg/track"
)

var _ audio.FrameSource = (*Player)(nil)

// Key identifies a session.
type Key struct {
	UserID  string
	GuildID string
}

func (k Key) String() string { return k.UserID + "/" + k.GuildID }

// Mode selects the frame provider of a [Player].
type Mode int32

const (
	ModePrimary Mode = iota
	ModeMixer

	modeNone Mode = -1
)

// MixerState is derived from the active and pending providers.
type MixerState string

const (
	MixerDisabled  MixerState = "DISABLED"
	MixerEnabling  MixerState = "ENABLING"
	MixerEnabled   MixerState = "ENABLED"
	MixerDisabling MixerState = "DISABLING"
)

// Config holds the collaborators of a [Player].
type Config struct {
	// Scheduler runs the frame pump. Required.
	Scheduler *pump.Scheduler

	// NewEncoder creates the wire encoder of the primary player and the
	// mixer. Required.
	NewEncoder EncoderFactory

	// Listener receives track events of the primary player and every mixer
	// sub-player.
	Listener Listener

	// OnModeChange is called after a pending mode switch committed.
	OnModeChange func(MixerState)

	// OnFrame is called by Poll with whether a frame was delivered while
	// the player was expected to produce audio.
	OnFrame func(delivered bool)

	// PumpOptions configure the frame pump.
	PumpOptions []pump.Option

	// ReapAfter overrides [DefaultReapAfter] for the mixer.
	ReapAfter int

	// Clock overrides time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

// PlayOptions modify a play command.
type PlayOptions struct {
	Start     time.Duration
	End       time.Duration
	Pause     *bool
	Volume    *int
	NoReplace bool
}

// Player is the playback state of one session.
//
// Commands are issued from a single goroutine. Frame production runs on the
// pump scheduler and delivery on the transport goroutine; they share only
// the atomics below, the pump backlog and the internally locked players.
type Player struct {
	key     Key
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
	primary *AudioPlayer
	filters *filters.Configuration
	counter *telemetry.FrameLossCounter
	pump    *pump.Pump

	encoder Encoder // pump goroutine only

	mixerMu sync.Mutex
	mixer   atomic.Pointer[Mixer]

	active   atomic.Int32
	pending  atomic.Int32
	lastUse  atomic.Int64 // unix nanoseconds of the last successful pull
	position atomic.Int64 // compensated position in nanoseconds
	speed    atomic.Uint64
	closed   atomic.Bool
}

// New creates a player and starts its frame pump.
func New(key Key, cfg Config) (*Player, error) {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	enc, err := cfg.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("player: create encoder: %w", err)
	}
	p := &Player{
		key:     key,
		cfg:     cfg,
		now:     cfg.Clock,
		log:     cfg.Logger.With("user", key.UserID, "guild", key.GuildID),
		filters: filters.New(),
		counter: telemetry.NewFrameLossCounter(telemetry.WithClock(cfg.Clock)),
		encoder: enc,
	}
	p.primary = NewAudioPlayer(WithListener(p.onEvent), WithClock(cfg.Clock))
	p.active.Store(int32(ModePrimary))
	p.pending.Store(int32(modeNone))
	p.speed.Store(math.Float64bits(1))
	p.touch()

	opts := append([]pump.Option{pump.WithLogger(p.log)}, cfg.PumpOptions...)
	p.pump = pump.New(cfg.Scheduler, p.provide, opts...)
	p.pump.Start()
	return p, nil
}

// Key returns the session key.
func (p *Player) Key() Key { return p.key }

// AudioPlayer returns the primary track player.
func (p *Player) AudioPlayer() *AudioPlayer { return p.primary }

// Filters returns the filter configuration of the primary player.
func (p *Player) Filters() *filters.Configuration { return p.filters }

// Counter returns the frame loss telemetry.
func (p *Player) Counter() *telemetry.FrameLossCounter { return p.counter }

// Pump returns the frame pump.
func (p *Player) Pump() *pump.Pump { return p.pump }

// Mixer returns the mixer, or nil if it was never created.
func (p *Player) Mixer() *Mixer { return p.mixer.Load() }

// LastUse returns when a frame was last produced, or the player was last
// started.
func (p *Player) LastUse() time.Time { return time.Unix(0, p.lastUse.Load()) }

func (p *Player) touch() { p.lastUse.Store(p.now().UnixNano()) }

func (p *Player) onEvent(ev Event) {
	if ev.MixerKey == "" {
		switch ev.Type {
		case EventTrackStart:
			p.counter.OnTrackStart()
		case EventTrackEnd:
			p.counter.OnTrackEnd()
		}
	}
	if p.cfg.Listener != nil {
		p.cfg.Listener(ev)
	}
}

// Play starts t on the primary player. It returns false when NoReplace is
// set and a track is already playing.
func (p *Player) Play(t track.Track, opts PlayOptions) bool {
	if opts.NoReplace && p.primary.PlayingTrack() != nil {
		return false
	}
	if opts.Start > 0 {
		t.SetPosition(opts.Start)
	}
	if opts.Pause != nil {
		p.primary.SetPaused(*opts.Pause)
	}
	if opts.Volume != nil {
		p.primary.SetVolume(*opts.Volume)
	}
	if !p.primary.PlayTrack(t, opts.NoReplace) {
		return false
	}
	if opts.End > 0 {
		p.primary.SetEndMarker(opts.End)
	}
	p.position.Store(int64(opts.Start))
	p.touch()
	return true
}

// Stop stops the primary track.
func (p *Player) Stop() { p.primary.StopTrack() }

// SetPaused pauses or resumes the primary player.
func (p *Player) SetPaused(paused bool) {
	p.primary.SetPaused(paused)
	p.touch()
}

// Seek moves the primary track.
func (p *Player) Seek(pos time.Duration) {
	p.primary.Seek(pos)
	p.position.Store(int64(pos))
}

// SetVolume sets the primary volume.
func (p *Player) SetVolume(v int) { p.primary.SetVolume(v) }

// UpdateFilters merges a partial filter update into the primary filter
// configuration and rebuilds the chain.
func (p *Player) UpdateFilters(partial json.RawMessage) error {
	if err := p.filters.Update(partial); err != nil {
		return err
	}
	p.primary.SetFilterFactory(p.filters.Factory())
	p.speed.Store(math.Float64bits(p.filters.Speed()))
	return nil
}

// Position returns the compensated playback position of the primary track.
func (p *Player) Position() (time.Duration, bool) {
	if p.primary.PlayingTrack() == nil {
		return 0, false
	}
	return time.Duration(p.position.Load()), true
}

// EnsureMixer returns the mixer, creating it if needed.
func (p *Player) EnsureMixer() (*Mixer, error) {
	p.mixerMu.Lock()
	defer p.mixerMu.Unlock()
	if m := p.mixer.Load(); m != nil {
		return m, nil
	}
	enc, err := p.cfg.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("player: create mixer encoder: %w", err)
	}
	m := NewMixer(enc, p.cfg.ReapAfter, WithListener(p.onEvent), WithClock(p.now))
	p.mixer.Store(m)
	return m, nil
}

// SwitchToMixer requests the mixer to become the active provider. The
// switch commits on the first tick the mixer produces a frame.
func (p *Player) SwitchToMixer() error {
	if _, err := p.EnsureMixer(); err != nil {
		return err
	}
	if Mode(p.active.Load()) == ModeMixer {
		p.pending.Store(int32(modeNone))
		return nil
	}
	p.pending.Store(int32(ModeMixer))
	return nil
}

// SwitchToSingle requests the primary player to become the active
// provider again.
func (p *Player) SwitchToSingle() {
	if Mode(p.active.Load()) == ModePrimary {
		p.pending.Store(int32(modeNone))
		return
	}
	p.pending.Store(int32(ModePrimary))
}

// MixerState derives the mode from the active and pending providers.
func (p *Player) MixerState() MixerState {
	active, pending := Mode(p.active.Load()), Mode(p.pending.Load())
	switch {
	case active == ModePrimary && pending == ModeMixer:
		return MixerEnabling
	case active == ModeMixer && pending == ModePrimary:
		return MixerDisabling
	case active == ModeMixer:
		return MixerEnabled
	default:
		return MixerDisabled
	}
}

// CloseMixerIfIdle closes the mixer when it is empty and neither active
// nor pending. It reports whether the mixer was closed.
func (p *Player) CloseMixerIfIdle() bool {
	if p.MixerState() != MixerDisabled {
		return false
	}
	p.mixerMu.Lock()
	m := p.mixer.Load()
	if m == nil || !m.IsEmpty() {
		p.mixerMu.Unlock()
		return false
	}
	p.mixer.Store(nil)
	p.mixerMu.Unlock()
	m.Close()
	return true
}

// IsPlaying reports whether the active provider is nominally producing
// audio.
func (p *Player) IsPlaying() bool {
	if Mode(p.active.Load()) == ModeMixer {
		m := p.mixer.Load()
		return m != nil && m.IsPlaying()
	}
	return p.primary.IsPlaying()
}

// Poll implements [audio.FrameSource] for the voice transport and accounts
// each tick in the frame loss counter.
func (p *Player) Poll() ([]byte, bool) {
	frame, ok := p.pump.Poll()
	switch {
	case ok:
		p.counter.OnSuccess()
	case p.IsPlaying():
		p.counter.OnFail()
	default:
		return nil, false
	}
	if p.cfg.OnFrame != nil {
		p.cfg.OnFrame(ok)
	}
	return frame, ok
}

// provide is the pump producer. A pending provider is tried first and
// becomes active when it yields a frame.
func (p *Player) provide() ([]byte, error) {
	if p.closed.Load() {
		return nil, nil
	}
	if pending := Mode(p.pending.Load()); pending != modeNone {
		frame, err := p.pull(pending)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			p.active.Store(int32(pending))
			p.pending.CompareAndSwap(int32(pending), int32(modeNone))
			if p.cfg.OnModeChange != nil {
				p.cfg.OnModeChange(p.MixerState())
			}
			return frame, nil
		}
	}
	return p.pull(Mode(p.active.Load()))
}

func (p *Player) pull(mode Mode) ([]byte, error) {
	if mode == ModeMixer {
		m := p.mixer.Load()
		if m == nil {
			return nil, nil
		}
		frame, ok, err := m.Provide()
		if err != nil || !ok {
			return nil, err
		}
		p.touch()
		return frame, nil
	}

	pcm, ok := p.primary.ProvidePCM()
	if !ok {
		return nil, nil
	}
	frame, err := p.encoder.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("player: encode: %w", err)
	}
	speed := math.Float64frombits(p.speed.Load())
	p.position.Add(int64(float64(audio.FrameDuration) * speed))
	p.touch()
	return frame, nil
}

// Destroy releases the mixer, the primary player and the pump. It is safe
// to call more than once.
func (p *Player) Destroy() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.pump.Stop()
	p.mixerMu.Lock()
	m := p.mixer.Swap(nil)
	p.mixerMu.Unlock()
	if m != nil {
		m.Close()
	}
	p.primary.Destroy()
}
