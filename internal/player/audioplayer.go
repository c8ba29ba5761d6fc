package player

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/natanbc/andesite/internal/filters"
	"github.com/natanbc/andesite/pkg/audio"
	"github.com/natanbc/andesite/pkg/track"
)

const (
	// DefaultVolume is the neutral volume.
	DefaultVolume = 100

	// MaxVolume bounds SetVolume.
	MaxVolume = 1000

	// DefaultStuckThreshold is how long a track may return no data before
	// a stuck event is emitted.
	DefaultStuckThreshold = 10 * time.Second
)

// AudioPlayer plays one track at a time and produces filtered PCM frames.
//
// Commands and frame production may run on different goroutines; all state
// is guarded by one mutex and events are emitted after it is released.
type AudioPlayer struct {
	listener       Listener
	mixerKey       string
	now            func() time.Time
	stuckThreshold time.Duration

	mu        sync.Mutex
	track     track.Track
	paused    bool
	volume    int
	endMarker time.Duration
	factory   filters.Factory
	chain     *filters.Chain
	fifo      []int16
	readBuf   []int16
	lastData  time.Time
	stuck     bool
}

// AudioPlayerOption configures an [AudioPlayer].
type AudioPlayerOption func(*AudioPlayer)

// WithListener sets the event listener.
func WithListener(l Listener) AudioPlayerOption {
	return func(p *AudioPlayer) { p.listener = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) AudioPlayerOption {
	return func(p *AudioPlayer) { p.now = now }
}

// WithStuckThreshold overrides [DefaultStuckThreshold].
func WithStuckThreshold(d time.Duration) AudioPlayerOption {
	return func(p *AudioPlayer) { p.stuckThreshold = d }
}

func withMixerKey(key string) AudioPlayerOption {
	return func(p *AudioPlayer) { p.mixerKey = key }
}

// NewAudioPlayer creates an idle player.
func NewAudioPlayer(opts ...AudioPlayerOption) *AudioPlayer {
	p := &AudioPlayer{
		now:            time.Now,
		stuckThreshold: DefaultStuckThreshold,
		volume:         DefaultVolume,
		readBuf:        make([]int16, audio.FrameLen),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PlayTrack starts t, replacing the current track. With noReplace set and a
// track already playing, nothing happens and false is returned.
func (p *AudioPlayer) PlayTrack(t track.Track, noReplace bool) bool {
	p.mu.Lock()
	if noReplace && p.track != nil {
		p.mu.Unlock()
		return false
	}
	var events []Event
	if p.track != nil {
		events = append(events, p.endLocked(EndReplaced))
	}
	p.track = t
	p.fifo = p.fifo[:0]
	p.endMarker = 0
	p.lastData = p.now()
	p.stuck = false
	if p.factory != nil {
		p.chain = p.factory()
	}
	events = append(events, Event{Type: EventTrackStart, Track: t})
	p.mu.Unlock()

	p.emit(events...)
	return true
}

// StopTrack stops the current track, if any.
func (p *AudioPlayer) StopTrack() {
	p.stopWith(EndStopped)
}

// Destroy stops the current track with reason CLEANUP.
func (p *AudioPlayer) Destroy() {
	p.stopWith(EndCleanup)
}

func (p *AudioPlayer) stopWith(reason EndReason) {
	p.mu.Lock()
	if p.track == nil {
		p.mu.Unlock()
		return
	}
	ev := p.endLocked(reason)
	p.mu.Unlock()
	p.emit(ev)
}

// endLocked clears the current track and returns its end event.
func (p *AudioPlayer) endLocked(reason EndReason) Event {
	t := p.track
	p.track = nil
	p.fifo = p.fifo[:0]
	p.endMarker = 0
	_ = t.Close()
	return Event{Type: EventTrackEnd, Track: t, Reason: reason}
}

// PlayingTrack returns the current track or nil.
func (p *AudioPlayer) PlayingTrack() track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

// SetPaused pauses or resumes playback.
func (p *AudioPlayer) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
	// Pausing is not being stuck.
	p.lastData = p.now()
}

// IsPaused reports whether playback is paused.
func (p *AudioPlayer) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// IsPlaying reports whether a track is loaded and not paused.
func (p *AudioPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track != nil && !p.paused
}

// SetVolume sets the volume, clamped to [0, MaxVolume].
func (p *AudioPlayer) SetVolume(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = max(0, min(v, MaxVolume))
}

// Volume returns the volume.
func (p *AudioPlayer) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetEndMarker stops the track with FINISHED once its position reaches pos.
// Zero clears the marker.
func (p *AudioPlayer) SetEndMarker(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endMarker = pos
}

// SetFilterFactory replaces the filter chain. A nil factory plays raw PCM.
func (p *AudioPlayer) SetFilterFactory(f filters.Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factory = f
	p.chain = nil
	if f != nil {
		p.chain = f()
	}
}

// Seek moves the current track to pos and drops buffered audio.
func (p *AudioPlayer) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil {
		return
	}
	p.track.SetPosition(pos)
	p.fifo = p.fifo[:0]
	if p.factory != nil {
		p.chain = p.factory()
	}
}

// Position returns the decoder-reported position of the current track.
func (p *AudioPlayer) Position() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.track == nil {
		return 0, false
	}
	return p.track.Position(), true
}

// ProvidePCM returns the next frame of [audio.FrameLen] interleaved samples.
// It returns false when paused, idle or waiting for data.
func (p *AudioPlayer) ProvidePCM() ([]int16, bool) {
	p.mu.Lock()
	frame, events := p.provideLocked()
	p.mu.Unlock()
	p.emit(events...)
	return frame, frame != nil
}

func (p *AudioPlayer) provideLocked() ([]int16, []Event) {
	if p.track == nil || p.paused {
		return nil, nil
	}
	// Filtered audio buffered past the end marker is dropped.
	if p.markerReached() {
		return nil, []Event{p.endLocked(EndFinished)}
	}

	for len(p.fifo) < audio.FrameLen {
		if p.markerReached() {
			frame := make([]int16, audio.FrameLen)
			copy(frame, p.fifo)
			return p.applyVolume(frame), []Event{p.endLocked(EndFinished)}
		}
		n, err := p.track.ReadPCM(p.readBuf)
		if n > 0 {
			p.lastData = p.now()
			p.stuck = false
			p.appendPCM(p.readBuf[:n])
		}
		switch {
		case errors.Is(err, io.EOF):
			if len(p.fifo) == 0 {
				return nil, []Event{p.endLocked(EndFinished)}
			}
			frame := make([]int16, audio.FrameLen)
			copy(frame, p.fifo)
			return p.applyVolume(frame), []Event{p.endLocked(EndFinished)}
		case err != nil:
			t := p.track
			ex := Event{Type: EventTrackException, Track: t, Err: fmt.Errorf("player: read track: %w", err)}
			return nil, []Event{ex, p.endLocked(EndLoadFailed)}
		case n == 0:
			if !p.stuck && p.now().Sub(p.lastData) >= p.stuckThreshold {
				p.stuck = true
				return nil, []Event{{Type: EventTrackStuck, Track: p.track, Threshold: p.stuckThreshold}}
			}
			return nil, nil
		}
	}

	frame := make([]int16, audio.FrameLen)
	copy(frame, p.fifo)
	p.fifo = append(p.fifo[:0], p.fifo[audio.FrameLen:]...)
	return p.applyVolume(frame), nil
}

func (p *AudioPlayer) markerReached() bool {
	return p.endMarker > 0 && p.track.Position() >= p.endMarker
}

func (p *AudioPlayer) appendPCM(pcm []int16) {
	if p.chain == nil {
		p.fifo = append(p.fifo, pcm...)
		return
	}
	p.chain.Process(pcm, func(out []int16) { p.fifo = append(p.fifo, out...) })
}

func (p *AudioPlayer) applyVolume(frame []int16) []int16 {
	if p.volume == DefaultVolume {
		return frame
	}
	for i, s := range frame {
		frame[i] = audio.Clamp16(int32(s) * int32(p.volume) / DefaultVolume)
	}
	return frame
}

func (p *AudioPlayer) emit(events ...Event) {
	if p.listener == nil {
		return
	}
	for _, ev := range events {
		ev.MixerKey = p.mixerKey
		p.listener(ev)
	}
}
