package player

import (
	"fmt"
	"slices"
	"sync"

	"github.com/natanbc/andesite/internal/filters"
	"github.com/natanbc/andesite/pkg/audio"
)

// DefaultReapAfter is the number of consecutive empty pulls after which an
// idle sub-player is removed, about five seconds of silence.
const DefaultReapAfter = 250

// Encoder turns one PCM frame into a wire frame.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
	Close()
}

// EncoderFactory creates an [Encoder].
type EncoderFactory func() (Encoder, error)

// MixerPlayer is a named sub-player of a [Mixer].
type MixerPlayer struct {
	*AudioPlayer

	key     string
	filters *filters.Configuration
	empty   int
}

// Key returns the sub-player name.
func (mp *MixerPlayer) Key() string { return mp.key }

// Filters returns the sub-player filter configuration. Call
// [MixerPlayer.ApplyFilters] after changing it.
func (mp *MixerPlayer) Filters() *filters.Configuration { return mp.filters }

// ApplyFilters rebuilds the filter chain from the configuration.
func (mp *MixerPlayer) ApplyFilters() {
	mp.SetFilterFactory(mp.filters.Factory())
}

// Mixer combines the output of its sub-players into one stream.
type Mixer struct {
	encMu     sync.Mutex
	encoder   Encoder
	reapAfter int
	opts      []AudioPlayerOption

	mu      sync.Mutex
	players map[string]*MixerPlayer
	order   []string
	closed  bool
}

// NewMixer creates an empty mixer. Sub-players are created with opts.
func NewMixer(enc Encoder, reapAfter int, opts ...AudioPlayerOption) *Mixer {
	if reapAfter <= 0 {
		reapAfter = DefaultReapAfter
	}
	return &Mixer{
		encoder:   enc,
		reapAfter: reapAfter,
		opts:      opts,
		players:   make(map[string]*MixerPlayer),
	}
}

// Player returns the sub-player named key, creating it if needed.
func (m *Mixer) Player(key string) *MixerPlayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mp, ok := m.players[key]; ok {
		return mp
	}
	opts := append(slices.Clone(m.opts), withMixerKey(key))
	mp := &MixerPlayer{
		AudioPlayer: NewAudioPlayer(opts...),
		key:         key,
		filters:     filters.New(),
	}
	m.players[key] = mp
	m.order = append(m.order, key)
	return mp
}

// Get returns the sub-player named key.
func (m *Mixer) Get(key string) (*MixerPlayer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.players[key]
	return mp, ok
}

// Remove destroys and removes the sub-player named key.
func (m *Mixer) Remove(key string) {
	m.mu.Lock()
	mp, ok := m.players[key]
	if ok {
		m.removeLocked(key)
	}
	m.mu.Unlock()
	if ok {
		mp.Destroy()
	}
}

func (m *Mixer) removeLocked(key string) {
	delete(m.players, key)
	m.order = slices.DeleteFunc(m.order, func(k string) bool { return k == key })
}

// Players returns the sub-players in creation order.
func (m *Mixer) Players() []*MixerPlayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MixerPlayer, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.players[k])
	}
	return out
}

// IsEmpty reports whether the mixer has no sub-players.
func (m *Mixer) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players) == 0
}

// IsPlaying reports whether any sub-player is playing.
func (m *Mixer) IsPlaying() bool {
	for _, mp := range m.Players() {
		if mp.IsPlaying() {
			return true
		}
	}
	return false
}

// MixPCM pulls one frame from every sub-player and averages them.
//
// Contributors are folded in creation order as a running pairwise mean:
// the first frame is taken as is and each further frame is averaged with
// the accumulated result. Sub-players without a frame this tick do not
// contribute. A sub-player without a track that stayed empty for more than
// the reap limit is removed.
func (m *Mixer) MixPCM() ([]int16, bool) {
	var mixed []int16
	var reaped []*MixerPlayer

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false
	}
	for _, k := range slices.Clone(m.order) {
		mp := m.players[k]
		pcm, ok := mp.ProvidePCM()
		if !ok {
			mp.empty++
			if mp.empty > m.reapAfter && mp.PlayingTrack() == nil {
				m.removeLocked(k)
				reaped = append(reaped, mp)
			}
			continue
		}
		mp.empty = 0
		if mixed == nil {
			mixed = pcm
			continue
		}
		for i := range mixed {
			mixed[i] = int16((int32(mixed[i]) + int32(pcm[i])) / 2)
		}
	}
	m.mu.Unlock()

	for _, mp := range reaped {
		mp.Destroy()
	}
	return mixed, mixed != nil
}

// Provide mixes and encodes one frame.
func (m *Mixer) Provide() ([]byte, bool, error) {
	pcm, ok := m.MixPCM()
	if !ok {
		return nil, false, nil
	}
	if len(pcm) != audio.FrameLen {
		return nil, false, fmt.Errorf("player: mixer: frame has %d samples", len(pcm))
	}
	m.encMu.Lock()
	defer m.encMu.Unlock()
	if m.encoder == nil {
		return nil, false, nil
	}
	frame, err := m.encoder.Encode(pcm)
	if err != nil {
		return nil, false, fmt.Errorf("player: mixer: %w", err)
	}
	return frame, true, nil
}

// Close destroys every sub-player and releases the encoder.
func (m *Mixer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	players := m.players
	m.players = make(map[string]*MixerPlayer)
	m.order = nil
	m.mu.Unlock()

	for _, mp := range players {
		mp.Destroy()
	}
	m.encMu.Lock()
	m.encoder.Close()
	m.encoder = nil
	m.encMu.Unlock()
}
