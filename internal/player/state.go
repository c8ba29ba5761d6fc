package player

import (
	"github.com/natanbc/andesite/internal/filters"
)

// FrameStats is the wire form of the frame loss counter.
type FrameStats struct {
	Loss    int  `json:"loss"`
	Success int  `json:"success"`
	Usable  bool `json:"usable"`
}

// MixerPlayerState is the snapshot of one mixer sub-player.
type MixerPlayerState struct {
	Time     int64                      `json:"time"`
	Position *int64                     `json:"position"`
	Paused   bool                       `json:"paused"`
	Volume   int                        `json:"volume"`
	Filters  map[string]filters.Encoded `json:"filters"`
}

// State is the snapshot of a [Player] sent to clients.
type State struct {
	Time         int64                       `json:"time"`
	Position     *int64                      `json:"position"`
	Paused       bool                        `json:"paused"`
	Volume       int                         `json:"volume"`
	Filters      map[string]filters.Encoded  `json:"filters"`
	Mixer        map[string]MixerPlayerState `json:"mixer"`
	MixerEnabled bool                        `json:"mixerEnabled"`
	MixerState   MixerState                  `json:"mixerState"`
	Frame        FrameStats                  `json:"frame"`
}

// EncodeState snapshots the player. Positions are in milliseconds.
func (p *Player) EncodeState() State {
	now := p.now().UnixMilli()
	st := State{
		Time:       now,
		Paused:     p.primary.IsPaused(),
		Volume:     p.primary.Volume(),
		Filters:    p.filters.Encode(),
		Mixer:      map[string]MixerPlayerState{},
		MixerState: p.MixerState(),
		Frame: FrameStats{
			Loss:    p.counter.LastMinuteLoss().Sum(),
			Success: p.counter.LastMinuteSuccess().Sum(),
			Usable:  p.counter.IsDataUsable(),
		},
	}
	st.MixerEnabled = st.MixerState == MixerEnabled || st.MixerState == MixerDisabling
	if pos, ok := p.Position(); ok {
		ms := pos.Milliseconds()
		st.Position = &ms
	}
	if m := p.mixer.Load(); m != nil {
		for _, mp := range m.Players() {
			mps := MixerPlayerState{
				Time:    now,
				Paused:  mp.IsPaused(),
				Volume:  mp.Volume(),
				Filters: mp.filters.Encode(),
			}
			if pos, ok := mp.Position(); ok {
				ms := pos.Milliseconds()
				mps.Position = &ms
			}
			st.Mixer[mp.key] = mps
		}
	}
	return st
}
