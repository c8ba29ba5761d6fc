package node

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/natanbc/andesite/internal/filters"
	"github.com/natanbc/andesite/internal/player"
	"github.com/natanbc/andesite/internal/reactor"
	"github.com/natanbc/andesite/pkg/audio"
	"github.com/natanbc/andesite/pkg/track"
)

// PlayRequest starts a track on the primary player. Times are milliseconds.
type PlayRequest struct {
	Track     string `json:"track"`
	Start     *int64 `json:"start,omitempty"`
	End       *int64 `json:"end,omitempty"`
	Pause     *bool  `json:"pause,omitempty"`
	Volume    *int   `json:"volume,omitempty"`
	NoReplace bool   `json:"noReplace,omitempty"`
}

// PauseRequest pauses or resumes the primary player.
type PauseRequest struct {
	Pause bool `json:"pause"`
}

// SeekRequest moves the primary track to Position milliseconds.
type SeekRequest struct {
	Position int64 `json:"position"`
}

// VolumeRequest sets the primary volume.
type VolumeRequest struct {
	Volume int `json:"volume"`
}

// UpdateRequest applies several settings in one step.
type UpdateRequest struct {
	Pause    *bool           `json:"pause,omitempty"`
	Position *int64          `json:"position,omitempty"`
	Volume   *int            `json:"volume,omitempty"`
	Filters  json.RawMessage `json:"filters,omitempty"`
}

// MixerPlayerRequest updates one mixer sub-player. A JSON null in place of
// the object removes the sub-player.
type MixerPlayerRequest struct {
	Track     *string         `json:"track,omitempty"`
	Start     *int64          `json:"start,omitempty"`
	End       *int64          `json:"end,omitempty"`
	Pause     *bool           `json:"pause,omitempty"`
	Volume    *int            `json:"volume,omitempty"`
	Position  *int64          `json:"position,omitempty"`
	Filters   json.RawMessage `json:"filters,omitempty"`
	NoReplace bool            `json:"noReplace,omitempty"`
}

// MixerRequest switches the mixer and updates its sub-players.
type MixerRequest struct {
	Enable  *bool                          `json:"enable,omitempty"`
	Players map[string]*MixerPlayerRequest `json:"players,omitempty"`
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

func validVolume(v *int) error {
	if v != nil && (*v < 0 || *v > player.MaxVolume) {
		return inputf("volume %d out of range [0, %d]", *v, player.MaxVolume)
	}
	return nil
}

func validRange(start, end *int64) error {
	if start != nil && *start < 0 {
		return inputf("start %d is negative", *start)
	}
	if end != nil && *end < 0 {
		return inputf("end %d is negative", *end)
	}
	if start != nil && end != nil && *end > 0 && *end <= *start {
		return inputf("end %d is not after start %d", *end, *start)
	}
	return nil
}

func validPosition(p *int64) error {
	if p != nil && *p < 0 {
		return inputf("position %d is negative", *p)
	}
	return nil
}

func filterError(err error) error {
	if errors.Is(err, filters.ErrInvalid) {
		return &InputError{Err: err}
	}
	return err
}

// exec runs hooks and then fn on the reactor with the session of key,
// returning the resulting state.
func (n *Node) exec(ctx context.Context, op string, key player.Key, payload any, fn func(s *Session) error) (*player.State, error) {
	if err := n.runHooks(ctx, Command{Op: op, Key: key, Payload: payload}); err != nil {
		return nil, err
	}
	return reactor.Do(ctx, n.loop, func() (*player.State, error) {
		s, err := n.session(key)
		if err != nil {
			return nil, err
		}
		n.attach(ctx, s)
		if err := fn(s); err != nil {
			return nil, err
		}
		st := s.Player.EncodeState()
		return &st, nil
	})
}

// decode returns the track of token, or nil if the token is undecodable.
func (n *Node) decode(token string) track.Track {
	t, err := n.decoder.Decode(token)
	if err != nil {
		n.log.Debug("node: undecodable track", "err", err)
		return nil
	}
	return t
}

// Play starts a track. An undecodable token leaves the player unchanged.
func (n *Node) Play(ctx context.Context, key player.Key, req PlayRequest) (*player.State, error) {
	if err := errors.Join(validVolume(req.Volume), validRange(req.Start, req.End)); err != nil {
		return nil, err
	}
	t := n.decode(req.Track)
	return n.exec(ctx, "play", key, req, func(s *Session) error {
		if t == nil {
			return nil
		}
		opts := player.PlayOptions{Pause: req.Pause, Volume: req.Volume, NoReplace: req.NoReplace}
		if req.Start != nil {
			opts.Start = ms(*req.Start)
		}
		if req.End != nil {
			opts.End = ms(*req.End)
		}
		if !s.Player.Play(t, opts) {
			_ = t.Close()
		}
		return nil
	})
}

// Stop stops the primary track.
func (n *Node) Stop(ctx context.Context, key player.Key) (*player.State, error) {
	return n.exec(ctx, "stop", key, nil, func(s *Session) error {
		s.Player.Stop()
		return nil
	})
}

// Pause pauses or resumes the primary player.
func (n *Node) Pause(ctx context.Context, key player.Key, req PauseRequest) (*player.State, error) {
	return n.exec(ctx, "pause", key, req, func(s *Session) error {
		s.Player.SetPaused(req.Pause)
		return nil
	})
}

// Seek moves the primary track.
func (n *Node) Seek(ctx context.Context, key player.Key, req SeekRequest) (*player.State, error) {
	if err := validPosition(&req.Position); err != nil {
		return nil, err
	}
	return n.exec(ctx, "seek", key, req, func(s *Session) error {
		s.Player.Seek(ms(req.Position))
		return nil
	})
}

// Volume sets the primary volume.
func (n *Node) Volume(ctx context.Context, key player.Key, req VolumeRequest) (*player.State, error) {
	if err := validVolume(&req.Volume); err != nil {
		return nil, err
	}
	return n.exec(ctx, "volume", key, req, func(s *Session) error {
		s.Player.SetVolume(req.Volume)
		return nil
	})
}

// Filters merges a partial filter configuration into the primary player.
func (n *Node) Filters(ctx context.Context, key player.Key, raw json.RawMessage) (*player.State, error) {
	return n.exec(ctx, "filters", key, raw, func(s *Session) error {
		return filterError(s.Player.UpdateFilters(raw))
	})
}

// Update applies filters, pause, position and volume in one step. Invalid
// filters reject the whole update.
func (n *Node) Update(ctx context.Context, key player.Key, req UpdateRequest) (*player.State, error) {
	if err := errors.Join(validVolume(req.Volume), validPosition(req.Position)); err != nil {
		return nil, err
	}
	return n.exec(ctx, "update", key, req, func(s *Session) error {
		if len(req.Filters) > 0 {
			if err := s.Player.UpdateFilters(req.Filters); err != nil {
				return filterError(err)
			}
		}
		if req.Pause != nil {
			s.Player.SetPaused(*req.Pause)
		}
		if req.Position != nil {
			s.Player.Seek(ms(*req.Position))
		}
		if req.Volume != nil {
			s.Player.SetVolume(*req.Volume)
		}
		return nil
	})
}

// Mixer updates mixer sub-players and requests a provider switch.
func (n *Node) Mixer(ctx context.Context, key player.Key, req MixerRequest) (*player.State, error) {
	tracks := make(map[string]track.Track)
	for name, pr := range req.Players {
		if name == "" {
			return nil, inputf("mixer player name is empty")
		}
		if pr == nil {
			continue
		}
		if err := errors.Join(validVolume(pr.Volume), validRange(pr.Start, pr.End), validPosition(pr.Position)); err != nil {
			return nil, err
		}
		if pr.Track != nil {
			if t := n.decode(*pr.Track); t != nil {
				tracks[name] = t
			}
		}
	}

	return n.exec(ctx, "mixer", key, req, func(s *Session) error {
		// Sorted for deterministic sub-player creation order.
		for _, name := range slices.Sorted(maps.Keys(req.Players)) {
			pr := req.Players[name]
			if pr == nil {
				if m := s.Player.Mixer(); m != nil {
					m.Remove(name)
				}
				continue
			}
			m, err := s.Player.EnsureMixer()
			if err != nil {
				return err
			}
			if err := applyMixerPlayer(m.Player(name), pr, tracks[name]); err != nil {
				return err
			}
		}
		if req.Enable != nil {
			if *req.Enable {
				return s.Player.SwitchToMixer()
			}
			s.Player.SwitchToSingle()
		}
		return nil
	})
}

func applyMixerPlayer(mp *player.MixerPlayer, pr *MixerPlayerRequest, t track.Track) error {
	if len(pr.Filters) > 0 {
		if err := mp.Filters().Update(pr.Filters); err != nil {
			return filterError(err)
		}
		mp.ApplyFilters()
	}
	if pr.Pause != nil {
		mp.SetPaused(*pr.Pause)
	}
	if pr.Volume != nil {
		mp.SetVolume(*pr.Volume)
	}
	if t != nil {
		if pr.Start != nil {
			t.SetPosition(ms(*pr.Start))
		}
		if !mp.PlayTrack(t, pr.NoReplace) {
			_ = t.Close()
		} else if pr.End != nil && *pr.End > 0 {
			mp.SetEndMarker(ms(*pr.End))
		}
	}
	if pr.Position != nil {
		mp.Seek(ms(*pr.Position))
	}
	return nil
}

// Player returns the state of the player of key.
func (n *Node) Player(ctx context.Context, key player.Key) (*player.State, error) {
	return reactor.Do(ctx, n.loop, func() (*player.State, error) {
		s, ok := n.registry.Get(key)
		if !ok {
			return nil, ErrNotFound
		}
		n.attach(ctx, s)
		st := s.Player.EncodeState()
		return &st, nil
	})
}

// Destroy removes the player of key and tears down its voice connection,
// whether or not the player existed. It returns the final state, or nil.
func (n *Node) Destroy(ctx context.Context, key player.Key) (*player.State, error) {
	if err := n.runHooks(ctx, Command{Op: "destroy", Key: key}); err != nil {
		return nil, err
	}
	return reactor.Do(ctx, n.loop, func() (*player.State, error) {
		s, ok := n.registry.Get(key)
		if !ok {
			if l, ok := n.voice.(audio.Leaver); ok {
				if err := l.Leave(ctx, key.GuildID); err != nil {
					n.log.Warn("node: leave voice failed", "guild", key.GuildID, "err", err)
				}
			}
			return nil, nil
		}
		st := s.Player.EncodeState()
		n.teardown(ctx, s)
		return &st, nil
	})
}
