package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/natanbc/andesite/internal/node"
)

// Compatibility server ops.
const (
	compatOpPlayerUpdate = "playerUpdate"
	compatOpEvent        = "event"
)

// flexInt accepts a JSON number or a numeric string, as sent by older
// clients for startTime and endTime.
type flexInt struct {
	Value int64
	Set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		f.Value, f.Set = v, true
		return nil
	}
	if err := json.Unmarshal(b, &f.Value); err != nil {
		return err
	}
	f.Set = true
	return nil
}

func (f flexInt) ptr() *int64 {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

type compatEnvelope struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

type compatVoiceUpdate struct {
	SessionID string           `json:"sessionId"`
	Event     VoiceServerEvent `json:"event"`
}

type compatPlay struct {
	Track     string  `json:"track"`
	StartTime flexInt `json:"startTime"`
	EndTime   flexInt `json:"endTime"`
	Pause     *bool   `json:"pause"`
	Volume    *int    `json:"volume"`
	NoReplace bool    `json:"noReplace"`
}


type compatPlayerState struct {
	Time     int64  `json:"time"`
	Position *int64 `json:"position,omitempty"`
}

type compatPlayerUpdate struct {
	Op      string            `json:"op"`
	GuildID string            `json:"guildId"`
	State   compatPlayerState `json:"state"`
}

type compatEvent struct {
	Op      string `json:"op"`
	Type    string `json:"type"`
	GuildID string `json:"guildId"`
	Track   string `json:"track,omitempty"`

	Reason    string          `json:"reason,omitempty"`
	Error     string          `json:"error,omitempty"`
	Exception *node.Exception `json:"exception,omitempty"`

	ThresholdMs int64 `json:"thresholdMs,omitempty"`

	Code     int  `json:"code,omitempty"`
	ByRemote bool `json:"byRemote,omitempty"`
}

// translateCompat maps node messages to the compatibility wire shape. Mixer
// events have no counterpart and are dropped.
func translateCompat(msg any) (any, bool) {
	switch m := msg.(type) {
	case node.PlayerUpdate:
		return compatPlayerUpdate{
			Op:      compatOpPlayerUpdate,
			GuildID: m.GuildID,
			State:   compatPlayerState{Time: m.State.Time, Position: m.State.Position},
		}, true
	case node.TrackEvent:
		if m.MixerKey != "" {
			return nil, false
		}
		return compatEvent{
			Op:          compatOpEvent,
			Type:        m.Type,
			GuildID:     m.GuildID,
			Track:       m.Track,
			Reason:      m.Reason,
			Error:       m.Error,
			Exception:   m.Exception,
			ThresholdMs: m.ThresholdMs,
		}, true
	case node.WebSocketClosedEvent:
		return compatEvent{
			Op:       compatOpEvent,
			Type:     m.Type,
			GuildID:  m.GuildID,
			Reason:   m.Reason,
			Code:     m.Code,
			ByRemote: m.ByRemote,
		}, true
	default:
		return msg, true
	}
}

func (s *Server) handleCompat(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.accept(w, r, "compat", translateCompat)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.pushCompatStats(ctx, cs)
	s.serve(ctx, cs, "compat", s.handleCompatMessage)
}

// pushCompatStats sends node stats right away and then periodically.
func (s *Server) pushCompatStats(ctx context.Context, cs *clientSession) {
	_ = cs.ws.Send(s.node.LavalinkStats())
	if s.compatStats <= 0 {
		return
	}
	t := time.NewTicker(s.compatStats)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = cs.ws.Send(s.node.LavalinkStats())
		}
	}
}

func (s *Server) handleCompatMessage(ctx context.Context, cs *clientSession, data []byte) {
	var env compatEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Debug("server: malformed compat message", "connection", cs.sub.ID(), "err", err)
		return
	}
	key, err := cs.key(env.GuildID)
	if err != nil {
		s.log.Debug("server: compat message without guild", "op", env.Op, "connection", cs.sub.ID())
		return
	}

	switch env.Op {
	case "voiceUpdate":
		var req compatVoiceUpdate
		if err = unmarshalInput(data, &req); err == nil {
			err = s.node.VoiceServerUpdate(ctx, key, VoiceServerUpdate{
				SessionID: req.SessionID,
				GuildID:   env.GuildID,
				Event:     req.Event,
			}.voiceState())
		}
	case "play":
		var req compatPlay
		if err = unmarshalInput(data, &req); err == nil {
			_, err = s.node.Play(ctx, key, node.PlayRequest{
				Track:     req.Track,
				Start:     req.StartTime.ptr(),
				End:       req.EndTime.ptr(),
				Pause:     req.Pause,
				Volume:    req.Volume,
				NoReplace: req.NoReplace,
			})
		}
	case "stop":
		_, err = s.node.Stop(ctx, key)
	case "pause":
		_, err = runCommand(ctx, data, key, s.node.Pause)
	case "seek":
		_, err = runCommand(ctx, data, key, s.node.Seek)
	case "volume":
		_, err = runCommand(ctx, data, key, s.node.Volume)
	case "filters":
		var doc json.RawMessage
		if doc, err = compatFilters(data); err == nil {
			_, err = s.node.Filters(ctx, key, doc)
		}
	case "destroy":
		_, err = s.node.Destroy(ctx, key)
	default:
		s.log.Debug("server: unknown compat op", "op", env.Op, "connection", cs.sub.ID())
		return
	}
	if err != nil {
		s.log.Warn("server: compat command failed", "op", env.Op, "guild", env.GuildID, "err", err)
	}
}

// compatFilters converts a compatibility filters message. Its volume is a
// bare multiplier and its equalizer a bare band list; other kinds share the
// native shape.
func compatFilters(data []byte) (json.RawMessage, error) {
	payload, err := stripEnvelope(data)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := unmarshalInput(payload, &doc); err != nil {
		return nil, err
	}
	if v, ok := doc["volume"]; ok {
		var mult float64
		if json.Unmarshal(v, &mult) == nil {
			doc["volume"] = rawJSON(map[string]float64{"volume": mult})
		}
	}
	if eq, ok := doc["equalizer"]; ok && len(bytes.TrimSpace(eq)) > 0 && bytes.TrimSpace(eq)[0] == '[' {
		doc["equalizer"] = rawJSON(map[string]json.RawMessage{"bands": eq})
	}
	return rawJSON(doc), nil
}
