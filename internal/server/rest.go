package server

import (
	"encoding/json"
	"net/http"

	"github.com/natanbc/andesite/internal/node"
	"github.com/natanbc/andesite/internal/player"
	"github.com/natanbc/andesite/pkg/audio"
)

// VoiceServerUpdate is the payload of a voice server update, as relayed from
// the Discord gateway by the bot.
type VoiceServerUpdate struct {
	SessionID string           `json:"sessionId"`
	GuildID   string           `json:"guildId"`
	ChannelID string           `json:"channelId,omitempty"`
	Event     VoiceServerEvent `json:"event"`
}

// VoiceServerEvent is the raw VOICE_SERVER_UPDATE dispatch.
type VoiceServerEvent struct {
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
	GuildID  string `json:"guild_id"`
}

func (v VoiceServerUpdate) voiceState() audio.VoiceState {
	guild := v.Event.GuildID
	if guild == "" {
		guild = v.GuildID
	}
	return audio.VoiceState{
		GuildID:   guild,
		ChannelID: v.ChannelID,
		SessionID: v.SessionID,
		Token:     v.Event.Token,
		Endpoint:  v.Event.Endpoint,
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Stats())
}

func (s *Server) handleLavalinkStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.LavalinkStats())
}

func (s *Server) handleLoadTracks(w http.ResponseWriter, r *http.Request) {
	res, err := s.node.LoadTracks(r.Context(), r.URL.Query().Get("identifier"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDecodeTrack(w http.ResponseWriter, r *http.Request) {
	entry, err := s.node.DecodeTrack(r.URL.Query().Get("track"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry.Info)
}

func (s *Server) handleDecodeTracks(w http.ResponseWriter, r *http.Request) {
	var tokens []string
	if err := decodeBody(w, r, &tokens); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.node.DecodeTracks(tokens)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleVoiceServerUpdate(w http.ResponseWriter, r *http.Request) {
	var req VoiceServerUpdate
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user := r.Header.Get(HeaderUserID)
	if user == "" {
		s.writeError(w, r, &node.InputError{Err: errMissingUser})
		return
	}
	vs := req.voiceState()
	if err := s.node.VoiceServerUpdate(r.Context(), player.Key{UserID: user, GuildID: vs.GuildID}, vs); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	key, err := playerKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.node.Player(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	key, err := playerKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.node.Stop(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	key, err := playerKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.node.Destroy(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if st == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// rawJSON re-marshals v for commands that accept a raw filters document.
func rawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
