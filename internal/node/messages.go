package node

import (
	"github.com/natanbc/andesite/internal/player"
)

// Outbound message ops.
const (
	OpPlayerUpdate = "player-update"
	OpEvent        = "event"
	OpStats        = "stats"
)

// PlayerUpdate carries a player state snapshot.
type PlayerUpdate struct {
	Op      string       `json:"op"`
	UserID  string       `json:"userId"`
	GuildID string       `json:"guildId"`
	State   player.State `json:"state"`
}

// Exception describes a track failure.
type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// TrackEvent carries a track lifecycle event.
type TrackEvent struct {
	Op       string `json:"op"`
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	GuildID  string `json:"guildId"`
	Track    string `json:"track,omitempty"`
	MixerKey string `json:"mixerPlayer,omitempty"`

	Reason       string `json:"reason,omitempty"`
	MayStartNext *bool  `json:"mayStartNext,omitempty"`

	Error     string     `json:"error,omitempty"`
	Exception *Exception `json:"exception,omitempty"`

	ThresholdMs int64 `json:"thresholdMs,omitempty"`
}

// WebSocketClosedEvent reports a voice socket closure to clients.
type WebSocketClosedEvent struct {
	Op       string `json:"op"`
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	GuildID  string `json:"guildId"`
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

// EventWebSocketClosed is the type of [WebSocketClosedEvent].
const EventWebSocketClosed = "WebSocketClosedEvent"
