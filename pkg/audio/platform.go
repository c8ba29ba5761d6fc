// Package audio defines the voice transport boundary of the node and a small
// set of PCM helpers shared by the playback engine.
//
// The two primary abstractions are:
//
//   - [Platform] establishes a voice connection for a session and returns a [Connection].
//   - [Connection] is an active outbound voice stream. It pulls one encoded frame
//     per tick from the attached [FrameSource] and sends it to the remote peer.
//
// Implementations live in adapter packages (e.g., audio/discord). The
// interfaces are intentionally narrow: the node never touches handshakes,
// encryption or RTP framing.
package audio

import (
	"context"
	"time"
)

// FrameDuration is the length of one audio frame, the node's real-time cadence.
const FrameDuration = 20 * time.Millisecond

// VoiceState carries the information a client forwards from its gateway so the
// node can join the voice channel on its behalf.
type VoiceState struct {
	// GuildID identifies the guild the voice channel belongs to.
	GuildID string `json:"guildId"`

	// ChannelID is the voice channel to join. Adapters that own a gateway
	// session (e.g. audio/discord) require it.
	ChannelID string `json:"channelId,omitempty"`

	// SessionID is the gateway voice session id.
	SessionID string `json:"sessionId"`

	// Token is the voice server token.
	Token string `json:"token"`

	// Endpoint is the voice server host.
	Endpoint string `json:"endpoint"`
}

// CloseEvent describes a voice socket closure. It is reported as an ordinary
// lifecycle event, never as an error returned to callers.
type CloseEvent struct {
	Code     int
	Reason   string
	ByRemote bool
}

// FrameSource is polled by a [Connection] once per tick. Poll must never
// block; returning ok=false means no frame is sent for this tick.
type FrameSource interface {
	Poll() (frame []byte, ok bool)
}

// FrameSourceFunc adapts a plain function to [FrameSource].
type FrameSourceFunc func() ([]byte, bool)

// Poll calls f.
func (f FrameSourceFunc) Poll() ([]byte, bool) { return f() }

// Connection represents an active outbound voice stream.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// SetSource attaches the frame source polled on every tick. A nil source
	// stops sending without closing the connection.
	SetSource(src FrameSource)

	// OnClose registers cb as the callback invoked when the voice socket
	// closes. Only one callback may be registered at a time.
	OnClose(cb func(CloseEvent))

	// Disconnect tears down the connection. It is safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice transport.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect establishes a voice connection described by state. The supplied
	// ctx governs the connection attempt only.
	Connect(ctx context.Context, state VoiceState) (Connection, error)
}

// Leaver is implemented by platforms that can leave a guild's voice channel
// without holding a [Connection] for it.
type Leaver interface {
	Leave(ctx context.Context, guildID string) error
}
