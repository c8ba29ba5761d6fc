package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/natanbc/andesite/internal/event"
	"github.com/natanbc/andesite/internal/observe"
	"github.com/natanbc/andesite/internal/player"
	"github.com/natanbc/andesite/internal/reactor"
	"github.com/natanbc/andesite/pkg/audio"
)

// ErrNoVoice is returned by [Node.VoiceServerUpdate] without a voice
// transport.
var ErrNoVoice = errors.New("node: no voice transport configured")

// VoiceServerUpdate connects the player of key to the voice server in vs and
// attaches the player as the frame source. A previous connection of the
// player is closed.
func (n *Node) VoiceServerUpdate(ctx context.Context, key player.Key, vs audio.VoiceState) error {
	if n.voice == nil {
		return ErrNoVoice
	}
	switch {
	case vs.GuildID == "":
		vs.GuildID = key.GuildID
	case vs.GuildID != key.GuildID:
		return inputf("voice state guild %q does not match %q", vs.GuildID, key.GuildID)
	}
	if vs.SessionID == "" || vs.Token == "" {
		return inputf("voice state needs sessionId and token")
	}
	if err := n.runHooks(ctx, Command{Op: "voice-server-update", Key: key, Payload: vs}); err != nil {
		return err
	}

	ctx, span := observe.StartSpan(ctx, "node.voice_connect")
	defer span.End()
	conn, err := n.voice.Connect(ctx, vs)
	if err != nil {
		return fmt.Errorf("node: voice connect: %w", err)
	}

	_, err = reactor.Do(ctx, n.loop, func() (struct{}, error) {
		s, err := n.session(key)
		if err != nil {
			return struct{}{}, err
		}
		n.attach(ctx, s)
		old := s.voice
		s.voice = conn
		conn.OnClose(func(ev audio.CloseEvent) { n.onVoiceClosed(s, conn, ev) })
		conn.SetSource(s.Player)
		if old != nil && old != conn {
			old.SetSource(nil)
			if err := old.Disconnect(); err != nil {
				n.log.Warn("node: close previous voice connection", "guild", key.GuildID, "err", err)
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		_ = conn.Disconnect()
		return err
	}
	n.log.Info("node: voice connected", "user", key.UserID, "guild", key.GuildID, "endpoint", vs.Endpoint)
	return nil
}

func (n *Node) onVoiceClosed(s *Session, conn audio.Connection, ev audio.CloseEvent) {
	n.log.Info("node: voice socket closed", "guild", s.Key.GuildID, "code", ev.Code, "reason", ev.Reason, "by_remote", ev.ByRemote)
	_ = n.loop.Post(func() {
		if s.voice == conn {
			s.voice = nil
		}
	})
	n.dispatcher.WebSocketClosed(event.WebSocketClosed{
		UserID:   s.Key.UserID,
		GuildID:  s.Key.GuildID,
		Code:     ev.Code,
		Reason:   ev.Reason,
		ByRemote: ev.ByRemote,
	})
	s.Emitter.Emit(WebSocketClosedEvent{
		Op:       OpEvent,
		Type:     EventWebSocketClosed,
		UserID:   s.Key.UserID,
		GuildID:  s.Key.GuildID,
		Code:     ev.Code,
		Reason:   ev.Reason,
		ByRemote: ev.ByRemote,
	})
}
