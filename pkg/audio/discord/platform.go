// Package discord provides an [audio.Platform] backed by Discord voice
// channels via the bwmarrin/discordgo library.
//
// The platform owns a bot gateway session. discordgo negotiates its own voice
// server, so of the forwarded [audio.VoiceState] only the guild and channel
// are used; the session id, token and endpoint are logged and ignored.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/natanbc/andesite/pkg/audio"
)

var (
	_ audio.Platform = (*Platform)(nil)
	_ audio.Leaver   = (*Platform)(nil)
)

// closeDisconnected is the voice close code reported when the bot is moved
// out of the channel or kicked.
const closeDisconnected = 4014

// ErrNoChannel is returned by Connect when the voice state has no channel id.
var ErrNoChannel = errors.New("discord: voice state has no channel id")

// Option configures a [Platform].
type Option func(*Platform)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Platform) { p.log = l }
}

// Platform implements [audio.Platform] on a discordgo session.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	log     *slog.Logger

	mu    sync.Mutex
	conns map[string]*Connection // by guild id

	removeHandler func()
}

// Open creates a bot session for token, connects it to the gateway and
// returns a platform using it. [Platform.Close] closes the session.
func Open(token string, opts ...Option) (*Platform, error) {
	if token == "" {
		return nil, errors.New("discord: bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return New(session, opts...), nil
}

// New returns a platform on an already opened session.
func New(session *discordgo.Session, opts ...Option) *Platform {
	p := &Platform{
		session: session,
		log:     slog.Default(),
		conns:   make(map[string]*Connection),
	}
	for _, o := range opts {
		o(p)
	}
	p.removeHandler = session.AddHandler(p.handleVoiceStateUpdate)
	return p
}

// Connect joins the voice channel of state and returns a connection sending
// on it. An existing connection for the same guild is replaced.
func (p *Platform) Connect(ctx context.Context, state audio.VoiceState) (audio.Connection, error) {
	if state.ChannelID == "" {
		return nil, ErrNoChannel
	}
	p.log.Debug("discord: joining voice channel",
		"guild", state.GuildID, "channel", state.ChannelID, "session", state.SessionID, "endpoint", state.Endpoint)

	p.mu.Lock()
	old := p.conns[state.GuildID]
	delete(p.conns, state.GuildID)
	p.mu.Unlock()
	if old != nil {
		_ = old.Disconnect()
	}

	vc, err := p.session.ChannelVoiceJoin(ctx, state.GuildID, state.ChannelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", state.ChannelID, err)
	}
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}

	conn := newConnection(vc, vc.OpusSend, p.log.With("guild", state.GuildID))
	conn.forget = func() { p.forget(state.GuildID, conn) }

	p.mu.Lock()
	p.conns[state.GuildID] = conn
	p.mu.Unlock()
	return conn, nil
}

// Leave disconnects the connection of guildID, if any.
func (p *Platform) Leave(_ context.Context, guildID string) error {
	p.mu.Lock()
	conn := p.conns[guildID]
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Disconnect()
}

// Close disconnects every connection and closes the gateway session.
func (p *Platform) Close() error {
	if p.removeHandler != nil {
		p.removeHandler()
	}
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	var errs []error
	for _, c := range conns {
		errs = append(errs, c.Disconnect())
	}
	errs = append(errs, p.session.Close())
	return errors.Join(errs...)
}

func (p *Platform) forget(guildID string, c *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[guildID] == c {
		delete(p.conns, guildID)
	}
}

// handleVoiceStateUpdate reports the bot being removed from a voice channel
// as a close of that guild's connection.
func (p *Platform) handleVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.VoiceState == nil || vs.ChannelID != "" {
		return
	}
	if s.State == nil || s.State.User == nil || vs.UserID != s.State.User.ID {
		return
	}
	p.mu.Lock()
	conn := p.conns[vs.GuildID]
	p.mu.Unlock()
	if conn == nil {
		return
	}
	conn.closed(audio.CloseEvent{Code: closeDisconnected, Reason: "disconnected", ByRemote: true})
}
