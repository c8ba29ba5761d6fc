// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, audio.VoiceState{GuildID: "g"})
//	frame, ok := conn.Tick() // drive one delivery tick by hand
package mock

import (
	"context"
	"sync"

	"github.com/natanbc/andesite/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection]. It never runs a
// clock of its own; tests drive delivery ticks explicitly via [Connection.Tick].
type Connection struct {
	mu sync.Mutex

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// Sent records every frame obtained through Tick.
	Sent [][]byte

	source  audio.FrameSource
	onClose func(audio.CloseEvent)
}

// SetSource implements [audio.Connection].
func (c *Connection) SetSource(src audio.FrameSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = src
}

// OnClose implements [audio.Connection].
func (c *Connection) OnClose(cb func(audio.CloseEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = cb
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// Tick polls the attached source once, as a real transport would every
// [audio.FrameDuration].
func (c *Connection) Tick() ([]byte, bool) {
	c.mu.Lock()
	src := c.source
	c.mu.Unlock()
	if src == nil {
		return nil, false
	}
	frame, ok := src.Poll()
	if ok {
		c.mu.Lock()
		c.Sent = append(c.Sent, frame)
		c.mu.Unlock()
	}
	return frame, ok
}

// Close simulates the voice socket being closed with ev.
func (c *Connection) Close(ev audio.CloseEvent) {
	c.mu.Lock()
	cb := c.onClose
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect. When nil, a fresh [Connection]
	// is created per call.
	ConnectResult *Connection

	// ConnectError is returned by Connect when non-nil.
	ConnectError error

	// Calls records the voice states passed to Connect.
	Calls []audio.VoiceState

	// Connections records every connection handed out, in order.
	Connections []*Connection

	// Left records the guild ids passed to Leave.
	Left []string
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, state audio.VoiceState) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, state)
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	conn := p.ConnectResult
	if conn == nil {
		conn = &Connection{}
	}
	p.Connections = append(p.Connections, conn)
	return conn, nil
}

// Leave implements [audio.Leaver].
func (p *Platform) Leave(_ context.Context, guildID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Left = append(p.Left, guildID)
	return nil
}

// LeftGuilds returns a copy of the guild ids passed to Leave.
func (p *Platform) LeftGuilds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Left...)
}

// Last returns the most recently handed out connection, or nil.
func (p *Platform) Last() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Connections) == 0 {
		return nil
	}
	return p.Connections[len(p.Connections)-1]
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// Encoder is a PCM passthrough frame encoder: Encode returns the samples as
// little-endian bytes, so tests can inspect mixed output directly.
type Encoder struct {
	mu sync.Mutex

	// EncodeError is returned by Encode when non-nil.
	EncodeError error

	// CallCountEncode records how many frames were encoded.
	CallCountEncode int

	closed bool
}

// Encode converts pcm to bytes.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountEncode++
	if e.EncodeError != nil {
		return nil, e.EncodeError
	}
	return audio.Int16sToBytes(pcm), nil
}

// Close marks the encoder closed.
func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Closed reports whether Close was called.
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
