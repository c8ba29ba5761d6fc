package discord

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/natanbc/andesite/pkg/audio"
)

var _ audio.Connection = (*Connection)(nil)

// disconnectTimeout bounds the voice websocket teardown.
const disconnectTimeout = 5 * time.Second

// silenceTicks is how many empty ticks pass before the speaking flag is
// cleared.
const silenceTicks = 5

// voiceConn is the part of *discordgo.VoiceConnection a Connection drives.
type voiceConn interface {
	Speaking(b bool) error
	Disconnect(ctx context.Context) error
}

type sourceBox struct{ src audio.FrameSource }

// Connection sends one frame per [audio.FrameDuration] from its source to a
// discordgo voice connection. Frames are already Opus encoded.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc   voiceConn
	send chan<- []byte
	log  *slog.Logger

	source atomic.Pointer[sourceBox]

	closeMu sync.Mutex
	onClose func(audio.CloseEvent)

	// forget removes the connection from its platform.
	forget func()

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

func newConnection(vc voiceConn, send chan<- []byte, log *slog.Logger) *Connection {
	c := &Connection{
		vc:      vc,
		send:    send,
		log:     log,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.sendLoop()
	return c
}

// SetSource implements [audio.Connection].
func (c *Connection) SetSource(src audio.FrameSource) {
	if src == nil {
		c.source.Store(nil)
		return
	}
	c.source.Store(&sourceBox{src: src})
}

// OnClose implements [audio.Connection].
func (c *Connection) OnClose(cb func(audio.CloseEvent)) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.onClose = cb
}

// Disconnect stops the send loop and leaves the voice channel. Later calls
// return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.stopped
		if c.forget != nil {
			c.forget()
		}
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		err = c.vc.Disconnect(ctx)
	})
	return err
}

// closed reports ev to the close callback and stops sending. The voice
// connection is already gone, so it is not disconnected again.
func (c *Connection) closed(ev audio.CloseEvent) {
	first := false
	c.closeOnce.Do(func() {
		first = true
		close(c.done)
		<-c.stopped
		if c.forget != nil {
			c.forget()
		}
	})
	if !first {
		return
	}
	c.closeMu.Lock()
	cb := c.onClose
	c.closeMu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (c *Connection) sendLoop() {
	defer close(c.stopped)
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	speaking := false
	idle := 0
	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return
		case <-ticker.C:
		}

		frame, ok := c.poll()
		if !ok {
			idle++
			if speaking && idle >= silenceTicks {
				c.setSpeaking(false)
				speaking = false
			}
			continue
		}
		idle = 0
		if !speaking {
			c.setSpeaking(true)
			speaking = true
		}
		select {
		case c.send <- frame:
		default:
			// The voice websocket is behind; dropping keeps the clock.
			c.log.Debug("discord: dropped frame, send queue full")
		}
	}
}

func (c *Connection) poll() ([]byte, bool) {
	box := c.source.Load()
	if box == nil {
		return nil, false
	}
	return box.src.Poll()
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		c.log.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}
