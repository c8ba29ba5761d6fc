package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/natanbc/andesite/internal/event"
	"github.com/natanbc/andesite/internal/node"
	"github.com/natanbc/andesite/internal/observe"
	"github.com/natanbc/andesite/internal/player"
)

// Native server ops.
const (
	opConnectionID = "connection-id"
	opMetadata     = "metadata"
	opPong         = "pong"
	opPlayer       = "player"
	opError        = "error"
)

// sendQueue is the number of outbound messages a connection may lag behind.
const sendQueue = 256

var (
	errConnClosed   = errors.New("server: connection closed")
	errSlowConsumer = errors.New("server: connection send queue full")
)

// wsConn is the live [event.Sink] of one websocket. Send never blocks;
// messages are written by a single writer goroutine.
type wsConn struct {
	conn *websocket.Conn
	// translate maps node messages to the wire shape of the protocol.
	// Returning false drops the message.
	translate func(any) (any, bool)

	out  chan any
	done chan struct{}
	once sync.Once
}

func newWSConn(conn *websocket.Conn, translate func(any) (any, bool)) *wsConn {
	return &wsConn{
		conn:      conn,
		translate: translate,
		out:       make(chan any, sendQueue),
		done:      make(chan struct{}),
	}
}

// Send implements [event.Sink].
func (c *wsConn) Send(msg any) error {
	if c.translate != nil {
		var ok bool
		if msg, ok = c.translate(msg); !ok {
			return nil
		}
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return errSlowConsumer
	}
}

// writeLoop drains the send queue until ctx ends or close is called.
func (c *wsConn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case msg := <-c.out:
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return err
			}
		}
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

// clientSession is the per-socket state shared by both protocols.
type clientSession struct {
	user string
	ws   *wsConn
	sub  *event.Subscriber

	// bufferTimeout is how long events are kept after the socket drops.
	bufferTimeout time.Duration
}

// key returns the player key of guild for this connection.
func (c *clientSession) key(guild string) (player.Key, error) {
	if guild == "" {
		return player.Key{}, &node.InputError{Err: errors.New("missing guildId")}
	}
	return player.Key{UserID: c.user, GuildID: guild}, nil
}

// accept upgrades r and attaches the socket to a new or resumed subscriber.
func (s *Server) accept(w http.ResponseWriter, r *http.Request, mode string, translate func(any) (any, bool)) (*clientSession, bool) {
	user := r.Header.Get(HeaderUserID)
	if user == "" {
		s.writeError(w, r, &node.InputError{Err: errMissingUser})
		return nil, false
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("server: websocket accept failed", "mode", mode, "err", err)
		return nil, false
	}
	ws := newWSConn(conn, translate)
	cs := &clientSession{user: user, ws: ws}

	subs := s.node.Subscribers()
	resumed := false
	if id := r.Header.Get(HeaderResumeID); id != "" {
		cs.sub, resumed = subs.Resume(id, ws)
	} else {
		cs.sub = subs.Connect(ws)
	}
	s.metrics.WebSocketConnections.Add(r.Context(), 1, metricMode(mode))
	s.log.Info("server: websocket connected", "mode", mode, "user", user, "connection", cs.sub.ID(), "resumed", resumed)
	return cs, true
}

// serve runs the read loop of cs until the socket closes, then detaches the
// subscriber, buffering its events when the client asked for it.
func (s *Server) serve(ctx context.Context, cs *clientSession, mode string, handle func(context.Context, *clientSession, []byte)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmdCtx := node.WithSubscriber(ctx, cs.sub.ID(), cs.sub)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := cs.ws.writeLoop(ctx); err != nil && ctx.Err() == nil {
			s.log.Debug("server: websocket write failed", "connection", cs.sub.ID(), "err", err)
		}
	}()

	for {
		_, data, err := cs.ws.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
				s.log.Debug("server: websocket read failed", "connection", cs.sub.ID(), "err", err)
			}
			break
		}
		handle(cmdCtx, cs, data)
	}

	cs.ws.close()
	cancel()
	wg.Wait()
	s.node.Subscribers().Disconnect(cs.sub, cs.bufferTimeout, s.node.Unsubscribe)
	_ = cs.ws.conn.Close(websocket.StatusNormalClosure, "")
	s.metrics.WebSocketConnections.Add(context.Background(), -1, metricMode(mode))
	s.log.Info("server: websocket closed", "mode", mode, "connection", cs.sub.ID(), "buffer", cs.bufferTimeout)
}

// ── Native protocol ─────────────────────────────────────────────────────────

type nativeEnvelope struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

type connectionIDMessage struct {
	Op string `json:"op"`
	ID string `json:"id"`
}

type metadataMessage struct {
	Op   string   `json:"op"`
	Data Metadata `json:"data"`
}

type playerMessage struct {
	Op      string        `json:"op"`
	GuildID string        `json:"guildId"`
	Player  *player.State `json:"player"`
}

type statsMessage struct {
	Op    string     `json:"op"`
	Stats node.Stats `json:"stats"`
}

type errorMessage struct {
	Op      string     `json:"op"`
	GuildID string     `json:"guildId,omitempty"`
	Request string     `json:"request"`
	Error   *ErrorBody `json:"error"`
}

type eventBufferRequest struct {
	Timeout int64 `json:"timeout"` // milliseconds
}

func (s *Server) handleNative(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.accept(w, r, "native", nil)
	if !ok {
		return
	}
	_ = cs.ws.Send(connectionIDMessage{Op: opConnectionID, ID: cs.sub.ID()})
	_ = cs.ws.Send(metadataMessage{Op: opMetadata, Data: s.metadata})
	s.serve(r.Context(), cs, "native", s.handleNativeMessage)
}

func (s *Server) handleNativeMessage(ctx context.Context, cs *clientSession, data []byte) {
	var env nativeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(cs, env, &node.InputError{Err: err})
		return
	}
	log := observe.LoggerFrom(ctx, s.log).With("op", env.Op, "connection", cs.sub.ID())

	switch env.Op {
	case "ping":
		var echo map[string]json.RawMessage
		_ = json.Unmarshal(data, &echo)
		echo["op"] = json.RawMessage(`"` + opPong + `"`)
		_ = cs.ws.Send(echo)
		return
	case "get-stats":
		_ = cs.ws.Send(statsMessage{Op: node.OpStats, Stats: s.node.Stats()})
		return
	case "event-buffer":
		var req eventBufferRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Timeout < 0 {
			s.sendError(cs, env, &node.InputError{Err: errors.New("timeout must be a non-negative number")})
			return
		}
		cs.bufferTimeout = time.Duration(req.Timeout) * time.Millisecond
		log.Debug("server: event buffer set", "timeout", cs.bufferTimeout)
		return
	}

	key, err := cs.key(env.GuildID)
	if err != nil {
		s.sendError(cs, env, err)
		return
	}
	payload, err := stripEnvelope(data)
	if err != nil {
		s.sendError(cs, env, err)
		return
	}

	if env.Op == "get-player" {
		st, err := s.node.Player(ctx, key)
		switch {
		case errors.Is(err, node.ErrNotFound):
		case err != nil:
			s.sendError(cs, env, err)
			return
		}
		_ = cs.ws.Send(playerMessage{Op: opPlayer, GuildID: key.GuildID, Player: st})
		return
	}

	switch env.Op {
	case "voice-server-update":
		var req VoiceServerUpdate
		if err = unmarshalInput(payload, &req); err == nil {
			if req.GuildID == "" {
				req.GuildID = env.GuildID
			}
			err = s.node.VoiceServerUpdate(ctx, key, req.voiceState())
		}
	case "play":
		_, err = runCommand(ctx, payload, key, s.node.Play)
	case "stop":
		_, err = s.node.Stop(ctx, key)
	case "pause":
		_, err = runCommand(ctx, payload, key, s.node.Pause)
	case "seek":
		_, err = runCommand(ctx, payload, key, s.node.Seek)
	case "volume":
		_, err = runCommand(ctx, payload, key, s.node.Volume)
	case "filters":
		_, err = s.node.Filters(ctx, key, payload)
	case "update":
		_, err = runCommand(ctx, payload, key, s.node.Update)
	case "mixer":
		_, err = runCommand(ctx, payload, key, s.node.Mixer)
	case "destroy":
		if _, err := s.node.Destroy(ctx, key); err != nil {
			s.sendError(cs, env, err)
		}
		return
	default:
		log.Debug("server: unknown op")
		return
	}
	if err != nil {
		s.sendError(cs, env, err)
	}
}

func (s *Server) sendError(cs *clientSession, env nativeEnvelope, err error) {
	if statusOf(err) >= http.StatusInternalServerError {
		s.log.Error("server: websocket command failed", "op", env.Op, "guild", env.GuildID, "err", err)
	}
	_ = cs.ws.Send(errorMessage{Op: opError, GuildID: env.GuildID, Request: env.Op, Error: encodeError(err, false)})
}

// runCommand decodes payload into the request type of cmd and runs it.
func runCommand[T any](ctx context.Context, payload json.RawMessage, key player.Key, cmd func(context.Context, player.Key, T) (*player.State, error)) (*player.State, error) {
	var req T
	if err := unmarshalInput(payload, &req); err != nil {
		return nil, err
	}
	return cmd(ctx, key, req)
}

func unmarshalInput(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return &node.InputError{Err: err}
	}
	return nil
}

// stripEnvelope removes the op and guildId keys so the rest of the message
// can be decoded as a command payload.
func stripEnvelope(data []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := unmarshalInput(data, &fields); err != nil {
		return nil, err
	}
	delete(fields, "op")
	delete(fields, "guildId")
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func metricMode(mode string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("mode", mode))
}
