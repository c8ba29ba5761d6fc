// Package server binds the node to HTTP: the REST API, the native websocket
// protocol on /websocket and the Lavalink-compatible websocket on /.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/natanbc/andesite/internal/node"
	"github.com/natanbc/andesite/internal/observe"
	"github.com/natanbc/andesite/internal/player"
)

// Headers understood by the server.
const (
	HeaderUserID        = "User-Id"
	HeaderAuthorization = "Authorization"
	HeaderResumeID      = "Andesite-Resume-Id"
)

const maxBody = 1 << 20

// DefaultCompatStatsInterval is how often compatibility clients get stats.
const DefaultCompatStatsInterval = 60 * time.Second

// Metadata is sent to native websocket clients on connect.
type Metadata struct {
	Version        string   `json:"version"`
	NodeID         string   `json:"nodeId,omitempty"`
	NodeRegion     string   `json:"nodeRegion,omitempty"`
	EnabledSources []string `json:"enabledSources"`
}

// Option configures a [Server].
type Option func(*Server)

// WithPassword requires clients to send password in the Authorization header
// or the password query parameter. An empty password disables the check.
func WithPassword(password string) Option {
	return func(s *Server) { s.password.Store(&password) }
}

// WithCompatStatsInterval overrides [DefaultCompatStatsInterval].
func WithCompatStatsInterval(d time.Duration) Option {
	return func(s *Server) { s.compatStats = d }
}

// WithMetadata sets the metadata sent to native clients.
func WithMetadata(m Metadata) Option {
	return func(s *Server) { s.metadata = m }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server serves a [node.Node] over HTTP.
type Server struct {
	node        *node.Node
	password    atomic.Pointer[string]
	compatStats time.Duration
	metadata    Metadata
	metrics     *observe.Metrics
	log         *slog.Logger
}

// New creates a server for n.
func New(n *node.Node, opts ...Option) *Server {
	s := &Server{
		node:        n,
		compatStats: DefaultCompatStatsInterval,
		metadata:    Metadata{Version: "dev", EnabledSources: []string{}},
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetPassword replaces the password of subsequent requests.
func (s *Server) SetPassword(p string) { s.password.Store(&p) }

// Register adds every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stats", s.auth(s.handleStats))
	mux.HandleFunc("GET /stats/lavalink", s.auth(s.handleLavalinkStats))
	mux.HandleFunc("GET /loadtracks", s.auth(s.handleLoadTracks))
	mux.HandleFunc("GET /decodetrack", s.auth(s.handleDecodeTrack))
	mux.HandleFunc("POST /decodetracks", s.auth(s.handleDecodeTracks))

	mux.HandleFunc("POST /player/voice-server-update", s.auth(s.handleVoiceServerUpdate))
	mux.HandleFunc("GET /player/{guild}", s.auth(s.handleGetPlayer))
	mux.HandleFunc("DELETE /player/{guild}", s.auth(s.handleDestroy))
	mux.HandleFunc("POST /player/{guild}/play", s.auth(playerCommand(s, s.node.Play)))
	mux.HandleFunc("POST /player/{guild}/stop", s.auth(s.handleStop))
	mux.HandleFunc("POST /player/{guild}/pause", s.auth(playerCommand(s, s.node.Pause)))
	mux.HandleFunc("POST /player/{guild}/seek", s.auth(playerCommand(s, s.node.Seek)))
	mux.HandleFunc("POST /player/{guild}/volume", s.auth(playerCommand(s, s.node.Volume)))
	mux.HandleFunc("POST /player/{guild}/filters", s.auth(playerCommand(s, s.node.Filters)))
	mux.HandleFunc("POST /player/{guild}/update", s.auth(playerCommand(s, s.node.Update)))
	mux.HandleFunc("POST /player/{guild}/mixer", s.auth(playerCommand(s, s.node.Mixer)))

	mux.HandleFunc("GET /websocket", s.auth(s.handleNative))
	mux.HandleFunc("GET /{$}", s.auth(s.handleCompat))
}

// authorized reports whether r carries the configured password.
func (s *Server) authorized(r *http.Request) bool {
	want := s.password.Load()
	if want == nil || *want == "" {
		return true
	}
	got := r.Header.Get(HeaderAuthorization)
	if got == "" {
		got = r.URL.Query().Get("password")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(*want)) == 1
}

func (s *Server) auth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			s.writeError(w, r, node.ErrUnauthorized)
			return
		}
		h(w, r)
	}
}

// playerKey builds the session key of a player route.
func playerKey(r *http.Request) (player.Key, error) {
	user := r.Header.Get(HeaderUserID)
	if user == "" {
		user = r.URL.Query().Get("user-id")
	}
	if user == "" {
		return player.Key{}, &node.InputError{Err: errMissingUser}
	}
	return player.Key{UserID: user, GuildID: r.PathValue("guild")}, nil
}

// playerCommand adapts a node command taking a JSON payload to a handler.
func playerCommand[T any](s *Server, cmd func(context.Context, player.Key, T) (*player.State, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := playerKey(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var payload T
		if err := decodeBody(w, r, &payload); err != nil {
			s.writeError(w, r, err)
			return
		}
		st, err := cmd(r.Context(), key, payload)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		return &node.InputError{Err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
