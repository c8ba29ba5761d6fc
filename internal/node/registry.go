package node

import (
	"sync"

	"github.com/natanbc/andesite/internal/event"
	"github.com/natanbc/andesite/internal/player"
	"github.com/natanbc/andesite/pkg/audio"
)

// Session is the node-side state of one player.
type Session struct {
	Key     player.Key
	Player  *player.Player
	Emitter *event.Emitter

	// voice is only touched on the reactor.
	voice audio.Connection
}

// Registry maps session keys to sessions. It is the only player map shared
// across goroutines.
type Registry struct {
	mu       sync.Mutex
	sessions map[player.Key]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[player.Key]*Session)}
}

// GetOrCreate returns the session of key, calling create exactly once if it
// does not exist. created reports whether this call created it.
func (r *Registry) GetOrCreate(key player.Key, create func() (*Session, error)) (s *Session, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s, false, nil
	}
	s, err = create()
	if err != nil {
		return nil, false, err
	}
	r.sessions[key] = s
	return s, true, nil
}

// Get returns the session of key.
func (r *Registry) Get(key player.Key) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Remove deletes and returns the session of key.
func (r *Registry) Remove(key player.Key) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	return s, ok
}

// All returns every session.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
