package event

import (
	"log/slog"
	"maps"
	"sync"
)

// Sink receives outgoing messages of one connection.
type Sink interface {
	Send(msg any) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(msg any) error

// Send calls f.
func (f SinkFunc) Send(msg any) error { return f(msg) }

// Emitter delivers the events of one player to its subscribed connections.
type Emitter struct {
	log *slog.Logger

	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewEmitter creates an emitter without subscribers.
func NewEmitter(log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{log: log, sinks: make(map[string]Sink)}
}

// Subscribe registers sink under the connection id, replacing any previous
// sink of that connection.
func (e *Emitter) Subscribe(id string, sink Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks[id] = sink
}

// Unsubscribe removes the connection id.
func (e *Emitter) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sinks, id)
}

// Subscribed reports whether id is subscribed.
func (e *Emitter) Subscribed(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.sinks[id]
	return ok
}

// Len returns the number of subscribers.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sinks)
}

// Emit sends msg to every subscriber. Delivery failures are logged.
func (e *Emitter) Emit(msg any) {
	e.mu.RLock()
	sinks := maps.Clone(e.sinks)
	e.mu.RUnlock()

	for id, s := range sinks {
		if err := s.Send(msg); err != nil {
			e.log.Debug("event: send failed", "connection", id, "err", err)
		}
	}
}
