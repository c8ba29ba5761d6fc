// Package event fans node events out to listeners and client connections.
//
// The [Dispatcher] carries node lifecycle events to in-process listeners.
// An [Emitter] delivers one player's events to the connections subscribed
// to it, and [Subscribers] keeps a connection's subscriptions alive across
// a reconnect by buffering into a [Buffer] while it is away.
package event

import (
	"fmt"
	"log/slog"
	"sync"
)

// PlayerEvent names a session.
type PlayerEvent struct {
	UserID  string
	GuildID string
}

// WebSocketClosed reports a voice socket closure.
type WebSocketClosed struct {
	UserID   string
	GuildID  string
	Code     int
	Reason   string
	ByRemote bool
}

// listeners is a copy-on-write list, so a snapshot taken under the read lock
// stays valid while listeners are added or removed.
type listeners[T any] struct {
	next    uint64
	entries []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

func (l *listeners[T]) add(fn func(T)) uint64 {
	l.next++
	l.entries = append(l.entries[:len(l.entries):len(l.entries)], listener[T]{id: l.next, fn: fn})
	return l.next
}

func (l *listeners[T]) remove(id uint64) {
	kept := make([]listener[T], 0, len(l.entries))
	for _, e := range l.entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	l.entries = kept
}

// Dispatcher calls registered listeners for node lifecycle events. A
// listener that panics is logged and does not affect the others.
type Dispatcher struct {
	log *slog.Logger

	mu        sync.RWMutex
	created   listeners[PlayerEvent]
	destroyed listeners[PlayerEvent]
	closed    listeners[WebSocketClosed]
}

// NewDispatcher creates a dispatcher logging listener failures to log.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log}
}

// OnPlayerCreated registers fn. The returned func unregisters it.
func (d *Dispatcher) OnPlayerCreated(fn func(PlayerEvent)) (unregister func()) {
	return register(d, &d.created, fn)
}

// OnPlayerDestroyed registers fn. The returned func unregisters it.
func (d *Dispatcher) OnPlayerDestroyed(fn func(PlayerEvent)) (unregister func()) {
	return register(d, &d.destroyed, fn)
}

// OnWebSocketClosed registers fn. The returned func unregisters it.
func (d *Dispatcher) OnWebSocketClosed(fn func(WebSocketClosed)) (unregister func()) {
	return register(d, &d.closed, fn)
}

func register[T any](d *Dispatcher, l *listeners[T], fn func(T)) func() {
	d.mu.Lock()
	id := l.add(fn)
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			l.remove(id)
		})
	}
}

// PlayerCreated notifies listeners.
func (d *Dispatcher) PlayerCreated(ev PlayerEvent) {
	dispatch(d, &d.created, "player-created", ev)
}

// PlayerDestroyed notifies listeners.
func (d *Dispatcher) PlayerDestroyed(ev PlayerEvent) {
	dispatch(d, &d.destroyed, "player-destroyed", ev)
}

// WebSocketClosed notifies listeners.
func (d *Dispatcher) WebSocketClosed(ev WebSocketClosed) {
	dispatch(d, &d.closed, "websocket-closed", ev)
}

func dispatch[T any](d *Dispatcher, l *listeners[T], name string, ev T) {
	d.mu.RLock()
	ls := l.entries
	d.mu.RUnlock()
	for _, e := range ls {
		d.call(name, func() { e.fn(ev) })
	}
}

func (d *Dispatcher) call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event: listener panicked", "event", name, "err", fmt.Sprint(r))
		}
	}()
	fn()
}
