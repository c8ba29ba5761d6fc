package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/natanbc/andesite/pkg/audio"
	"github.com/natanbc/andesite/pkg/track"
)

// Source names.
const (
	SourceWAV = "wav"
)

// Platform names.
const (
	PlatformDiscord = "discord"
)

// ErrNotRegistered is returned when no factory exists for a name.
var ErrNotRegistered = errors.New("config: not registered")

// SourceFactory builds a track decoder from the config.
type SourceFactory func(*Config) (track.Decoder, error)

// PlatformFactory builds a voice platform from the config.
type PlatformFactory func(*Config) (audio.Platform, error)

// Registry maps source and platform names to their constructors. It is safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	sources   map[string]SourceFactory
	platforms map[string]PlatformFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:   make(map[string]SourceFactory),
		platforms: make(map[string]PlatformFactory),
	}
}

// RegisterSource registers a track source. A later registration of the same
// name replaces the earlier one.
func (r *Registry) RegisterSource(name string, f SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = f
}

// RegisterPlatform registers a voice platform.
func (r *Registry) RegisterPlatform(name string, f PlatformFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[name] = f
}

// CreateDecoder builds every enabled source of cfg and chains them in
// [SourcesConfig.Enabled] order.
func (r *Registry) CreateDecoder(cfg *Config) (track.Decoder, error) {
	names := cfg.Sources.Enabled()
	if len(names) == 0 {
		return nil, errors.New("config: no track source enabled")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	decoders := make([]track.Decoder, 0, len(names))
	for _, name := range names {
		f, ok := r.sources[name]
		if !ok {
			return nil, fmt.Errorf("%w: source %q", ErrNotRegistered, name)
		}
		d, err := f(cfg)
		if err != nil {
			return nil, fmt.Errorf("config: create source %q: %w", name, err)
		}
		decoders = append(decoders, d)
	}
	return track.Chain(decoders...), nil
}

// CreatePlatform builds the voice platform called name.
func (r *Registry) CreatePlatform(name string, cfg *Config) (audio.Platform, error) {
	r.mu.RLock()
	f, ok := r.platforms[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: platform %q", ErrNotRegistered, name)
	}
	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create platform %q: %w", name, err)
	}
	return p, nil
}
