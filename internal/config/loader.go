package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error
	nonNegative := func(name string, v int64) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}
	nonNegative("server.compat_stats_interval", int64(cfg.Server.CompatStatsInterval))
	if cfg.Server.Password == "" {
		slog.Warn("server.password is empty; the node accepts unauthenticated clients")
	}

	// Node
	n := cfg.Node
	if n.DefaultSearchPrefix != "" && !strings.HasSuffix(n.DefaultSearchPrefix, ":") {
		errs = append(errs, fmt.Errorf("node.default_search_prefix %q must end with ':'", n.DefaultSearchPrefix))
	}
	for i, p := range n.SearchPrefixes {
		if p == "" || !strings.HasSuffix(p, ":") {
			errs = append(errs, fmt.Errorf("node.search_prefixes[%d] %q must be non-empty and end with ':'", i, p))
		}
	}
	nonNegative("node.frame_buffer", int64(n.FrameBuffer))
	nonNegative("node.workers", int64(n.Workers))
	nonNegative("node.pump_retry", int64(n.PumpRetry))
	nonNegative("node.idle_timeout", int64(n.IdleTimeout))
	nonNegative("node.sweep_interval", int64(n.SweepInterval))
	nonNegative("node.state_interval", int64(n.StateInterval))
	nonNegative("node.track_loading.max_failures", int64(n.TrackLoading.MaxFailures))
	nonNegative("node.track_loading.reset_timeout", int64(n.TrackLoading.ResetTimeout))
	nonNegative("node.track_loading.half_open_max", int64(n.TrackLoading.HalfOpenMax))

	// Discord
	if cfg.Discord.Token == "" {
		slog.Warn("discord.token is empty; voice-server-update requests will fail")
	}

	// Sources
	if cfg.Sources.WAV.Enabled && cfg.Sources.WAV.Root == "" {
		errs = append(errs, errors.New("sources.wav.root is required when the wav source is enabled"))
	}
	if len(cfg.Sources.Enabled()) == 0 {
		errs = append(errs, errors.New("sources: at least one track source must be enabled"))
	}

	return errors.Join(errs...)
}
